package services

import (
	"time"

	"github.com/borderway/rideshare-backend/internal/models"
)

// CommissionRate is the platform commission in percent, applied to the
// seat subtotal and rounded half up to the nearest cent.
const CommissionRate = 15

// Commission returns the platform commission in cents for a seat subtotal
func Commission(subtotal int) int {
	return (subtotal*CommissionRate + 50) / 100
}

// RefundDecision is the outcome of applying the refund policy to a
// passenger cancellation. Amounts are in cents.
type RefundDecision struct {
	RefundAmount        int     // returned to the passenger
	DriverShare         int     // kept for the driver's payout
	HoursUntilDeparture float64 // at the moment the policy was applied
}

// RefundPolicy computes refund splits from the time remaining before the
// trip departs. The policy is applied at the moment of each cancellation
// attempt, so a retry near a bracket boundary may land in a worse bracket.
type RefundPolicy struct {
	FullRefundBefore time.Duration // full refund when further out than this
	HalfRefundBefore time.Duration // half refund when further out than this
}

// NewRefundPolicy returns the standard policy: full refund more than 48
// hours out, half refund between 24 and 48 hours, nothing inside 24 hours.
func NewRefundPolicy() *RefundPolicy {
	return &RefundPolicy{
		FullRefundBefore: 48 * time.Hour,
		HalfRefundBefore: 24 * time.Hour,
	}
}

// Assess applies the policy to a booking at the given instant.
//
// The refund is measured against the total the passenger paid, commission
// included; the driver share against the seat subtotal. In the half
// bracket each side is halved independently with remainders rounded away
// from zero, so the platform absorbs the odd cents rather than either
// party. A departure already in the past counts as inside 24 hours.
func (p *RefundPolicy) Assess(booking *models.Booking, departureAt, now time.Time) RefundDecision {
	remaining := departureAt.Sub(now)
	decision := RefundDecision{
		HoursUntilDeparture: remaining.Hours(),
	}

	switch {
	case remaining > p.FullRefundBefore:
		decision.RefundAmount = booking.TotalAmount
		decision.DriverShare = 0
	case remaining > p.HalfRefundBefore:
		decision.RefundAmount = halfRoundedUp(booking.TotalAmount)
		decision.DriverShare = halfRoundedUp(booking.Subtotal())
	default:
		decision.RefundAmount = 0
		decision.DriverShare = booking.Subtotal()
	}

	return decision
}

// halfRoundedUp halves a cent amount, rounding a leftover half cent away
// from zero
func halfRoundedUp(amount int) int {
	if amount < 0 {
		return -halfRoundedUp(-amount)
	}
	return (amount + 1) / 2
}
