package models

import (
	"errors"
	"time"
)

// BookingStatus represents the status of a booking.
//
// Transitions are one-way:
//
//	pending -> paid -> completed
//	pending -> failed
//	paid    -> cancelled (passenger) | refunded (driver)
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusPaid      BookingStatus = "paid"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusRefunded  BookingStatus = "refunded"
	BookingStatusFailed    BookingStatus = "failed"
)

// CancelledBy identifies which actor cancelled a booking
type CancelledBy string

const (
	CancelledByPassenger CancelledBy = "passenger"
	CancelledByDriver    CancelledBy = "driver"
)

// Booking represents a passenger's seat reservation and its payment state.
// All monetary amounts are in minor currency units (cents). PricePerSeat is
// snapshotted from the trip at creation and never changes afterwards.
type Booking struct {
	ID               string        `json:"id" db:"id"`
	TripID           string        `json:"trip_id" db:"trip_id"`
	PassengerID      string        `json:"passenger_id" db:"passenger_id"`
	SeatsBooked      int           `json:"seats_booked" db:"seats_booked"`
	PricePerSeat     int           `json:"price_per_seat" db:"price_per_seat"`
	CommissionAmount int           `json:"commission_amount" db:"commission_amount"`
	TotalAmount      int           `json:"total_amount" db:"total_amount"`
	Status           BookingStatus `json:"status" db:"status"`
	PaymentIntentID  *string       `json:"payment_intent_id,omitempty" db:"payment_intent_id"`
	TransferID       *string       `json:"transfer_id,omitempty" db:"transfer_id"`
	RefundedAmount   *int          `json:"refunded_amount,omitempty" db:"refunded_amount"`
	RefundedAt       *time.Time    `json:"refunded_at,omitempty" db:"refunded_at"`
	CancelledBy      *CancelledBy  `json:"cancelled_by,omitempty" db:"cancelled_by"`
	EstimatedBudget  *int          `json:"estimated_budget,omitempty" db:"estimated_budget"`
	EstimatedSavings *int          `json:"estimated_savings,omitempty" db:"estimated_savings"`
	CreatedAt        time.Time     `json:"created_at" db:"created_at"`
	PaidAt           *time.Time    `json:"paid_at,omitempty" db:"paid_at"`
}

// Subtotal returns the driver's share of the booking (price excluding commission)
func (b *Booking) Subtotal() int {
	return b.PricePerSeat * b.SeatsBooked
}

// IsTerminal reports whether the booking has reached a final status.
// A paid booking is not terminal: it still awaits completion or cancellation.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case BookingStatusCompleted, BookingStatusCancelled, BookingStatusRefunded, BookingStatusFailed:
		return true
	}
	return false
}

// HoldsSeats reports whether the booking's seats are reflected in the
// trip's available-seat counter.
func (b *Booking) HoldsSeats() bool {
	return b.Status == BookingStatusPaid || b.Status == BookingStatusCompleted
}

// CreateBookingRequest represents the request to create a booking
type CreateBookingRequest struct {
	TripID          string `json:"trip_id" binding:"required"`
	Seats           int    `json:"seats" binding:"required"`
	EstimatedBudget *int   `json:"estimated_budget,omitempty"`
}

// Validate validates the create booking request
func (r *CreateBookingRequest) Validate() error {
	if r.Seats < 1 {
		return errors.New("seats must be at least 1")
	}
	return nil
}

// CreateBookingResponse is returned after booking creation with the
// client secret the passenger uses to complete the payment.
type CreateBookingResponse struct {
	BookingID    string `json:"booking_id"`
	ClientSecret string `json:"client_secret"`
	Amount       int    `json:"amount"`
	Commission   int    `json:"commission"`
	Subtotal     int    `json:"subtotal"`
}

// ConfirmBookingResponse is returned when a booking reaches paid status
type ConfirmBookingResponse struct {
	BookingID      string        `json:"booking_id"`
	Status         BookingStatus `json:"status"`
	ConversationID *string       `json:"conversation_id,omitempty"`
}

// CancelBookingResponse is returned after a passenger cancellation
type CancelBookingResponse struct {
	BookingID           string  `json:"booking_id"`
	RefundedAmount      int     `json:"refunded_amount"`
	DriverReceives      int     `json:"driver_receives"`
	HoursUntilDeparture float64 `json:"hours_until_departure"`
}

// CompleteBookingResponse is returned after the passenger confirms completion
type CompleteBookingResponse struct {
	BookingID string `json:"booking_id"`
	CanReview bool   `json:"can_review"`
}

// BookingDetails aggregates a booking with its trip, the two participants
// and the conversation opened between them
type BookingDetails struct {
	Booking        *Booking    `json:"booking"`
	Trip           *Trip       `json:"trip"`
	Driver         UserSummary `json:"driver"`
	Passenger      UserSummary `json:"passenger"`
	ConversationID *string     `json:"conversation_id,omitempty"`
}

// TripCancellationReport summarizes a driver-initiated trip cancellation.
// Refund failures are counted rather than aborting the batch.
type TripCancellationReport struct {
	TripID           string   `json:"trip_id"`
	BookingsRefunded int      `json:"bookings_refunded"`
	RefundFailures   int      `json:"refund_failures"`
	FailureReasons   []string `json:"failure_reasons,omitempty"`
}
