package database

import (
	"time"

	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/google/uuid"
)

// BookingRepository handles database operations for the bookings table
type BookingRepository struct {
	db DB
}

// NewBookingRepository creates a new BookingRepository
func NewBookingRepository(db DB) *BookingRepository {
	return &BookingRepository{db: db}
}

const bookingColumns = `
	id, trip_id, passenger_id, seats_booked, price_per_seat,
	commission_amount, total_amount, status, payment_intent_id,
	transfer_id, refunded_amount, refunded_at, cancelled_by,
	estimated_budget, estimated_savings, created_at, paid_at
`

// Create inserts a new booking inside the caller's transaction
func (r *BookingRepository) Create(q Queryer, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, trip_id, passenger_id, seats_booked, price_per_seat,
			commission_amount, total_amount, status, estimated_budget,
			estimated_savings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`

	if booking.ID == "" {
		booking.ID = uuid.New().String()
	}

	return q.QueryRow(
		query,
		booking.ID, booking.TripID, booking.PassengerID, booking.SeatsBooked,
		booking.PricePerSeat, booking.CommissionAmount, booking.TotalAmount,
		booking.Status, booking.EstimatedBudget, booking.EstimatedSavings,
	).Scan(&booking.CreatedAt)
}

// GetByID retrieves a booking by ID
func (r *BookingRepository) GetByID(bookingID string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	booking := &models.Booking{}
	if err := r.db.Get(booking, query, bookingID); err != nil {
		return nil, err
	}
	return booking, nil
}

// GetByIDForUpdate retrieves a booking by ID with a row lock, inside the
// caller's transaction. Every ledger transition starts here so that
// concurrent transitions on the same booking serialize.
func (r *BookingRepository) GetByIDForUpdate(q Queryer, bookingID string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

	booking := &models.Booking{}
	if err := q.Get(booking, query, bookingID); err != nil {
		return nil, err
	}
	return booking, nil
}

// GetByPaymentIntentID retrieves a booking by its payment intent reference.
// Used by webhook reconciliation; a missing row means the event belongs to
// no known booking.
func (r *BookingRepository) GetByPaymentIntentID(intentID string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE payment_intent_id = $1`

	booking := &models.Booking{}
	if err := r.db.Get(booking, query, intentID); err != nil {
		return nil, err
	}
	return booking, nil
}

// GetByTripID retrieves all bookings for a trip, newest first
func (r *BookingRepository) GetByTripID(tripID string) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE trip_id = $1
		ORDER BY created_at DESC
	`

	bookings := []models.Booking{}
	if err := r.db.Select(&bookings, query, tripID); err != nil {
		return nil, err
	}
	return bookings, nil
}

// GetByPassengerID retrieves all bookings made by a passenger, newest first
func (r *BookingRepository) GetByPassengerID(passengerID string) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE passenger_id = $1
		ORDER BY created_at DESC
	`

	bookings := []models.Booking{}
	if err := r.db.Select(&bookings, query, passengerID); err != nil {
		return nil, err
	}
	return bookings, nil
}

// HasActiveBooking reports whether the passenger already holds a pending
// or paid booking on any trip that is still running. One active trip per
// passenger at a time.
func (r *BookingRepository) HasActiveBooking(q Queryer, passengerID string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM bookings b
		JOIN trips t ON t.id = b.trip_id
		WHERE b.passenger_id = $1
		  AND b.status IN ('pending', 'paid')
		  AND t.status NOT IN ('completed', 'cancelled')
	`

	var count int
	if err := q.QueryRow(query, passengerID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// CountNonTerminal returns how many bookings on the trip have not yet
// reached a final status
func (r *BookingRepository) CountNonTerminal(q Queryer, tripID string) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM bookings
		WHERE trip_id = $1
		  AND status IN ('pending', 'paid')
	`

	var count int
	if err := q.QueryRow(query, tripID).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// SetPaymentIntentID records the gateway payment intent backing the booking
func (r *BookingRepository) SetPaymentIntentID(q Queryer, bookingID, intentID string) error {
	query := `UPDATE bookings SET payment_intent_id = $2 WHERE id = $1`

	result, err := q.Exec(query, bookingID, intentID)
	if err != nil {
		return err
	}
	return requireRowsAffected(result, "booking not found")
}

// MarkPaid transitions a pending booking to paid. The status guard keeps
// the transition idempotent under webhook redelivery and confirm races.
func (r *BookingRepository) MarkPaid(q Queryer, bookingID string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'paid', paid_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`

	result, err := q.Exec(query, bookingID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkFailed transitions a pending booking to failed
func (r *BookingRepository) MarkFailed(q Queryer, bookingID string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'failed'
		WHERE id = $1 AND status = 'pending'
	`

	result, err := q.Exec(query, bookingID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkCompleted transitions a paid booking to completed
func (r *BookingRepository) MarkCompleted(q Queryer, bookingID string) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'completed'
		WHERE id = $1 AND status = 'paid'
	`

	result, err := q.Exec(query, bookingID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ClaimCancellation stamps refunded_at on a paid booking if no other
// cancellation has claimed it yet. Concurrent cancel attempts collapse
// onto a single winner; the losers see zero rows affected.
func (r *BookingRepository) ClaimCancellation(q Queryer, bookingID string) (bool, error) {
	query := `
		UPDATE bookings
		SET refunded_at = NOW()
		WHERE id = $1 AND status = 'paid' AND refunded_at IS NULL
	`

	result, err := q.Exec(query, bookingID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ReleaseCancellationClaim clears refunded_at on a still-paid booking so a
// later cancel attempt can retry after a gateway timeout
func (r *BookingRepository) ReleaseCancellationClaim(q Queryer, bookingID string) error {
	query := `
		UPDATE bookings
		SET refunded_at = NULL
		WHERE id = $1 AND status = 'paid'
	`

	_, err := q.Exec(query, bookingID)
	return err
}

// MarkCancelled finalizes a passenger cancellation on a claimed paid booking
func (r *BookingRepository) MarkCancelled(q Queryer, bookingID string, refundedAmount int) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'cancelled', refunded_amount = $2, cancelled_by = 'passenger'
		WHERE id = $1 AND status = 'paid'
	`

	result, err := q.Exec(query, bookingID, refundedAmount)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// MarkRefunded finalizes a driver cancellation on a paid booking
func (r *BookingRepository) MarkRefunded(q Queryer, bookingID string, refundedAmount int) (bool, error) {
	query := `
		UPDATE bookings
		SET status = 'refunded', refunded_amount = $2, refunded_at = NOW(),
		    cancelled_by = 'driver'
		WHERE id = $1 AND status = 'paid'
	`

	result, err := q.Exec(query, bookingID, refundedAmount)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// SetTransferID records the payout transfer on a booking. The NULL guard
// makes the sweep safe to re-run: a booking is paid out at most once.
func (r *BookingRepository) SetTransferID(q Queryer, bookingID, transferID string) (bool, error) {
	query := `
		UPDATE bookings
		SET transfer_id = $2
		WHERE id = $1 AND transfer_id IS NULL
	`

	result, err := q.Exec(query, bookingID, transferID)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListPayoutEligible returns paid or completed bookings whose trip
// returned before the cutoff and which have not been paid out yet.
// Completed bookings are included so a transfer that failed at
// completion time is retried by the sweep.
func (r *BookingRepository) ListPayoutEligible(cutoff time.Time, limit int) ([]models.Booking, error) {
	query := `
		SELECT b.id, b.trip_id, b.passenger_id, b.seats_booked, b.price_per_seat,
		       b.commission_amount, b.total_amount, b.status, b.payment_intent_id,
		       b.transfer_id, b.refunded_amount, b.refunded_at, b.cancelled_by,
		       b.estimated_budget, b.estimated_savings, b.created_at, b.paid_at
		FROM bookings b
		JOIN trips t ON t.id = b.trip_id
		WHERE b.status IN ('paid', 'completed')
		  AND b.transfer_id IS NULL
		  AND t.return_at < $1
		ORDER BY t.return_at
		LIMIT $2
	`

	bookings := []models.Booking{}
	if err := r.db.Select(&bookings, query, cutoff, limit); err != nil {
		return nil, err
	}
	return bookings, nil
}

// Delete removes a booking. Only used to roll back a creation whose
// payment intent could not be opened.
func (r *BookingRepository) Delete(q Queryer, bookingID string) error {
	query := `DELETE FROM bookings WHERE id = $1`

	result, err := q.Exec(query, bookingID)
	if err != nil {
		return err
	}
	return requireRowsAffected(result, "booking not found")
}
