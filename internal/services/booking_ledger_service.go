package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/borderway/rideshare-backend/internal/database"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// BookingLedgerService drives the booking lifecycle: creation with a
// payment intent, settlement to paid, cancellation with refunds, and
// completion. Every transition runs in two phases so no database lock is
// ever held across a gateway call: a first transaction validates and
// claims the transition, the gateway call happens outside any
// transaction, and a second transaction re-validates before committing
// the outcome.
type BookingLedgerService struct {
	db            database.DB
	bookings      *database.BookingRepository
	trips         *database.TripRepository
	users         *database.UserRepository
	conversations *database.ConversationRepository
	gateway       PaymentGateway
	policy        *RefundPolicy
	currency      string
	logger        *logrus.Logger
	now           func() time.Time
}

// NewBookingLedgerService creates a new BookingLedgerService
func NewBookingLedgerService(
	db database.DB,
	bookings *database.BookingRepository,
	trips *database.TripRepository,
	users *database.UserRepository,
	conversations *database.ConversationRepository,
	gateway PaymentGateway,
	policy *RefundPolicy,
	currency string,
	logger *logrus.Logger,
) *BookingLedgerService {
	return &BookingLedgerService{
		db:            db,
		bookings:      bookings,
		trips:         trips,
		users:         users,
		conversations: conversations,
		gateway:       gateway,
		policy:        policy,
		currency:      currency,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateBooking reserves a booking in pending status and opens a payment
// intent for its total. Seats are only checked here, not taken; a booking
// holds seats from the moment it is paid. If the gateway rejects the
// intent the pending booking is removed so the passenger can retry clean.
func (s *BookingLedgerService) CreateBooking(ctx context.Context, passengerID string, req *models.CreateBookingRequest) (*models.CreateBookingResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, models.NewInvalidArgument(err.Error())
	}

	booking := &models.Booking{}

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	trip, err := s.trips.GetByIDForUpdate(tx, req.TripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("trip not found")
		}
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}

	if !trip.IsBookable() {
		return nil, models.NewInvalidState("trip is not open for booking")
	}
	if trip.DriverID == passengerID {
		return nil, models.NewForbidden("drivers cannot book their own trip")
	}
	if !trip.DepartureAt.After(s.now()) {
		return nil, models.NewInvalidState("trip has already departed")
	}
	if trip.AvailableSeats < req.Seats {
		return nil, models.NewInvalidArgument("not enough seats available")
	}

	hasActive, err := s.bookings.HasActiveBooking(tx, passengerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing bookings: %w", err)
	}
	if hasActive {
		return nil, models.NewConflict("you already have an active booking on another trip")
	}

	subtotal := trip.PricePerSeat * req.Seats
	commission := Commission(subtotal)
	total := subtotal + commission

	booking.TripID = trip.ID
	booking.PassengerID = passengerID
	booking.SeatsBooked = req.Seats
	booking.PricePerSeat = trip.PricePerSeat
	booking.CommissionAmount = commission
	booking.TotalAmount = total
	booking.Status = models.BookingStatusPending
	booking.EstimatedBudget = req.EstimatedBudget
	if req.EstimatedBudget != nil && *req.EstimatedBudget > total {
		savings := *req.EstimatedBudget - total
		booking.EstimatedSavings = &savings
	}

	if err := s.bookings.Create(tx, booking); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit booking: %w", err)
	}

	intent, err := s.gateway.CreateIntent(ctx, CreateIntentParams{
		Amount:      total,
		Currency:    s.currency,
		BookingID:   booking.ID,
		Description: fmt.Sprintf("%s to %s, %d seat(s)", trip.DepartureCity, trip.DestinationCity, req.Seats),
	})
	if err != nil {
		// No intent means the passenger can never pay this booking;
		// remove it rather than leave a dead pending row
		if delErr := s.bookings.Delete(s.db, booking.ID); delErr != nil {
			s.logger.WithError(delErr).WithField("booking_id", booking.ID).
				Error("Failed to remove booking after intent failure")
		}
		return nil, err
	}

	if err := s.bookings.SetPaymentIntentID(s.db, booking.ID, intent.ID); err != nil {
		return nil, fmt.Errorf("failed to attach payment intent: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":        booking.ID,
		"trip_id":           trip.ID,
		"passenger_id":      passengerID,
		"seats":             req.Seats,
		"total":             total,
		"commission":        commission,
		"payment_intent_id": intent.ID,
	}).Info("Booking created")

	return &models.CreateBookingResponse{
		BookingID:    booking.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       total,
		Commission:   commission,
		Subtotal:     subtotal,
	}, nil
}

// ConfirmBooking checks the payment intent with the gateway and settles
// the booking when the charge succeeded. Confirming an already paid
// booking is a no-op success so clients can safely retry.
func (s *BookingLedgerService) ConfirmBooking(ctx context.Context, passengerID, bookingID string) (*models.ConfirmBookingResponse, error) {
	booking, err := s.bookings.GetByID(bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking.PassengerID != passengerID {
		return nil, models.NewForbidden("booking belongs to another passenger")
	}

	if booking.Status == models.BookingStatusPaid || booking.Status == models.BookingStatusCompleted {
		return s.confirmResponse(booking)
	}
	if booking.IsTerminal() {
		return nil, models.NewInvalidState(fmt.Sprintf("booking is %s", booking.Status))
	}
	if booking.PaymentIntentID == nil {
		return nil, models.NewInvalidState("booking has no payment intent")
	}

	intent, err := s.gateway.GetIntent(ctx, *booking.PaymentIntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != "succeeded" {
		return nil, models.NewTooEarly("payment has not completed yet")
	}

	if _, err := s.SettlePayment(ctx, booking.ID); err != nil {
		return nil, err
	}

	booking, err = s.bookings.GetByID(bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload booking: %w", err)
	}
	return s.confirmResponse(booking)
}

func (s *BookingLedgerService) confirmResponse(booking *models.Booking) (*models.ConfirmBookingResponse, error) {
	resp := &models.ConfirmBookingResponse{
		BookingID: booking.ID,
		Status:    booking.Status,
	}
	conv, err := s.conversations.GetByBookingID(booking.ID)
	if err == nil {
		resp.ConversationID = &conv.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return resp, nil
}

// SettlePayment moves a pending booking to paid, takes its seats and
// opens the driver-passenger conversation, all in one transaction. It is
// idempotent: settling an already paid booking changes nothing, so the
// confirm endpoint and a redelivered webhook can both call it.
//
// When the seats were sold to someone else while the charge was in
// flight, the charge is refunded in full and the booking marked failed.
func (s *BookingLedgerService) SettlePayment(ctx context.Context, bookingID string) (*models.Conversation, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := s.bookings.GetByIDForUpdate(tx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}

	if booking.Status == models.BookingStatusPaid || booking.Status == models.BookingStatusCompleted {
		conv, err := s.conversations.GetByBookingID(booking.ID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to load conversation: %w", err)
		}
		return conv, nil
	}
	if booking.Status != models.BookingStatusPending {
		return nil, models.NewInvalidState(fmt.Sprintf("booking is %s", booking.Status))
	}

	trip, err := s.trips.GetByIDForUpdate(tx, booking.TripID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}

	taken, err := s.trips.DecrementSeats(tx, trip.ID, booking.SeatsBooked)
	if err != nil {
		return nil, fmt.Errorf("failed to take seats: %w", err)
	}
	if !taken {
		// Seats are gone; release the lock, then compensate the charge
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return nil, fmt.Errorf("failed to rollback: %w", rbErr)
		}
		return nil, s.refundOversoldBooking(ctx, booking)
	}

	if _, err := s.bookings.MarkPaid(tx, booking.ID); err != nil {
		return nil, fmt.Errorf("failed to mark booking paid: %w", err)
	}

	conv := &models.Conversation{
		BookingID:   booking.ID,
		DriverID:    trip.DriverID,
		PassengerID: booking.PassengerID,
	}
	if err := s.conversations.Create(tx, conv); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":      booking.ID,
		"trip_id":         trip.ID,
		"conversation_id": conv.ID,
	}).Info("Booking settled as paid")

	return conv, nil
}

// refundOversoldBooking compensates a successful charge on a booking
// whose seats were sold out from under it
func (s *BookingLedgerService) refundOversoldBooking(ctx context.Context, booking *models.Booking) error {
	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"trip_id":    booking.TripID,
	}).Warn("Seats sold out before settlement, refunding charge")

	if booking.PaymentIntentID != nil {
		if _, err := s.gateway.RefundPayment(ctx, RefundParams{
			PaymentIntentID: *booking.PaymentIntentID,
		}); err != nil {
			// Leave the booking pending so a later settle attempt
			// retries the compensation instead of losing the charge
			return err
		}
	}

	if _, err := s.bookings.MarkFailed(s.db, booking.ID); err != nil {
		return fmt.Errorf("failed to mark booking failed: %w", err)
	}
	return models.NewConflict("seats sold out before payment completed")
}

// FailPayment marks a pending booking failed after a declined charge.
// Failure events on bookings that already settled are logged and dropped;
// success reported by the gateway outranks a stale failure.
func (s *BookingLedgerService) FailPayment(ctx context.Context, bookingID string) error {
	marked, err := s.bookings.MarkFailed(s.db, bookingID)
	if err != nil {
		return fmt.Errorf("failed to mark booking failed: %w", err)
	}
	if !marked {
		s.logger.WithField("booking_id", bookingID).
			Info("Ignoring payment failure on non-pending booking")
	}
	return nil
}

// CancelBooking cancels a paid booking at the passenger's request and
// refunds per the refund policy bracket in force right now.
//
// The cancellation is claimed first by stamping refunded_at, so two
// racing cancel requests collapse to one refund. The claim is released
// if the gateway call times out or fails, letting the passenger retry;
// the policy is re-assessed on retry, so the bracket may have worsened.
func (s *BookingLedgerService) CancelBooking(ctx context.Context, passengerID, bookingID string) (*models.CancelBookingResponse, error) {
	booking, trip, decision, err := s.claimCancellation(passengerID, bookingID)
	if err != nil {
		return nil, err
	}

	if decision.RefundAmount > 0 {
		if _, err := s.gateway.RefundPayment(ctx, RefundParams{
			PaymentIntentID: *booking.PaymentIntentID,
			Amount:          decision.RefundAmount,
		}); err != nil {
			if relErr := s.bookings.ReleaseCancellationClaim(s.db, booking.ID); relErr != nil {
				s.logger.WithError(relErr).WithField("booking_id", booking.ID).
					Error("Failed to release cancellation claim")
			}
			return nil, err
		}
	}

	if err := s.finalizeCancellation(booking, decision.RefundAmount); err != nil {
		return nil, err
	}

	if decision.DriverShare > 0 {
		s.payoutCancelledShare(ctx, booking, trip, decision.DriverShare)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":      booking.ID,
		"trip_id":         trip.ID,
		"refunded_amount": decision.RefundAmount,
		"driver_share":    decision.DriverShare,
		"hours_out":       decision.HoursUntilDeparture,
	}).Info("Booking cancelled by passenger")

	return &models.CancelBookingResponse{
		BookingID:           booking.ID,
		RefundedAmount:      decision.RefundAmount,
		DriverReceives:      decision.DriverShare,
		HoursUntilDeparture: decision.HoursUntilDeparture,
	}, nil
}

// claimCancellation validates a passenger cancellation and stamps the
// claim, all under a row lock
func (s *BookingLedgerService) claimCancellation(passengerID, bookingID string) (*models.Booking, *models.Trip, RefundDecision, error) {
	var decision RefundDecision

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, nil, decision, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := s.bookings.GetByIDForUpdate(tx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, decision, models.NewNotFound("booking not found")
		}
		return nil, nil, decision, fmt.Errorf("failed to load booking: %w", err)
	}

	if booking.PassengerID != passengerID {
		return nil, nil, decision, models.NewForbidden("booking belongs to another passenger")
	}
	if booking.Status != models.BookingStatusPaid {
		return nil, nil, decision, models.NewInvalidState(fmt.Sprintf("booking is %s, only paid bookings can be cancelled", booking.Status))
	}
	if booking.RefundedAt != nil {
		return nil, nil, decision, models.NewConflict("a cancellation is already in progress")
	}
	if booking.PaymentIntentID == nil {
		return nil, nil, decision, models.NewInvalidState("booking has no payment intent")
	}

	trip, err := s.trips.GetByIDForUpdate(tx, booking.TripID)
	if err != nil {
		return nil, nil, decision, fmt.Errorf("failed to load trip: %w", err)
	}

	decision = s.policy.Assess(booking, trip.DepartureAt, s.now())

	claimed, err := s.bookings.ClaimCancellation(tx, booking.ID)
	if err != nil {
		return nil, nil, decision, fmt.Errorf("failed to claim cancellation: %w", err)
	}
	if !claimed {
		return nil, nil, decision, models.NewConflict("a cancellation is already in progress")
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, decision, fmt.Errorf("failed to commit claim: %w", err)
	}
	return booking, trip, decision, nil
}

// finalizeCancellation commits the cancelled status and returns the seats
func (s *BookingLedgerService) finalizeCancellation(booking *models.Booking, refundedAmount int) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := s.bookings.GetByIDForUpdate(tx, booking.ID)
	if err != nil {
		return fmt.Errorf("failed to reload booking: %w", err)
	}
	if current.Status != models.BookingStatusPaid {
		return models.NewInvalidState(fmt.Sprintf("booking moved to %s during cancellation", current.Status))
	}

	if _, err := s.bookings.MarkCancelled(tx, booking.ID, refundedAmount); err != nil {
		return fmt.Errorf("failed to mark booking cancelled: %w", err)
	}
	if err := s.trips.IncrementSeats(tx, booking.TripID, booking.SeatsBooked); err != nil {
		return fmt.Errorf("failed to return seats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}
	return nil
}

// payoutCancelledShare transfers the driver's share of a late
// cancellation. Best effort: the refund already went through, so a
// transfer failure is logged and left for support rather than undoing
// the cancellation. The idempotency key keeps retries from paying twice.
func (s *BookingLedgerService) payoutCancelledShare(ctx context.Context, booking *models.Booking, trip *models.Trip, amount int) {
	driver, err := s.users.GetByID(trip.DriverID)
	if err != nil {
		s.logger.WithError(err).WithField("driver_id", trip.DriverID).
			Error("Failed to load driver for cancellation payout")
		return
	}
	if !driver.HasPayoutAccount() {
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"driver_id":  driver.ID,
		}).Warn("Driver has no payout account, cancellation share unpaid")
		return
	}

	transfer, err := s.gateway.TransferToAccount(ctx, TransferParams{
		Amount:         amount,
		Currency:       s.currency,
		Destination:    *driver.StripeAccountID,
		IdempotencyKey: "cancel-payout-" + booking.ID,
		BookingID:      booking.ID,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"driver_id":  driver.ID,
			"amount":     amount,
		}).Error("Failed to transfer cancellation share to driver")
		return
	}

	if _, err := s.bookings.SetTransferID(s.db, booking.ID, transfer.ID); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).
			Error("Failed to record cancellation transfer")
	}
}

// CancelTrip cancels a driver's trip and refunds every paid booking in
// full. Refund failures do not abort the batch: the affected bookings
// are still marked refunded for consistency, and each failure is counted
// in the report for manual follow-up.
func (s *BookingLedgerService) CancelTrip(ctx context.Context, driverID, tripID string) (*models.TripCancellationReport, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	trip, err := s.trips.GetByIDForUpdate(tx, tripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("trip not found")
		}
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}
	if trip.DriverID != driverID {
		return nil, models.NewForbidden("trip belongs to another driver")
	}
	if trip.IsTerminal() {
		return nil, models.NewInvalidState(fmt.Sprintf("trip is %s", trip.Status))
	}

	if err := s.trips.UpdateStatus(tx, trip.ID, models.TripStatusCancelled); err != nil {
		return nil, fmt.Errorf("failed to cancel trip: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit trip cancellation: %w", err)
	}

	report := &models.TripCancellationReport{TripID: trip.ID}

	bookings, err := s.bookings.GetByTripID(trip.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trip bookings: %w", err)
	}

	for i := range bookings {
		booking := &bookings[i]
		switch booking.Status {
		case models.BookingStatusPending:
			// A pending booking on a cancelled trip can never settle
			if _, err := s.bookings.MarkFailed(s.db, booking.ID); err != nil {
				s.logger.WithError(err).WithField("booking_id", booking.ID).
					Error("Failed to fail pending booking on cancelled trip")
			}
		case models.BookingStatusPaid:
			s.refundCancelledTripBooking(ctx, booking, report)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":           trip.ID,
		"driver_id":         driverID,
		"bookings_refunded": report.BookingsRefunded,
		"refund_failures":   report.RefundFailures,
	}).Info("Trip cancelled by driver")

	return report, nil
}

// refundCancelledTripBooking refunds one paid booking of a cancelled trip
func (s *BookingLedgerService) refundCancelledTripBooking(ctx context.Context, booking *models.Booking, report *models.TripCancellationReport) {
	// Claim so a racing passenger cancellation does not double refund
	claimed, err := s.bookings.ClaimCancellation(s.db, booking.ID)
	if err != nil {
		report.RefundFailures++
		report.FailureReasons = append(report.FailureReasons, fmt.Sprintf("%s: %v", booking.ID, err))
		return
	}
	if !claimed {
		s.logger.WithField("booking_id", booking.ID).
			Info("Skipping booking already being cancelled")
		return
	}

	if booking.PaymentIntentID != nil {
		if _, err := s.gateway.RefundPayment(ctx, RefundParams{
			PaymentIntentID: *booking.PaymentIntentID,
			Amount:          booking.TotalAmount,
		}); err != nil {
			report.RefundFailures++
			report.FailureReasons = append(report.FailureReasons, fmt.Sprintf("%s: %v", booking.ID, err))
			s.logger.WithError(err).WithField("booking_id", booking.ID).
				Error("Refund failed for cancelled trip booking")
		}
	}

	// Marked refunded even when the gateway call failed: the trip is
	// gone either way and the report flags the money for follow-up
	if _, err := s.bookings.MarkRefunded(s.db, booking.ID, booking.TotalAmount); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).
			Error("Failed to mark booking refunded")
		return
	}
	report.BookingsRefunded++
}

// CompleteBooking records the passenger's confirmation that the trip
// happened, then pays out the driver's share. When it is the trip's
// last open booking the trip itself moves to completed.
func (s *BookingLedgerService) CompleteBooking(ctx context.Context, passengerID, bookingID string) (*models.CompleteBookingResponse, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	booking, err := s.bookings.GetByIDForUpdate(tx, bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking.PassengerID != passengerID {
		return nil, models.NewForbidden("booking belongs to another passenger")
	}
	if booking.Status != models.BookingStatusPaid {
		return nil, models.NewInvalidState(fmt.Sprintf("booking is %s, only paid bookings can be completed", booking.Status))
	}

	trip, err := s.trips.GetByIDForUpdate(tx, booking.TripID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}
	if trip.ReturnAt.After(s.now()) {
		return nil, models.NewTooEarly("trip has not returned yet")
	}

	if _, err := s.bookings.MarkCompleted(tx, booking.ID); err != nil {
		return nil, fmt.Errorf("failed to mark booking completed: %w", err)
	}

	open, err := s.bookings.CountNonTerminal(tx, trip.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count open bookings: %w", err)
	}
	if open == 0 && trip.Status == models.TripStatusPublished {
		if err := s.trips.UpdateStatus(tx, trip.ID, models.TripStatusCompleted); err != nil {
			return nil, fmt.Errorf("failed to complete trip: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit completion: %w", err)
	}

	if booking.TransferID == nil {
		s.payoutCompletedBooking(ctx, booking, trip)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"trip_id":    trip.ID,
	}).Info("Booking completed")

	return &models.CompleteBookingResponse{
		BookingID: booking.ID,
		CanReview: true,
	}, nil
}

// payoutCompletedBooking transfers the driver's share once the passenger
// confirmed the trip. The completion is already committed, so a transfer
// failure is logged and left for the payout sweep to retry; the shared
// idempotency key keeps the sweep from paying twice.
func (s *BookingLedgerService) payoutCompletedBooking(ctx context.Context, booking *models.Booking, trip *models.Trip) {
	driver, err := s.users.GetByID(trip.DriverID)
	if err != nil {
		s.logger.WithError(err).WithField("driver_id", trip.DriverID).
			Error("Failed to load driver for completion payout")
		return
	}
	if !driver.HasPayoutAccount() {
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"driver_id":  driver.ID,
		}).Warn("Driver has no payout account, completion payout deferred")
		return
	}

	transfer, err := s.gateway.TransferToAccount(ctx, TransferParams{
		Amount:         booking.Subtotal(),
		Currency:       s.currency,
		Destination:    *driver.StripeAccountID,
		IdempotencyKey: "payout-" + booking.ID,
		BookingID:      booking.ID,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"driver_id":  driver.ID,
			"amount":     booking.Subtotal(),
		}).Error("Completion payout transfer failed, leaving booking for the sweep")
		return
	}

	if _, err := s.bookings.SetTransferID(s.db, booking.ID, transfer.ID); err != nil {
		s.logger.WithError(err).WithField("booking_id", booking.ID).
			Error("Failed to record completion transfer")
	}
}

// GetBooking returns a booking visible to the requester: its passenger
// or the trip's driver
func (s *BookingLedgerService) GetBooking(userID, bookingID string) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking.PassengerID != userID {
		trip, err := s.trips.GetByID(booking.TripID)
		if err != nil {
			return nil, fmt.Errorf("failed to load trip: %w", err)
		}
		if trip.DriverID != userID {
			return nil, models.NewForbidden("booking belongs to another passenger")
		}
	}
	return booking, nil
}

// GetBookingDetails returns the booking with its trip, both participants
// and the conversation id, visible to the passenger or the trip's driver
func (s *BookingLedgerService) GetBookingDetails(userID, bookingID string) (*models.BookingDetails, error) {
	booking, err := s.bookings.GetByID(bookingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("booking not found")
		}
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}

	trip, err := s.trips.GetByID(booking.TripID)
	if err != nil {
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}
	if booking.PassengerID != userID && trip.DriverID != userID {
		return nil, models.NewForbidden("booking belongs to another passenger")
	}

	driver, err := s.users.GetByID(trip.DriverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load driver: %w", err)
	}
	passenger, err := s.users.GetByID(booking.PassengerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load passenger: %w", err)
	}

	details := &models.BookingDetails{
		Booking:   booking,
		Trip:      trip,
		Driver:    driver.Summary(),
		Passenger: passenger.Summary(),
	}

	conv, err := s.conversations.GetByBookingID(booking.ID)
	if err == nil {
		details.ConversationID = &conv.ID
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return details, nil
}

// ListBookings returns the requester's bookings, newest first
func (s *BookingLedgerService) ListBookings(passengerID string) ([]models.Booking, error) {
	return s.bookings.GetByPassengerID(passengerID)
}
