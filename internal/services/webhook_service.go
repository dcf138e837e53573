package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/borderway/rideshare-backend/internal/database"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// WebhookService reconciles asynchronous gateway events with the booking
// ledger. Webhooks arrive at least once and in no particular order, so
// every path here is idempotent: the booking's current status decides
// whether an event still applies, and stale or unknown events are
// acknowledged without side effects so the gateway stops redelivering.
type WebhookService struct {
	bookings *database.BookingRepository
	ledger   *BookingLedgerService
	gateway  PaymentGateway
	logger   *logrus.Logger
}

// NewWebhookService creates a new WebhookService
func NewWebhookService(
	bookings *database.BookingRepository,
	ledger *BookingLedgerService,
	gateway PaymentGateway,
	logger *logrus.Logger,
) *WebhookService {
	return &WebhookService{
		bookings: bookings,
		ledger:   ledger,
		gateway:  gateway,
		logger:   logger,
	}
}

// HandleEvent verifies and processes one raw webhook delivery. The
// signature is checked before a single byte of the payload is trusted; a
// bad signature is the only error that should surface as a client fault.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signatureHeader string) error {
	if err := s.gateway.VerifyWebhookSignature(payload, signatureHeader); err != nil {
		return err
	}

	event, err := s.gateway.ParseWebhookEvent(payload)
	if err != nil {
		return models.NewInvalidArgument("unparseable webhook payload")
	}

	switch e := event.(type) {
	case PaymentSucceededEvent:
		return s.handlePaymentSucceeded(ctx, e)
	case PaymentFailedEvent:
		return s.handlePaymentFailed(ctx, e)
	case UnhandledEvent:
		s.logger.WithField("event_type", e.Type).Debug("Ignoring unhandled webhook event")
		return nil
	default:
		return fmt.Errorf("unknown webhook event %T", event)
	}
}

func (s *WebhookService) handlePaymentSucceeded(ctx context.Context, event PaymentSucceededEvent) error {
	booking, err := s.bookings.GetByPaymentIntentID(event.PaymentIntentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// An intent we never attached, for example one whose
			// booking was rolled back at creation. Nothing to do.
			s.logger.WithField("payment_intent_id", event.PaymentIntentID).
				Warn("Payment succeeded for unknown intent")
			return nil
		}
		return fmt.Errorf("failed to look up booking by intent: %w", err)
	}

	if booking.Status != models.BookingStatusPending {
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"status":     booking.Status,
		}).Info("Ignoring payment success on settled booking")
		return nil
	}

	if _, err := s.ledger.SettlePayment(ctx, booking.ID); err != nil {
		// Oversold seats settle as a conflict after refunding; that is
		// a final answer for this event, not a reason to redeliver
		if appErr, ok := models.AsAppError(err); ok && appErr.Code == models.ErrCodeConflict {
			return nil
		}
		return err
	}
	return nil
}

func (s *WebhookService) handlePaymentFailed(ctx context.Context, event PaymentFailedEvent) error {
	booking, err := s.bookings.GetByPaymentIntentID(event.PaymentIntentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.WithField("payment_intent_id", event.PaymentIntentID).
				Warn("Payment failed for unknown intent")
			return nil
		}
		return fmt.Errorf("failed to look up booking by intent: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"reason":     event.Reason,
	}).Info("Payment failed")

	return s.ledger.FailPayment(ctx, booking.ID)
}
