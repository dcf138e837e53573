package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/borderway/rideshare-backend/internal/config"
	"github.com/borderway/rideshare-backend/internal/database"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// SweepReport summarizes one payout sweep pass
type SweepReport struct {
	Scanned          int      `json:"scanned"`
	TransfersCreated int      `json:"transfers_created"`
	Skipped          int      `json:"skipped"`
	Failures         int      `json:"failures"`
	FailureReasons   []string `json:"failure_reasons,omitempty"`
	TripsCompleted   int      `json:"trips_completed"`
}

// PayoutSweeperService settles driver payouts for trips that returned and
// were never explicitly confirmed by their passengers. A recurring job
// scans bookings whose trip returned more than the grace period ago and
// still carry no transfer, including completed ones whose payout failed
// at confirmation time, and transfers the driver's share.
//
// Delivery is at least once: a crash between the transfer and recording
// it means the next sweep retries the same booking, and the per-booking
// idempotency key makes the gateway deduplicate the transfer.
type PayoutSweeperService struct {
	db       database.DB
	bookings *database.BookingRepository
	trips    *database.TripRepository
	users    *database.UserRepository
	gateway  PaymentGateway
	config   *config.SweeperConfig
	currency string
	logger   *logrus.Logger
	cron     *cron.Cron
	now      func() time.Time

	mu         sync.Mutex
	lastRunAt  *time.Time
	lastReport *SweepReport
}

// SweepStatus reports the sweeper schedule and the most recent pass
type SweepStatus struct {
	Interval   string       `json:"interval"`
	GraceAfter string       `json:"grace_after"`
	BatchLimit int          `json:"batch_limit"`
	LastRunAt  *time.Time   `json:"last_run_at,omitempty"`
	LastReport *SweepReport `json:"last_report,omitempty"`
}

// NewPayoutSweeperService creates a new PayoutSweeperService
func NewPayoutSweeperService(
	db database.DB,
	bookings *database.BookingRepository,
	trips *database.TripRepository,
	users *database.UserRepository,
	gateway PaymentGateway,
	cfg *config.SweeperConfig,
	currency string,
	logger *logrus.Logger,
) *PayoutSweeperService {
	return &PayoutSweeperService{
		db:       db,
		bookings: bookings,
		trips:    trips,
		users:    users,
		gateway:  gateway,
		config:   cfg,
		currency: currency,
		logger:   logger,
		cron:     cron.New(),
		now:      time.Now,
	}
}

// Start schedules the recurring sweep
func (s *PayoutSweeperService) Start() error {
	spec := fmt.Sprintf("@every %s", s.config.Interval)
	_, err := s.cron.AddFunc(spec, s.sweepJob)
	if err != nil {
		return fmt.Errorf("failed to schedule payout sweep: %w", err)
	}

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"interval":    s.config.Interval.String(),
		"grace_after": s.config.GraceAfter.String(),
		"batch_limit": s.config.BatchLimit,
	}).Info("Payout sweeper started")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish
func (s *PayoutSweeperService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Payout sweeper stopped")
}

func (s *PayoutSweeperService) sweepJob() {
	started := s.now()
	report, err := s.Sweep(context.Background())
	if err != nil {
		s.logger.WithError(err).Error("Payout sweep failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"scanned":           report.Scanned,
		"transfers_created": report.TransfersCreated,
		"skipped":           report.Skipped,
		"failures":          report.Failures,
		"trips_completed":   report.TripsCompleted,
		"duration":          time.Since(started).String(),
	}).Info("Payout sweep finished")
}

// Sweep runs one payout pass and returns its report. One booking failing
// never stops the batch; the failure is counted and the sweep moves on.
func (s *PayoutSweeperService) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}

	cutoff := s.now().Add(-s.config.GraceAfter)
	candidates, err := s.bookings.ListPayoutEligible(cutoff, s.config.BatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payout candidates: %w", err)
	}
	report.Scanned = len(candidates)

	for i := range candidates {
		s.settleBooking(ctx, &candidates[i], report)
	}

	// Second pass: published trips past the grace window whose bookings
	// have all reached a final status can be closed out
	s.completeFinishedTrips(cutoff, report)

	finished := s.now()
	s.mu.Lock()
	s.lastRunAt = &finished
	s.lastReport = report
	s.mu.Unlock()

	return report, nil
}

// Status returns the sweeper schedule and the outcome of the last pass
func (s *PayoutSweeperService) Status() *SweepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &SweepStatus{
		Interval:   s.config.Interval.String(),
		GraceAfter: s.config.GraceAfter.String(),
		BatchLimit: s.config.BatchLimit,
		LastRunAt:  s.lastRunAt,
		LastReport: s.lastReport,
	}
}

// settleBooking pays out one booking's driver share and closes the booking
func (s *PayoutSweeperService) settleBooking(ctx context.Context, booking *models.Booking, report *SweepReport) {
	log := s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"trip_id":    booking.TripID,
	})

	trip, err := s.trips.GetByID(booking.TripID)
	if err != nil {
		s.recordFailure(report, booking.ID, err)
		return
	}
	driver, err := s.users.GetByID(trip.DriverID)
	if err != nil {
		s.recordFailure(report, booking.ID, err)
		return
	}
	if !driver.HasPayoutAccount() {
		// Should not happen: publishing requires a payout account.
		// Skip and leave the booking for a later sweep.
		log.WithField("driver_id", driver.ID).Warn("Driver has no payout account, skipping payout")
		report.Skipped++
		return
	}

	amount := booking.Subtotal()
	transfer, err := s.gateway.TransferToAccount(ctx, TransferParams{
		Amount:         amount,
		Currency:       s.currency,
		Destination:    *driver.StripeAccountID,
		IdempotencyKey: "payout-" + booking.ID,
		BookingID:      booking.ID,
	})
	if err != nil {
		s.recordFailure(report, booking.ID, err)
		log.WithError(err).Error("Payout transfer failed")
		return
	}

	recorded, err := s.bookings.SetTransferID(s.db, booking.ID, transfer.ID)
	if err != nil {
		s.recordFailure(report, booking.ID, err)
		return
	}
	if !recorded {
		// Another sweep recorded a transfer first; the idempotency key
		// guarantees the gateway only moved the money once
		log.Info("Booking already paid out, skipping")
		report.Skipped++
		return
	}

	if _, err := s.bookings.MarkCompleted(s.db, booking.ID); err != nil {
		s.recordFailure(report, booking.ID, err)
		return
	}

	report.TransfersCreated++
	log.WithFields(logrus.Fields{
		"transfer_id": transfer.ID,
		"amount":      amount,
	}).Info("Driver payout settled")
}

// completeFinishedTrips closes published trips past the grace window once
// every booking on them has reached a final status
func (s *PayoutSweeperService) completeFinishedTrips(cutoff time.Time, report *SweepReport) {
	trips, err := s.trips.ListReturnedPublished(cutoff, s.config.BatchLimit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list returned trips")
		return
	}

	for i := range trips {
		trip := &trips[i]
		open, err := s.bookings.CountNonTerminal(s.db, trip.ID)
		if err != nil {
			s.logger.WithError(err).WithField("trip_id", trip.ID).
				Error("Failed to count open bookings")
			continue
		}
		if open > 0 {
			continue
		}

		if err := s.trips.UpdateStatus(s.db, trip.ID, models.TripStatusCompleted); err != nil {
			s.logger.WithError(err).WithField("trip_id", trip.ID).Error("Failed to complete trip")
			continue
		}
		report.TripsCompleted++
		s.logger.WithField("trip_id", trip.ID).Info("Trip completed by sweep")
	}
}

func (s *PayoutSweeperService) recordFailure(report *SweepReport, bookingID string, err error) {
	report.Failures++
	report.FailureReasons = append(report.FailureReasons, fmt.Sprintf("%s: %v", bookingID, err))
}
