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

// TripService handles trip publication and retrieval. Trips are created
// as drafts and only become bookable once the driver publishes them,
// which requires a payout account ready to receive transfers.
type TripService struct {
	db       database.DB
	trips    *database.TripRepository
	bookings *database.BookingRepository
	users    *database.UserRepository
	gateway  PaymentGateway
	logger   *logrus.Logger
}

// NewTripService creates a new TripService
func NewTripService(
	db database.DB,
	trips *database.TripRepository,
	bookings *database.BookingRepository,
	users *database.UserRepository,
	gateway PaymentGateway,
	logger *logrus.Logger,
) *TripService {
	return &TripService{
		db:       db,
		trips:    trips,
		bookings: bookings,
		users:    users,
		gateway:  gateway,
		logger:   logger,
	}
}

// CreateTrip creates a new trip in draft status
func (s *TripService) CreateTrip(driverID string, req *models.CreateTripRequest) (*models.Trip, error) {
	if err := req.Validate(); err != nil {
		return nil, models.NewInvalidArgument(err.Error())
	}

	trip := &models.Trip{
		DriverID:           driverID,
		DepartureCity:      req.DepartureCity,
		DepartureCountry:   req.DepartureCountry,
		DepartureAddress:   req.DepartureAddress,
		DestinationCity:    req.DestinationCity,
		DestinationCountry: req.DestinationCountry,
		DestinationAddress: req.DestinationAddress,
		DepartureAt:        req.DepartureAt,
		ReturnAt:           req.ReturnAt,
		SeatsTotal:         req.Seats,
		AvailableSeats:     req.Seats,
		PricePerSeat:       req.PricePerSeat,
		Description:        req.Description,
		Status:             models.TripStatusDraft,
	}

	if err := s.trips.Create(trip); err != nil {
		return nil, fmt.Errorf("failed to create trip: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"trip_id":   trip.ID,
		"driver_id": driverID,
		"route":     fmt.Sprintf("%s-%s", trip.DepartureCountry, trip.DestinationCountry),
	}).Info("Trip created")

	return trip, nil
}

// PublishTrip makes a draft trip bookable. Publication is refused until
// the driver's payout account can actually receive transfers, so money
// never lands on a trip that cannot be paid out.
func (s *TripService) PublishTrip(ctx context.Context, driverID, tripID string) (*models.Trip, error) {
	trip, err := s.trips.GetByID(tripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("trip not found")
		}
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}
	if trip.DriverID != driverID {
		return nil, models.NewForbidden("trip belongs to another driver")
	}
	if trip.Status != models.TripStatusDraft {
		return nil, models.NewInvalidState(fmt.Sprintf("trip is %s, only drafts can be published", trip.Status))
	}

	driver, err := s.users.GetByID(driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to load driver: %w", err)
	}
	if !driver.HasPayoutAccount() {
		return nil, models.NewInvalidState("connect a payout account before publishing")
	}

	account, err := s.gateway.GetConnectAccount(ctx, *driver.StripeAccountID)
	if err != nil {
		return nil, err
	}
	if !account.PayoutsEnabled {
		return nil, models.NewInvalidState("payout account onboarding is not finished")
	}

	if err := s.trips.UpdateStatus(s.db, trip.ID, models.TripStatusPublished); err != nil {
		return nil, fmt.Errorf("failed to publish trip: %w", err)
	}
	trip.Status = models.TripStatusPublished

	s.logger.WithFields(logrus.Fields{
		"trip_id":   trip.ID,
		"driver_id": driverID,
	}).Info("Trip published")

	return trip, nil
}

// GetTrip retrieves one trip
func (s *TripService) GetTrip(tripID string) (*models.Trip, error) {
	trip, err := s.trips.GetByID(tripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("trip not found")
		}
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}
	return trip, nil
}

// ListPublished retrieves published trips for browsing
func (s *TripService) ListPublished(limit, offset int) ([]models.Trip, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.trips.ListPublished(limit, offset)
}

// ListByDriver retrieves all trips the driver has created
func (s *TripService) ListByDriver(driverID string) ([]models.Trip, error) {
	return s.trips.ListByDriver(driverID)
}

// ListTripBookings retrieves a trip's bookings for its driver
func (s *TripService) ListTripBookings(driverID, tripID string) ([]models.Booking, error) {
	trip, err := s.trips.GetByID(tripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("trip not found")
		}
		return nil, fmt.Errorf("failed to load trip: %w", err)
	}
	if trip.DriverID != driverID {
		return nil, models.NewForbidden("trip belongs to another driver")
	}
	return s.bookings.GetByTripID(tripID)
}
