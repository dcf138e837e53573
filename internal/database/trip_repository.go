package database

import (
	"time"

	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/google/uuid"
)

// TripRepository handles database operations for the trips table
type TripRepository struct {
	db DB
}

// NewTripRepository creates a new TripRepository
func NewTripRepository(db DB) *TripRepository {
	return &TripRepository{db: db}
}

const tripColumns = `
	id, driver_id, departure_city, departure_country, departure_address,
	destination_city, destination_country, destination_address,
	departure_at, return_at, seats_total, available_seats, price_per_seat,
	description, status, created_at
`

// Create inserts a new trip in draft status
func (r *TripRepository) Create(trip *models.Trip) error {
	query := `
		INSERT INTO trips (
			id, driver_id, departure_city, departure_country, departure_address,
			destination_city, destination_country, destination_address,
			departure_at, return_at, seats_total, available_seats,
			price_per_seat, description, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at
	`

	if trip.ID == "" {
		trip.ID = uuid.New().String()
	}

	return r.db.QueryRow(
		query,
		trip.ID, trip.DriverID, trip.DepartureCity, trip.DepartureCountry,
		trip.DepartureAddress, trip.DestinationCity, trip.DestinationCountry,
		trip.DestinationAddress, trip.DepartureAt, trip.ReturnAt,
		trip.SeatsTotal, trip.AvailableSeats, trip.PricePerSeat,
		trip.Description, trip.Status,
	).Scan(&trip.CreatedAt)
}

// GetByID retrieves a trip by ID
func (r *TripRepository) GetByID(tripID string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1`

	trip := &models.Trip{}
	if err := r.db.Get(trip, query, tripID); err != nil {
		return nil, err
	}
	return trip, nil
}

// GetByIDForUpdate retrieves a trip by ID with a row lock, inside the
// caller's transaction. Seat accounting always locks the trip row first
// so concurrent bookings on the same trip serialize.
func (r *TripRepository) GetByIDForUpdate(q Queryer, tripID string) (*models.Trip, error) {
	query := `SELECT ` + tripColumns + ` FROM trips WHERE id = $1 FOR UPDATE`

	trip := &models.Trip{}
	if err := q.Get(trip, query, tripID); err != nil {
		return nil, err
	}
	return trip, nil
}

// ListPublished retrieves published trips ordered by departure time
func (r *TripRepository) ListPublished(limit, offset int) ([]models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE status = 'published'
		ORDER BY departure_at
		LIMIT $1 OFFSET $2
	`

	trips := []models.Trip{}
	if err := r.db.Select(&trips, query, limit, offset); err != nil {
		return nil, err
	}
	return trips, nil
}

// ListByDriver retrieves all trips published by a driver, newest first
func (r *TripRepository) ListByDriver(driverID string) ([]models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE driver_id = $1
		ORDER BY created_at DESC
	`

	trips := []models.Trip{}
	if err := r.db.Select(&trips, query, driverID); err != nil {
		return nil, err
	}
	return trips, nil
}

// ListReturnedPublished retrieves published trips whose return time passed
// before the cutoff. Used by the payout sweep to close finished trips.
func (r *TripRepository) ListReturnedPublished(cutoff time.Time, limit int) ([]models.Trip, error) {
	query := `
		SELECT ` + tripColumns + `
		FROM trips
		WHERE status = 'published'
		  AND return_at < $1
		ORDER BY return_at
		LIMIT $2
	`

	trips := []models.Trip{}
	if err := r.db.Select(&trips, query, cutoff, limit); err != nil {
		return nil, err
	}
	return trips, nil
}

// UpdateStatus updates the trip status
func (r *TripRepository) UpdateStatus(q Queryer, tripID string, status models.TripStatus) error {
	query := `UPDATE trips SET status = $2 WHERE id = $1`

	result, err := q.Exec(query, tripID, status)
	if err != nil {
		return err
	}
	return requireRowsAffected(result, "trip not found")
}

// DecrementSeats takes seats from the trip's availability. The guard on
// available_seats keeps the counter from going negative under concurrent
// bookings; zero rows affected means not enough seats were left.
func (r *TripRepository) DecrementSeats(q Queryer, tripID string, seats int) (bool, error) {
	query := `
		UPDATE trips
		SET available_seats = available_seats - $2
		WHERE id = $1 AND available_seats >= $2
	`

	result, err := q.Exec(query, tripID, seats)
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// IncrementSeats returns seats to the trip's availability, capped at the
// trip's total
func (r *TripRepository) IncrementSeats(q Queryer, tripID string, seats int) error {
	query := `
		UPDATE trips
		SET available_seats = LEAST(available_seats + $2, seats_total)
		WHERE id = $1
	`

	result, err := q.Exec(query, tripID, seats)
	if err != nil {
		return err
	}
	return requireRowsAffected(result, "trip not found")
}
