package models

import (
	"errors"
	"time"
)

// TripStatus represents the lifecycle status of a trip
type TripStatus string

const (
	TripStatusDraft     TripStatus = "draft"
	TripStatusPublished TripStatus = "published"
	TripStatusCompleted TripStatus = "completed"
	TripStatusCancelled TripStatus = "cancelled"
)

// Trip represents a driver-published cross-border trip offer.
// All monetary amounts are in minor currency units (cents).
type Trip struct {
	ID                 string     `json:"id" db:"id"`
	DriverID           string     `json:"driver_id" db:"driver_id"`
	DepartureCity      string     `json:"departure_city" db:"departure_city"`
	DepartureCountry   string     `json:"departure_country" db:"departure_country"`
	DepartureAddress   *string    `json:"departure_address,omitempty" db:"departure_address"`
	DestinationCity    string     `json:"destination_city" db:"destination_city"`
	DestinationCountry string     `json:"destination_country" db:"destination_country"`
	DestinationAddress *string    `json:"destination_address,omitempty" db:"destination_address"`
	DepartureAt        time.Time  `json:"departure_at" db:"departure_at"`
	ReturnAt           time.Time  `json:"return_at" db:"return_at"`
	SeatsTotal         int        `json:"seats_total" db:"seats_total"`
	AvailableSeats     int        `json:"available_seats" db:"available_seats"`
	PricePerSeat       int        `json:"price_per_seat" db:"price_per_seat"`
	Description        *string    `json:"description,omitempty" db:"description"`
	Status             TripStatus `json:"status" db:"status"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}

// CreateTripRequest represents the request to create a trip (always draft)
type CreateTripRequest struct {
	DepartureCity      string    `json:"departure_city" binding:"required"`
	DepartureCountry   string    `json:"departure_country" binding:"required"`
	DepartureAddress   *string   `json:"departure_address,omitempty"`
	DestinationCity    string    `json:"destination_city" binding:"required"`
	DestinationCountry string    `json:"destination_country" binding:"required"`
	DestinationAddress *string   `json:"destination_address,omitempty"`
	DepartureAt        time.Time `json:"departure_at" binding:"required"`
	ReturnAt           time.Time `json:"return_at" binding:"required"`
	Seats              int       `json:"seats" binding:"required"`
	PricePerSeat       int       `json:"price_per_seat" binding:"required"`
	Description        *string   `json:"description,omitempty"`
}

// Validate validates the create trip request
func (r *CreateTripRequest) Validate() error {
	if r.Seats < 1 || r.Seats > 8 {
		return errors.New("seats must be between 1 and 8")
	}
	if r.PricePerSeat <= 0 {
		return errors.New("price_per_seat must be positive")
	}
	if len(r.DepartureCountry) != 2 || len(r.DestinationCountry) != 2 {
		return errors.New("country codes must be 2 characters (FR, DE...)")
	}
	if !r.ReturnAt.After(r.DepartureAt) {
		return errors.New("return_at must be after departure_at")
	}
	return nil
}

// IsBookable reports whether new bookings can be created against the trip
func (t *Trip) IsBookable() bool {
	return t.Status == TripStatusPublished
}

// IsTerminal reports whether the trip has reached a final status
func (t *Trip) IsTerminal() bool {
	return t.Status == TripStatusCompleted || t.Status == TripStatusCancelled
}
