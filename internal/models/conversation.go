package models

import "time"

// Conversation is the message channel between a trip's driver and a
// passenger, created automatically when their booking is paid.
type Conversation struct {
	ID          string    `json:"id" db:"id"`
	BookingID   string    `json:"booking_id" db:"booking_id"`
	DriverID    string    `json:"driver_id" db:"driver_id"`
	PassengerID string    `json:"passenger_id" db:"passenger_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
