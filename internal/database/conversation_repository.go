package database

import (
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/google/uuid"
)

// ConversationRepository handles database operations for the conversations table
type ConversationRepository struct {
	db DB
}

// NewConversationRepository creates a new ConversationRepository
func NewConversationRepository(db DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Create inserts a conversation inside the caller's transaction. The unique
// constraint on booking_id is absorbed by GetByBookingID callers so that a
// confirm and a webhook racing on the same booking end up with one channel.
func (r *ConversationRepository) Create(q Queryer, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, booking_id, driver_id, passenger_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (booking_id) DO NOTHING
		RETURNING created_at
	`

	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}

	err := q.QueryRow(
		query,
		conv.ID, conv.BookingID, conv.DriverID, conv.PassengerID,
	).Scan(&conv.CreatedAt)
	if err != nil {
		// ON CONFLICT DO NOTHING yields no row when the conversation
		// already exists; the existing row wins
		existing := &models.Conversation{}
		getErr := q.Get(existing, `
			SELECT id, booking_id, driver_id, passenger_id, created_at
			FROM conversations
			WHERE booking_id = $1
		`, conv.BookingID)
		if getErr != nil {
			return err
		}
		*conv = *existing
	}
	return nil
}

// GetByBookingID retrieves the conversation attached to a booking
func (r *ConversationRepository) GetByBookingID(bookingID string) (*models.Conversation, error) {
	query := `
		SELECT id, booking_id, driver_id, passenger_id, created_at
		FROM conversations
		WHERE booking_id = $1
	`

	conv := &models.Conversation{}
	if err := r.db.Get(conv, query, bookingID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListByUser retrieves all conversations the user takes part in, newest first
func (r *ConversationRepository) ListByUser(userID string) ([]models.Conversation, error) {
	query := `
		SELECT id, booking_id, driver_id, passenger_id, created_at
		FROM conversations
		WHERE driver_id = $1 OR passenger_id = $1
		ORDER BY created_at DESC
	`

	conversations := []models.Conversation{}
	if err := r.db.Select(&conversations, query, userID); err != nil {
		return nil, err
	}
	return conversations, nil
}
