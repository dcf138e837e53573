package database

import (
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/google/uuid"
)

// UserRepository handles database operations for the users table
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `
	id, email, first_name, last_name, verified, stripe_account_id, created_at
`

// Create inserts a new user
func (r *UserRepository) Create(user *models.User) error {
	query := `
		INSERT INTO users (id, email, first_name, last_name, verified)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	if user.ID == "" {
		user.ID = uuid.New().String()
	}

	return r.db.QueryRow(
		query,
		user.ID, user.Email, user.FirstName, user.LastName, user.Verified,
	).Scan(&user.CreatedAt)
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(userID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user := &models.User{}
	if err := r.db.Get(user, query, userID); err != nil {
		return nil, err
	}
	return user, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user := &models.User{}
	if err := r.db.Get(user, query, email); err != nil {
		return nil, err
	}
	return user, nil
}

// SetStripeAccountID records the user's connected payout account
func (r *UserRepository) SetStripeAccountID(userID, accountID string) error {
	query := `UPDATE users SET stripe_account_id = $2 WHERE id = $1`

	result, err := r.db.Exec(query, userID, accountID)
	if err != nil {
		return err
	}
	return requireRowsAffected(result, "user not found")
}
