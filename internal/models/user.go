package models

import "time"

// User represents a marketplace user (passenger and/or driver)
type User struct {
	ID              string    `json:"id" db:"id"`
	Email           string    `json:"email" db:"email"`
	FirstName       string    `json:"first_name" db:"first_name"`
	LastName        string    `json:"last_name" db:"last_name"`
	Verified        bool      `json:"verified" db:"verified"`
	StripeAccountID *string   `json:"stripe_account_id,omitempty" db:"stripe_account_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// HasPayoutAccount reports whether the user has a connected payout account
func (u *User) HasPayoutAccount() bool {
	return u.StripeAccountID != nil && *u.StripeAccountID != ""
}

// PublicName returns the user's display name with an abbreviated last name
func (u *User) PublicName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName[:1] + "."
}

// UserSummary is the public projection of a user embedded in API responses
type UserSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Summary returns the public projection of the user
func (u *User) Summary() UserSummary {
	return UserSummary{ID: u.ID, Name: u.PublicName()}
}
