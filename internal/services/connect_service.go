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

// OnboardingLink is the hosted onboarding flow handed to a driver
type OnboardingLink struct {
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
}

// PayoutAccountStatus reports a driver's payout readiness
type PayoutAccountStatus struct {
	HasAccount     bool   `json:"has_account"`
	AccountID      string `json:"account_id,omitempty"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

// ConnectService handles driver payout account onboarding
type ConnectService struct {
	users   *database.UserRepository
	gateway PaymentGateway
	logger  *logrus.Logger
}

// NewConnectService creates a new ConnectService
func NewConnectService(users *database.UserRepository, gateway PaymentGateway, logger *logrus.Logger) *ConnectService {
	return &ConnectService{
		users:   users,
		gateway: gateway,
		logger:  logger,
	}
}

// StartOnboarding provisions a payout account for the user if they have
// none and returns a hosted onboarding link. Calling it again for a user
// with an unfinished account issues a fresh link for the same account.
func (s *ConnectService) StartOnboarding(ctx context.Context, userID, refreshURL, returnURL string) (*OnboardingLink, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	accountID := ""
	if user.HasPayoutAccount() {
		accountID = *user.StripeAccountID
	} else {
		account, err := s.gateway.CreateConnectAccount(ctx, user.Email)
		if err != nil {
			return nil, err
		}
		if err := s.users.SetStripeAccountID(user.ID, account.ID); err != nil {
			return nil, fmt.Errorf("failed to record payout account: %w", err)
		}
		accountID = account.ID

		s.logger.WithFields(logrus.Fields{
			"user_id":    user.ID,
			"account_id": account.ID,
		}).Info("Payout account created")
	}

	url, err := s.gateway.CreateAccountLink(ctx, accountID, refreshURL, returnURL)
	if err != nil {
		return nil, err
	}

	return &OnboardingLink{AccountID: accountID, URL: url}, nil
}

// GetStatus reports whether the user can receive payouts
func (s *ConnectService) GetStatus(ctx context.Context, userID string) (*PayoutAccountStatus, error) {
	user, err := s.users.GetByID(userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.NewNotFound("user not found")
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !user.HasPayoutAccount() {
		return &PayoutAccountStatus{HasAccount: false}, nil
	}

	account, err := s.gateway.GetConnectAccount(ctx, *user.StripeAccountID)
	if err != nil {
		return nil, err
	}

	return &PayoutAccountStatus{
		HasAccount:     true,
		AccountID:      account.ID,
		PayoutsEnabled: account.PayoutsEnabled,
	}, nil
}
