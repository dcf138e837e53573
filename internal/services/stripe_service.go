package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/borderway/rideshare-backend/internal/config"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// stripeAPIBase is the Stripe REST API endpoint
const stripeAPIBase = "https://api.stripe.com/v1"

// webhookTolerance bounds how old a signed webhook timestamp may be
const webhookTolerance = 5 * time.Minute

// StripeService implements PaymentGateway against the Stripe REST API.
// Requests are form-encoded per the Stripe wire protocol; responses are
// JSON. Every provider call runs under the configured request timeout,
// and a timeout surfaces as a gateway_timeout error because the charge
// or transfer may still have gone through on Stripe's side.
type StripeService struct {
	config  *config.StripeConfig
	logger  *logrus.Logger
	client  *http.Client
	baseURL string
}

// NewStripeService creates a new Stripe gateway adapter
func NewStripeService(cfg *config.StripeConfig, logger *logrus.Logger) *StripeService {
	return &StripeService{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		baseURL: stripeAPIBase,
	}
}

// stripeError is the error envelope Stripe returns on non-2xx responses
type stripeError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// stripeIntent is the payment intent resource
type stripeIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int    `json:"amount"`
}

// stripeRefund is the refund resource
type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// stripeTransfer is the transfer resource
type stripeTransfer struct {
	ID string `json:"id"`
}

// stripeAccount is the connected account resource
type stripeAccount struct {
	ID             string `json:"id"`
	PayoutsEnabled bool   `json:"payouts_enabled"`
}

// stripeAccountLink is the hosted onboarding link resource
type stripeAccountLink struct {
	URL string `json:"url"`
}

// stripeEvent is the webhook event envelope
type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID               string `json:"id"`
			LastPaymentError *struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

// CreateIntent opens a payment intent for a booking
func (s *StripeService) CreateIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.Itoa(params.Amount))
	form.Set("currency", params.Currency)
	form.Set("metadata[booking_id]", params.BookingID)
	form.Set("automatic_payment_methods[enabled]", "true")
	if params.Description != "" {
		form.Set("description", params.Description)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id": params.BookingID,
		"amount":     params.Amount,
		"currency":   params.Currency,
	}).Info("Creating payment intent")

	var intent stripeIntent
	if err := s.call(ctx, http.MethodPost, "/payment_intents", form, "", &intent); err != nil {
		return nil, err
	}

	return &PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       intent.Amount,
	}, nil
}

// GetIntent retrieves the current state of a payment intent
func (s *StripeService) GetIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent stripeIntent
	if err := s.call(ctx, http.MethodGet, "/payment_intents/"+intentID, nil, "", &intent); err != nil {
		return nil, err
	}

	return &PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       intent.Amount,
	}, nil
}

// RefundPayment refunds a captured charge
func (s *StripeService) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	form := url.Values{}
	form.Set("payment_intent", params.PaymentIntentID)
	if params.Amount > 0 {
		form.Set("amount", strconv.Itoa(params.Amount))
	}

	s.logger.WithFields(logrus.Fields{
		"payment_intent_id": params.PaymentIntentID,
		"amount":            params.Amount,
	}).Info("Creating refund")

	var refund stripeRefund
	if err := s.call(ctx, http.MethodPost, "/refunds", form, "", &refund); err != nil {
		return nil, err
	}

	return &Refund{ID: refund.ID, Status: refund.Status}, nil
}

// TransferToAccount pays a driver's share out to their connected account.
// The idempotency key is forwarded so Stripe deduplicates retries.
func (s *StripeService) TransferToAccount(ctx context.Context, params TransferParams) (*Transfer, error) {
	form := url.Values{}
	form.Set("amount", strconv.Itoa(params.Amount))
	form.Set("currency", params.Currency)
	form.Set("destination", params.Destination)
	form.Set("metadata[booking_id]", params.BookingID)

	s.logger.WithFields(logrus.Fields{
		"booking_id":      params.BookingID,
		"amount":          params.Amount,
		"destination":     params.Destination,
		"idempotency_key": params.IdempotencyKey,
	}).Info("Creating transfer")

	var transfer stripeTransfer
	if err := s.call(ctx, http.MethodPost, "/transfers", form, params.IdempotencyKey, &transfer); err != nil {
		return nil, err
	}

	return &Transfer{ID: transfer.ID}, nil
}

// CreateConnectAccount provisions an express payout account for a driver
func (s *StripeService) CreateConnectAccount(ctx context.Context, email string) (*ConnectAccount, error) {
	form := url.Values{}
	form.Set("type", "express")
	form.Set("email", email)
	form.Set("country", s.config.AccountCountry)
	form.Set("capabilities[transfers][requested]", "true")

	var account stripeAccount
	if err := s.call(ctx, http.MethodPost, "/accounts", form, "", &account); err != nil {
		return nil, err
	}

	return &ConnectAccount{ID: account.ID, PayoutsEnabled: account.PayoutsEnabled}, nil
}

// CreateAccountLink returns a hosted onboarding URL for a connected account
func (s *StripeService) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("account", accountID)
	form.Set("refresh_url", refreshURL)
	form.Set("return_url", returnURL)
	form.Set("type", "account_onboarding")

	var link stripeAccountLink
	if err := s.call(ctx, http.MethodPost, "/account_links", form, "", &link); err != nil {
		return "", err
	}

	return link.URL, nil
}

// GetConnectAccount retrieves a connected account's payout readiness
func (s *StripeService) GetConnectAccount(ctx context.Context, accountID string) (*ConnectAccount, error) {
	var account stripeAccount
	if err := s.call(ctx, http.MethodGet, "/accounts/"+accountID, nil, "", &account); err != nil {
		return nil, err
	}

	return &ConnectAccount{ID: account.ID, PayoutsEnabled: account.PayoutsEnabled}, nil
}

// VerifyWebhookSignature checks the Stripe-Signature header against the
// raw payload. The header carries a unix timestamp and one or more v1
// signatures; each v1 value is an HMAC-SHA256 of "<timestamp>.<payload>"
// keyed with the webhook secret. Nothing in the payload is trusted until
// this passes.
func (s *StripeService) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	if s.config.WebhookSecret == "" {
		return models.NewInvalidSignature("webhook secret not configured")
	}
	if signatureHeader == "" {
		return models.NewInvalidSignature("missing signature header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(signatureHeader, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return models.NewInvalidSignature("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return models.NewInvalidSignature("malformed signature timestamp")
	}
	age := time.Since(time.Unix(ts, 0))
	if age > webhookTolerance || age < -webhookTolerance {
		return models.NewInvalidSignature("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(s.config.WebhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(expected), []byte(signature)) {
			return nil
		}
	}

	return models.NewInvalidSignature("no matching signature")
}

// ParseWebhookEvent maps a verified webhook payload to the event union
func (s *StripeService) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return PaymentSucceededEvent{PaymentIntentID: event.Data.Object.ID}, nil
	case "payment_intent.payment_failed":
		reason := "payment failed"
		if event.Data.Object.LastPaymentError != nil {
			reason = event.Data.Object.LastPaymentError.Message
		}
		return PaymentFailedEvent{
			PaymentIntentID: event.Data.Object.ID,
			Reason:          reason,
		}, nil
	default:
		return UnhandledEvent{Type: event.Type}, nil
	}
}

// IsConfigured returns true if the gateway credentials are present
func (s *StripeService) IsConfigured() bool {
	return s.config.SecretKey != ""
}

// call performs one Stripe API request and decodes the response into out
func (s *StripeService) call(ctx context.Context, method, path string, form url.Values, idempotencyKey string, out interface{}) error {
	if s.config.SecretKey == "" {
		return models.NewGatewayError("payment gateway not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.SecretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			s.logger.WithError(err).WithField("path", path).Warn("Gateway call timed out, outcome unknown")
			return models.NewGatewayTimeout("payment provider timed out", err)
		}
		return models.NewGatewayError("payment provider unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr stripeError
		message := fmt.Sprintf("gateway returned status %d", resp.StatusCode)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		s.logger.WithFields(logrus.Fields{
			"path":        path,
			"status_code": resp.StatusCode,
			"message":     message,
		}).Error("Gateway call rejected")
		return models.NewGatewayError(message, nil)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// isTimeout reports whether a transport error means the request may have
// reached the provider without a response making it back
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
