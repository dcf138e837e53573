package services

import (
	"context"
)

// PaymentIntent is the gateway-side record of a passenger charge
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       int
}

// CreateIntentParams are the inputs for opening a payment intent
type CreateIntentParams struct {
	Amount      int    // total charge in cents, commission included
	Currency    string // ISO currency code, lowercase
	BookingID   string // recorded as gateway metadata for reconciliation
	Description string
}

// RefundParams are the inputs for refunding part or all of a charge
type RefundParams struct {
	PaymentIntentID string
	Amount          int // cents; 0 means refund the full charge
}

// Refund is the gateway-side record of a refund
type Refund struct {
	ID     string
	Status string
}

// TransferParams are the inputs for paying out a driver. IdempotencyKey
// is forwarded to the gateway so a retried transfer never pays twice.
type TransferParams struct {
	Amount         int    // cents
	Currency       string
	Destination    string // driver's connected account
	IdempotencyKey string
	BookingID      string // recorded as gateway metadata
}

// Transfer is the gateway-side record of a driver payout
type Transfer struct {
	ID string
}

// ConnectAccount is a driver's payout account at the gateway
type ConnectAccount struct {
	ID             string
	PayoutsEnabled bool
}

// WebhookEvent is the closed union of gateway events the reconciler
// understands. Anything else parses to UnhandledEvent and is
// acknowledged without side effects.
type WebhookEvent interface {
	isWebhookEvent()
}

// PaymentSucceededEvent signals an asynchronous capture of a payment intent
type PaymentSucceededEvent struct {
	PaymentIntentID string
}

// PaymentFailedEvent signals a declined or abandoned payment intent
type PaymentFailedEvent struct {
	PaymentIntentID string
	Reason          string
}

// UnhandledEvent is any gateway event type the reconciler does not act on
type UnhandledEvent struct {
	Type string
}

func (PaymentSucceededEvent) isWebhookEvent() {}
func (PaymentFailedEvent) isWebhookEvent()    {}
func (UnhandledEvent) isWebhookEvent()        {}

// PaymentGateway abstracts the payment provider. All calls that reach
// the provider take a context; the adapter enforces a bounded timeout,
// and a timeout means the outcome is unknown, never that it failed.
type PaymentGateway interface {
	// CreateIntent opens a payment intent for a booking's total amount
	CreateIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error)

	// GetIntent retrieves the current provider-side state of an intent
	GetIntent(ctx context.Context, intentID string) (*PaymentIntent, error)

	// RefundPayment refunds a captured charge, fully or partially
	RefundPayment(ctx context.Context, params RefundParams) (*Refund, error)

	// TransferToAccount moves a driver's share to their connected account
	TransferToAccount(ctx context.Context, params TransferParams) (*Transfer, error)

	// CreateConnectAccount provisions a payout account for a driver
	CreateConnectAccount(ctx context.Context, email string) (*ConnectAccount, error)

	// CreateAccountLink returns a hosted onboarding URL for the account
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)

	// GetConnectAccount retrieves a connected account's payout readiness
	GetConnectAccount(ctx context.Context, accountID string) (*ConnectAccount, error)

	// VerifyWebhookSignature checks the signature header against the raw
	// payload before any field of the payload is trusted
	VerifyWebhookSignature(payload []byte, signatureHeader string) error

	// ParseWebhookEvent maps a verified payload to the event union
	ParseWebhookEvent(payload []byte) (WebhookEvent, error)
}
