package services

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/borderway/rideshare-backend/internal/database"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeGateway implements PaymentGateway with pluggable behavior and call
// recording
type fakeGateway struct {
	createIntentFn func(params CreateIntentParams) (*PaymentIntent, error)
	getIntentFn    func(intentID string) (*PaymentIntent, error)
	refundFn       func(params RefundParams) (*Refund, error)
	transferFn     func(params TransferParams) (*Transfer, error)
	accountFn      func(accountID string) (*ConnectAccount, error)

	refundCalls   []RefundParams
	transferCalls []TransferParams
}

func (f *fakeGateway) CreateIntent(ctx context.Context, params CreateIntentParams) (*PaymentIntent, error) {
	if f.createIntentFn != nil {
		return f.createIntentFn(params)
	}
	return &PaymentIntent{ID: "pi_fake", ClientSecret: "pi_fake_secret", Status: "requires_payment_method", Amount: params.Amount}, nil
}

func (f *fakeGateway) GetIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	if f.getIntentFn != nil {
		return f.getIntentFn(intentID)
	}
	return &PaymentIntent{ID: intentID, Status: "succeeded"}, nil
}

func (f *fakeGateway) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	f.refundCalls = append(f.refundCalls, params)
	if f.refundFn != nil {
		return f.refundFn(params)
	}
	return &Refund{ID: "re_fake", Status: "succeeded"}, nil
}

func (f *fakeGateway) TransferToAccount(ctx context.Context, params TransferParams) (*Transfer, error) {
	f.transferCalls = append(f.transferCalls, params)
	if f.transferFn != nil {
		return f.transferFn(params)
	}
	return &Transfer{ID: "tr_fake"}, nil
}

func (f *fakeGateway) CreateConnectAccount(ctx context.Context, email string) (*ConnectAccount, error) {
	return &ConnectAccount{ID: "acct_fake", PayoutsEnabled: false}, nil
}

func (f *fakeGateway) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	return "https://connect.example/onboard/" + accountID, nil
}

func (f *fakeGateway) GetConnectAccount(ctx context.Context, accountID string) (*ConnectAccount, error) {
	if f.accountFn != nil {
		return f.accountFn(accountID)
	}
	return &ConnectAccount{ID: accountID, PayoutsEnabled: true}, nil
}

func (f *fakeGateway) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	if signatureHeader == "valid" {
		return nil
	}
	return models.NewInvalidSignature("no matching signature")
}

func (f *fakeGateway) ParseWebhookEvent(payload []byte) (WebhookEvent, error) {
	return UnhandledEvent{Type: "test"}, nil
}

// newMockDB wires sqlmock behind the database.DB interface
func newMockDB(t *testing.T) (database.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	sqlxDB := sqlx.NewDb(mockDB, "sqlmock")
	return &database.PostgresDB{DB: sqlxDB}, mock
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

var tripTestColumns = []string{
	"id", "driver_id", "departure_city", "departure_country", "departure_address",
	"destination_city", "destination_country", "destination_address",
	"departure_at", "return_at", "seats_total", "available_seats", "price_per_seat",
	"description", "status", "created_at",
}

func tripRow(trip *models.Trip) *sqlmock.Rows {
	return sqlmock.NewRows(tripTestColumns).AddRow(
		trip.ID, trip.DriverID, trip.DepartureCity, trip.DepartureCountry, nullableStr(trip.DepartureAddress),
		trip.DestinationCity, trip.DestinationCountry, nullableStr(trip.DestinationAddress),
		trip.DepartureAt, trip.ReturnAt, trip.SeatsTotal, trip.AvailableSeats, trip.PricePerSeat,
		nullableStr(trip.Description), string(trip.Status), trip.CreatedAt,
	)
}

var bookingTestColumns = []string{
	"id", "trip_id", "passenger_id", "seats_booked", "price_per_seat",
	"commission_amount", "total_amount", "status", "payment_intent_id",
	"transfer_id", "refunded_amount", "refunded_at", "cancelled_by",
	"estimated_budget", "estimated_savings", "created_at", "paid_at",
}

func bookingValues(b *models.Booking) []driver.Value {
	var cancelledBy driver.Value
	if b.CancelledBy != nil {
		cancelledBy = string(*b.CancelledBy)
	}
	return []driver.Value{
		b.ID, b.TripID, b.PassengerID, b.SeatsBooked, b.PricePerSeat,
		b.CommissionAmount, b.TotalAmount, string(b.Status), nullableStr(b.PaymentIntentID),
		nullableStr(b.TransferID), nullableInt(b.RefundedAmount), nullableTime(b.RefundedAt), cancelledBy,
		nullableInt(b.EstimatedBudget), nullableInt(b.EstimatedSavings), b.CreatedAt, nullableTime(b.PaidAt),
	}
}

func nullableStr(s *string) driver.Value {
	if s == nil {
		return nil
	}
	return *s
}

func nullableInt(i *int) driver.Value {
	if i == nil {
		return nil
	}
	return int64(*i)
}

func nullableTime(t *time.Time) driver.Value {
	if t == nil {
		return nil
	}
	return *t
}

func bookingRow(b *models.Booking) *sqlmock.Rows {
	return sqlmock.NewRows(bookingTestColumns).AddRow(bookingValues(b)...)
}

func userRow(u *models.User) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "email", "first_name", "last_name", "verified", "stripe_account_id", "created_at",
	}).AddRow(u.ID, u.Email, u.FirstName, u.LastName, u.Verified, nullableStr(u.StripeAccountID), u.CreatedAt)
}

func strPtr(s string) *string { return &s }

func newLedgerForTest(t *testing.T, gateway PaymentGateway, nowFn func() time.Time) (*BookingLedgerService, sqlmock.Sqlmock) {
	db, mock := newMockDB(t)

	ledger := NewBookingLedgerService(
		db,
		database.NewBookingRepository(db),
		database.NewTripRepository(db),
		database.NewUserRepository(db),
		database.NewConversationRepository(db),
		gateway,
		NewRefundPolicy(),
		"eur",
		testLogger(),
	)
	if nowFn != nil {
		ledger.now = nowFn
	}
	return ledger, mock
}
