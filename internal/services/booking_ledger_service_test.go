package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/borderway/rideshare-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func publishedTrip() *models.Trip {
	return &models.Trip{
		ID:                 "trip-1",
		DriverID:           "driver-1",
		DepartureCity:      "Paris",
		DepartureCountry:   "FR",
		DestinationCity:    "Berlin",
		DestinationCountry: "DE",
		DepartureAt:        testNow.Add(72 * time.Hour),
		ReturnAt:           testNow.Add(96 * time.Hour),
		SeatsTotal:         4,
		AvailableSeats:     3,
		PricePerSeat:       1000,
		Status:             models.TripStatusPublished,
		CreatedAt:          testNow.Add(-24 * time.Hour),
	}
}

func paidBooking() *models.Booking {
	return &models.Booking{
		ID:               "bk-1",
		TripID:           "trip-1",
		PassengerID:      "pass-1",
		SeatsBooked:      2,
		PricePerSeat:     1000,
		CommissionAmount: 300,
		TotalAmount:      2300,
		Status:           models.BookingStatusPaid,
		PaymentIntentID:  strPtr("pi_1"),
		CreatedAt:        testNow.Add(-time.Hour),
	}
}

func TestCreateBooking_Success(t *testing.T) {
	gateway := &fakeGateway{}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WithArgs("trip-1").
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("pass-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO bookings`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(testNow))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE bookings SET payment_intent_id`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := ledger.CreateBooking(context.Background(), "pass-1", &models.CreateBookingRequest{
		TripID: "trip-1",
		Seats:  2,
	})

	require.NoError(t, err)
	assert.Equal(t, 2000, resp.Subtotal)
	assert.Equal(t, 300, resp.Commission)
	assert.Equal(t, 2300, resp.Amount)
	assert.Equal(t, "pi_fake_secret", resp.ClientSecret)
	assert.NotEmpty(t, resp.BookingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBooking_GatewayFailureRemovesBooking(t *testing.T) {
	gateway := &fakeGateway{
		createIntentFn: func(params CreateIntentParams) (*PaymentIntent, error) {
			return nil, models.NewGatewayError("provider rejected the request", nil)
		},
	}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`INSERT INTO bookings`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(testNow))
	mock.ExpectCommit()
	mock.ExpectExec(`DELETE FROM bookings`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := ledger.CreateBooking(context.Background(), "pass-1", &models.CreateBookingRequest{
		TripID: "trip-1",
		Seats:  2,
	})

	require.Error(t, err)
	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeGatewayError, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBooking_NotEnoughSeats(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	trip := publishedTrip()
	trip.AvailableSeats = 1

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectRollback()

	_, err := ledger.CreateBooking(context.Background(), "pass-1", &models.CreateBookingRequest{
		TripID: "trip-1",
		Seats:  2,
	})

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeInvalidArgument, appErr.Code)
}

func TestCreateBooking_ActiveBookingElsewhereConflicts(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	// The passenger holds a paid booking on a different, still running trip
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectQuery(`JOIN trips t ON t\.id = b\.trip_id`).
		WithArgs("pass-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := ledger.CreateBooking(context.Background(), "pass-1", &models.CreateBookingRequest{
		TripID: "trip-1",
		Seats:  1,
	})

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeConflict, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBooking_OwnTripForbidden(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectRollback()

	_, err := ledger.CreateBooking(context.Background(), "driver-1", &models.CreateBookingRequest{
		TripID: "trip-1",
		Seats:  1,
	})

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeForbidden, appErr.Code)
}

func TestConfirmBooking_AlreadyPaidIsIdempotent(t *testing.T) {
	gateway := &fakeGateway{
		getIntentFn: func(intentID string) (*PaymentIntent, error) {
			t.Fatal("gateway should not be called for a paid booking")
			return nil, nil
		},
	}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	mock.ExpectQuery(`FROM bookings WHERE id = \$1`).
		WithArgs("bk-1").
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM conversations`).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "driver_id", "passenger_id", "created_at"}).
			AddRow("conv-1", "bk-1", "driver-1", "pass-1", testNow))

	resp, err := ledger.ConfirmBooking(context.Background(), "pass-1", "bk-1")

	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPaid, resp.Status)
	require.NotNil(t, resp.ConversationID)
	assert.Equal(t, "conv-1", *resp.ConversationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirmBooking_PaymentNotSettledYet(t *testing.T) {
	gateway := &fakeGateway{
		getIntentFn: func(intentID string) (*PaymentIntent, error) {
			return &PaymentIntent{ID: intentID, Status: "requires_payment_method"}, nil
		},
	}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	booking := paidBooking()
	booking.Status = models.BookingStatusPending
	mock.ExpectQuery(`FROM bookings WHERE id = \$1`).
		WillReturnRows(bookingRow(booking))

	_, err := ledger.ConfirmBooking(context.Background(), "pass-1", "bk-1")

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeTooEarly, appErr.Code)
}

func TestSettlePayment_Success(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	booking := paidBooking()
	booking.Status = models.BookingStatusPending

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(booking))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectExec(`SET available_seats = available_seats - \$2`).
		WithArgs("trip-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'paid'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(testNow))
	mock.ExpectCommit()

	conv, err := ledger.SettlePayment(context.Background(), "bk-1")

	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "driver-1", conv.DriverID)
	assert.Equal(t, "pass-1", conv.PassengerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePayment_SeatsSoldOutRefunds(t *testing.T) {
	gateway := &fakeGateway{}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	booking := paidBooking()
	booking.Status = models.BookingStatusPending

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(booking))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectExec(`SET available_seats = available_seats - \$2`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectExec(`SET status = 'failed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := ledger.SettlePayment(context.Background(), "bk-1")

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeConflict, appErr.Code)
	require.Len(t, gateway.refundCalls, 1)
	assert.Equal(t, "pi_1", gateway.refundCalls[0].PaymentIntentID)
	assert.Equal(t, 0, gateway.refundCalls[0].Amount) // full refund
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSettlePayment_AlreadyPaidIsNoOp(t *testing.T) {
	gateway := &fakeGateway{}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM conversations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "driver_id", "passenger_id", "created_at"}).
			AddRow("conv-1", "bk-1", "driver-1", "pass-1", testNow))
	mock.ExpectRollback()

	conv, err := ledger.SettlePayment(context.Background(), "bk-1")

	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Empty(t, gateway.refundCalls)
}

func TestCancelBooking_HalfRefundBracket(t *testing.T) {
	gateway := &fakeGateway{}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	trip := publishedTrip()
	trip.DepartureAt = testNow.Add(36 * time.Hour)

	// Claim phase
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectExec(`SET refunded_at = NOW\(\)`).
		WithArgs("bk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Finalize phase
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectExec(`SET status = 'cancelled'`).
		WithArgs("bk-1", 1150).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`LEAST\(available_seats \+ \$2, seats_total\)`).
		WithArgs("trip-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Driver share payout
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WillReturnRows(userRow(&models.User{
			ID: "driver-1", Email: "d@example.com", FirstName: "Dora", LastName: "Marchand",
			StripeAccountID: strPtr("acct_9"), CreatedAt: testNow,
		}))
	mock.ExpectExec(`SET transfer_id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := ledger.CancelBooking(context.Background(), "pass-1", "bk-1")

	require.NoError(t, err)
	assert.Equal(t, 1150, resp.RefundedAmount)
	assert.Equal(t, 1000, resp.DriverReceives)
	assert.InDelta(t, 36.0, resp.HoursUntilDeparture, 0.01)

	require.Len(t, gateway.refundCalls, 1)
	assert.Equal(t, 1150, gateway.refundCalls[0].Amount)
	require.Len(t, gateway.transferCalls, 1)
	assert.Equal(t, 1000, gateway.transferCalls[0].Amount)
	assert.Equal(t, "cancel-payout-bk-1", gateway.transferCalls[0].IdempotencyKey)
	assert.Equal(t, "acct_9", gateway.transferCalls[0].Destination)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBooking_FullRefundBracket(t *testing.T) {
	gateway := &fakeGateway{}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	// Departure 72h out: full refund, nothing for the driver
	trip := publishedTrip()
	trip.DepartureAt = testNow.Add(72 * time.Hour)

	// Claim phase
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectExec(`SET refunded_at = NOW\(\)`).
		WithArgs("bk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Finalize phase restores the seats
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectExec(`SET status = 'cancelled'`).
		WithArgs("bk-1", 2300).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`LEAST\(available_seats \+ \$2, seats_total\)`).
		WithArgs("trip-1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	resp, err := ledger.CancelBooking(context.Background(), "pass-1", "bk-1")

	require.NoError(t, err)
	assert.Equal(t, 2300, resp.RefundedAmount)
	assert.Equal(t, 0, resp.DriverReceives)
	assert.InDelta(t, 72.0, resp.HoursUntilDeparture, 0.01)

	require.Len(t, gateway.refundCalls, 1)
	assert.Equal(t, 2300, gateway.refundCalls[0].Amount)
	assert.Empty(t, gateway.transferCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBooking_GatewayTimeoutReleasesClaim(t *testing.T) {
	gateway := &fakeGateway{
		refundFn: func(params RefundParams) (*Refund, error) {
			return nil, models.NewGatewayTimeout("payment provider timed out", errors.New("deadline exceeded"))
		},
	}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	trip := publishedTrip()
	trip.DepartureAt = testNow.Add(72 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectExec(`SET refunded_at = NOW\(\)`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(`SET refunded_at = NULL`).
		WithArgs("bk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := ledger.CancelBooking(context.Background(), "pass-1", "bk-1")

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeGatewayTimeout, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelBooking_AlreadyClaimedConflicts(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	booking := paidBooking()
	refundedAt := testNow.Add(-time.Minute)
	booking.RefundedAt = &refundedAt

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(booking))
	mock.ExpectRollback()

	_, err := ledger.CancelBooking(context.Background(), "pass-1", "bk-1")

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeConflict, appErr.Code)
}

func TestCancelTrip_RefundFailuresAreCounted(t *testing.T) {
	refunds := 0
	gateway := &fakeGateway{
		refundFn: func(params RefundParams) (*Refund, error) {
			refunds++
			if refunds == 2 {
				return nil, models.NewGatewayError("provider rejected the refund", nil)
			}
			return &Refund{ID: "re_1", Status: "succeeded"}, nil
		},
	}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	paid1 := paidBooking()
	paid2 := paidBooking()
	paid2.ID = "bk-2"
	paid2.PassengerID = "pass-2"
	paid2.PaymentIntentID = strPtr("pi_2")
	pending := paidBooking()
	pending.ID = "bk-3"
	pending.Status = models.BookingStatusPending

	rows := sqlmock.NewRows(bookingTestColumns).
		AddRow(bookingValues(paid1)...).
		AddRow(bookingValues(paid2)...).
		AddRow(bookingValues(pending)...)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectExec(`UPDATE trips SET status = \$2`).
		WithArgs("trip-1", models.TripStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM bookings`).
		WithArgs("trip-1").
		WillReturnRows(rows)

	// First paid booking refunds cleanly
	mock.ExpectExec(`SET refunded_at = NOW\(\)`).
		WithArgs("bk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'refunded'`).
		WithArgs("bk-1", 2300).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Second paid booking hits a gateway failure but is still closed out
	mock.ExpectExec(`SET refunded_at = NOW\(\)`).
		WithArgs("bk-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`SET status = 'refunded'`).
		WithArgs("bk-2", 2300).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Pending booking can never settle once the trip is gone
	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs("bk-3").
		WillReturnResult(sqlmock.NewResult(0, 1))

	report, err := ledger.CancelTrip(context.Background(), "driver-1", "trip-1")

	require.NoError(t, err)
	assert.Equal(t, 2, report.BookingsRefunded)
	assert.Equal(t, 1, report.RefundFailures)
	require.Len(t, report.FailureReasons, 1)
	assert.Contains(t, report.FailureReasons[0], "bk-2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelTrip_WrongDriverForbidden(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectRollback()

	_, err := ledger.CancelTrip(context.Background(), "driver-2", "trip-1")

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeForbidden, appErr.Code)
}

func TestCompleteBooking_LastBookingCompletesTripAndPaysDriver(t *testing.T) {
	gateway := &fakeGateway{}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	trip := publishedTrip()
	trip.DepartureAt = testNow.Add(-24 * time.Hour)
	trip.ReturnAt = testNow.Add(-2 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectExec(`SET status = 'completed'`).
		WithArgs("bk-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("trip-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE trips SET status = \$2`).
		WithArgs("trip-1", models.TripStatusCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Driver payout after the completion committed
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("driver-1").
		WillReturnRows(userRow(payoutDriver()))
	mock.ExpectExec(`SET transfer_id = \$2`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := ledger.CompleteBooking(context.Background(), "pass-1", "bk-1")

	require.NoError(t, err)
	assert.True(t, resp.CanReview)
	require.Len(t, gateway.transferCalls, 1)
	assert.Equal(t, 2000, gateway.transferCalls[0].Amount)
	assert.Equal(t, "payout-bk-1", gateway.transferCalls[0].IdempotencyKey)
	assert.Equal(t, "acct_9", gateway.transferCalls[0].Destination)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteBooking_AlreadyPaidOutSkipsTransfer(t *testing.T) {
	gateway := &fakeGateway{}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	trip := publishedTrip()
	trip.DepartureAt = testNow.Add(-24 * time.Hour)
	trip.ReturnAt = testNow.Add(-2 * time.Hour)

	booking := paidBooking()
	booking.TransferID = strPtr("tr_1")

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(booking))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectExec(`SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()

	_, err := ledger.CompleteBooking(context.Background(), "pass-1", "bk-1")

	require.NoError(t, err)
	assert.Empty(t, gateway.transferCalls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteBooking_TransferFailureStillCompletes(t *testing.T) {
	gateway := &fakeGateway{
		transferFn: func(params TransferParams) (*Transfer, error) {
			return nil, models.NewGatewayError("provider rejected the transfer", nil)
		},
	}
	ledger, mock := newLedgerForTest(t, gateway, func() time.Time { return testNow })

	trip := publishedTrip()
	trip.DepartureAt = testNow.Add(-24 * time.Hour)
	trip.ReturnAt = testNow.Add(-2 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectExec(`SET status = 'completed'`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectCommit()
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WillReturnRows(userRow(payoutDriver()))

	// The completion stands; the missing transfer is left for the sweep
	resp, err := ledger.CompleteBooking(context.Background(), "pass-1", "bk-1")

	require.NoError(t, err)
	assert.Equal(t, "bk-1", resp.BookingID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookingDetails(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	passenger := &models.User{
		ID: "pass-1", Email: "p@example.com", FirstName: "Pavel", LastName: "Novak",
		CreatedAt: testNow,
	}

	mock.ExpectQuery(`FROM bookings WHERE id = \$1`).
		WithArgs("bk-1").
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1`).
		WithArgs("trip-1").
		WillReturnRows(tripRow(publishedTrip()))
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("driver-1").
		WillReturnRows(userRow(payoutDriver()))
	mock.ExpectQuery(`FROM users WHERE id = \$1`).
		WithArgs("pass-1").
		WillReturnRows(userRow(passenger))
	mock.ExpectQuery(`FROM conversations`).
		WithArgs("bk-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "booking_id", "driver_id", "passenger_id", "created_at"}).
			AddRow("conv-1", "bk-1", "driver-1", "pass-1", testNow))

	details, err := ledger.GetBookingDetails("pass-1", "bk-1")

	require.NoError(t, err)
	assert.Equal(t, "bk-1", details.Booking.ID)
	assert.Equal(t, "trip-1", details.Trip.ID)
	assert.Equal(t, "Dora M.", details.Driver.Name)
	assert.Equal(t, "Pavel N.", details.Passenger.Name)
	require.NotNil(t, details.ConversationID)
	assert.Equal(t, "conv-1", *details.ConversationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBookingDetails_StrangerForbidden(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	mock.ExpectQuery(`FROM bookings WHERE id = \$1`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1`).
		WillReturnRows(tripRow(publishedTrip()))

	_, err := ledger.GetBookingDetails("someone-else", "bk-1")

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeForbidden, appErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteBooking_BeforeReturnTooEarly(t *testing.T) {
	ledger, mock := newLedgerForTest(t, &fakeGateway{}, func() time.Time { return testNow })

	// Departed but not yet back; completion must wait for the return
	trip := publishedTrip()
	trip.DepartureAt = testNow.Add(-time.Hour)
	trip.ReturnAt = testNow.Add(95 * time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM bookings WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(bookingRow(paidBooking()))
	mock.ExpectQuery(`FROM trips WHERE id = \$1 FOR UPDATE`).
		WillReturnRows(tripRow(trip))
	mock.ExpectRollback()

	_, err := ledger.CompleteBooking(context.Background(), "pass-1", "bk-1")

	appErr, ok := models.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrCodeTooEarly, appErr.Code)
}
