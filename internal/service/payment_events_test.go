package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/service"
)

type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) Claim(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockGuard) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

var _ service.EventGuard = (*mockGuard)(nil)

// pendingWithHold books weight and opens an unauthorized hold.
func pendingWithHold(t *testing.T, h *harness) domain.Transaction {
	t.Helper()
	h.gw.AutoAuthorize = false
	trip := h.publishedTrip("10")
	sender := newSender()
	tx := h.book(t, trip, sender, "3")
	co, err := h.bookings.StartPayment(context.Background(), sender, tx.ID)
	require.NoError(t, err)
	return co.Transaction
}

func TestOnPaymentEvent_AuthorizedEscrows(t *testing.T) {
	h := newHarness(t)
	tx := pendingWithHold(t, h)

	err := h.txs.OnPaymentEvent(context.Background(), payment.WebhookEvent{
		ID: "evt_1", Type: payment.EventHoldAuthorized, HoldID: tx.PaymentIntentID,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentEscrowed, h.tx(t, tx.ID).Status)
}

func TestOnPaymentEvent_FindsBookingByMetadata(t *testing.T) {
	h := newHarness(t)
	trip := h.publishedTrip("10")
	tx := h.book(t, trip, newSender(), "3")

	err := h.txs.OnPaymentEvent(context.Background(), payment.WebhookEvent{
		ID:       "evt_1",
		Type:     payment.EventHoldSucceeded,
		HoldID:   "pi_external",
		Metadata: map[string]string{"transaction_id": tx.ID.String()},
	})

	require.NoError(t, err)
	got := h.tx(t, tx.ID)
	assert.Equal(t, domain.StatusPaymentEscrowed, got.Status)
	assert.Equal(t, "pi_external", got.PaymentIntentID)
}

func TestOnPaymentEvent_FailureAddsNote(t *testing.T) {
	h := newHarness(t)
	tx := pendingWithHold(t, h)

	err := h.txs.OnPaymentEvent(context.Background(), payment.WebhookEvent{
		ID: "evt_1", Type: payment.EventHoldFailed, HoldID: tx.PaymentIntentID, FailureReason: "card declined",
	})

	require.NoError(t, err)
	got := h.tx(t, tx.ID)
	assert.Equal(t, domain.StatusPaymentPending, got.Status)
	require.Len(t, got.InternalNotes, 1)
	assert.Contains(t, got.InternalNotes[0], "payment failed: card declined")
	assert.Len(t, got.StatusHistory, 1)
}

func TestOnPaymentEvent_CanceledHoldCancelsWithoutGatewayCall(t *testing.T) {
	h := newHarness(t)
	tx := pendingWithHold(t, h)

	err := h.txs.OnPaymentEvent(context.Background(), payment.WebhookEvent{
		ID: "evt_1", Type: payment.EventHoldCanceled, HoldID: tx.PaymentIntentID,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, h.tx(t, tx.ID).Status)
	assert.Zero(t, h.gw.Calls(payment.OpVoid))
	assert.True(t, h.trip(t, tx.TripID).ReservedWeight.IsZero())
}

func TestOnPaymentEvent_Ignored(t *testing.T) {
	h := newHarness(t)
	tx := h.escrowed(t, h.publishedTrip("10"), newSender(), "2")

	tests := map[string]payment.WebhookEvent{
		"unknown hold":     {ID: "evt_1", Type: payment.EventHoldAuthorized, HoldID: "pi_nobody"},
		"unhandled type":   {ID: "evt_2", Type: "charge.refunded", HoldID: tx.PaymentIntentID},
		"already escrowed": {ID: "evt_3", Type: payment.EventHoldAuthorized, HoldID: tx.PaymentIntentID},
		"failure too late": {ID: "evt_4", Type: payment.EventHoldFailed, HoldID: tx.PaymentIntentID},
		"foreign metadata": {ID: "evt_5", Type: payment.EventHoldCanceled, HoldID: "pi_other", Metadata: map[string]string{"transaction_id": tx.ID.String()}},
		"malformed ref":    {ID: "evt_6", Type: payment.EventHoldCanceled, Metadata: map[string]string{"transaction_id": "nope"}},
	}
	for name, ev := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, h.txs.OnPaymentEvent(context.Background(), ev))
		})
	}
	assert.Equal(t, domain.StatusPaymentEscrowed, h.tx(t, tx.ID).Status)
}

func TestOnPaymentEvent_DuplicateSkipped(t *testing.T) {
	guard := new(mockGuard)
	h := newHarnessWith(t, service.BookingConfig{}, guard)
	trip := h.publishedTrip("10")
	tx := h.book(t, trip, newSender(), "3")

	guard.On("Claim", mock.Anything, "payment-event:evt_1").Return(false, nil).Once()

	err := h.txs.OnPaymentEvent(context.Background(), payment.WebhookEvent{
		ID: "evt_1", Type: payment.EventHoldCanceled, Metadata: map[string]string{"transaction_id": tx.ID.String()},
	})

	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaymentPending, h.tx(t, tx.ID).Status)
	guard.AssertExpectations(t)
}

func TestOnPaymentEvent_ReleasesClaimOnFailure(t *testing.T) {
	guard := new(mockGuard)
	h := newHarnessWith(t, service.BookingConfig{}, guard)
	tx := h.escrowed(t, h.publishedTrip("10"), newSender(), "3")

	guard.On("Claim", mock.Anything, "payment-event:evt_9").Return(true, nil).Once()
	guard.On("Release", mock.Anything, "payment-event:evt_9").Return(nil).Once()

	// A canceled-hold event on an escrowed booking is applied as a cancel;
	// make the store fail it by cancelling the context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.txs.OnPaymentEvent(ctx, payment.WebhookEvent{
		ID: "evt_9", Type: payment.EventHoldCanceled, HoldID: tx.PaymentIntentID,
	})

	require.Error(t, err)
	assert.Equal(t, domain.StatusPaymentEscrowed, h.tx(t, tx.ID).Status)
	guard.AssertExpectations(t)
}

func TestOnPaymentEvent_ClaimError(t *testing.T) {
	guard := new(mockGuard)
	h := newHarnessWith(t, service.BookingConfig{}, guard)
	guard.On("Claim", mock.Anything, "payment-event:evt_1").Return(false, errors.New("redis down")).Once()

	err := h.txs.OnPaymentEvent(context.Background(), payment.WebhookEvent{
		ID: "evt_1", Type: payment.EventHoldAuthorized, HoldID: "pi_1",
	})

	require.Error(t, err)
	guard.AssertExpectations(t)
}
