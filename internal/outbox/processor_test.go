package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/testutil"
)

type handlerFunc func(ctx context.Context, msg domain.OutboxMessage) error

func (f handlerFunc) HandleMessage(ctx context.Context, msg domain.OutboxMessage) error {
	return f(ctx, msg)
}

var _ MessageHandler = handlerFunc(nil)

func enqueue(t *testing.T, store *testutil.MemStore, status domain.TransactionStatus) domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewTransactionUpdatedMessage(domain.Transaction{
		ID: uuid.New(), TripID: uuid.New(), Status: status,
	}, "", "", time.Now().UTC())
	require.NoError(t, err)
	msg, err = store.Outbox().Enqueue(context.Background(), msg)
	require.NoError(t, err)
	return msg
}

func statusOf(store *testutil.MemStore, id int64) domain.OutboxStatus {
	for _, m := range store.Messages() {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

func messageOf(store *testutil.MemStore, id int64) domain.OutboxMessage {
	for _, m := range store.Messages() {
		if m.ID == id {
			return m
		}
	}
	return domain.OutboxMessage{}
}

// strictOutbox refuses writes on a finished context, like a real database
// driver does.
type strictOutbox struct {
	repo.OutboxRepo
}

func (r strictOutbox) MarkCompleted(ctx context.Context, id int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.OutboxRepo.MarkCompleted(ctx, id)
}

func (r strictOutbox) MarkRetry(ctx context.Context, id int64, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.OutboxRepo.MarkRetry(ctx, id, lastErr)
}

func (r strictOutbox) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.OutboxRepo.MarkFailed(ctx, id, lastErr)
}

func TestProcessor_ProcessBatch_Delivers(t *testing.T) {
	store := testutil.NewMemStore()
	first := enqueue(t, store, domain.StatusPaymentPending)
	second := enqueue(t, store, domain.StatusPaymentEscrowed)

	var seen []int64
	p := NewProcessor(store.Outbox(), ProcessorConfig{}, zap.NewNop())
	p.RegisterHandler(domain.EventTransactionUpdated, handlerFunc(func(_ context.Context, msg domain.OutboxMessage) error {
		seen = append(seen, msg.ID)
		return nil
	}))

	n, err := p.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{first.ID, second.ID}, seen, "oldest first")
	assert.Equal(t, domain.OutboxCompleted, statusOf(store, first.ID))
	assert.Equal(t, domain.OutboxCompleted, statusOf(store, second.ID))

	n, err = p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "completed messages are not redelivered")
}

func TestProcessor_ProcessBatch_RetriesThenParks(t *testing.T) {
	store := testutil.NewMemStore()
	msg := enqueue(t, store, domain.StatusPaymentPending)

	calls := 0
	p := NewProcessor(store.Outbox(), ProcessorConfig{MaxAttempts: 3}, zap.NewNop())
	p.RegisterHandler(domain.EventTransactionUpdated, handlerFunc(func(context.Context, domain.OutboxMessage) error {
		calls++
		return errors.New("broker unavailable")
	}))

	for i := 0; i < 2; i++ {
		_, err := p.ProcessBatch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, domain.OutboxPending, statusOf(store, msg.ID))
	}
	_, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, calls)
	assert.Equal(t, domain.OutboxFailed, statusOf(store, msg.ID))
	last := store.Messages()[0]
	require.NotNil(t, last.LastError)
	assert.Contains(t, *last.LastError, "broker unavailable")
}

func TestProcessor_ProcessBatch_UnknownEventType(t *testing.T) {
	store := testutil.NewMemStore()
	msg := enqueue(t, store, domain.StatusPaymentPending)
	p := NewProcessor(store.Outbox(), ProcessorConfig{}, zap.NewNop())

	n, err := p.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, domain.OutboxFailed, statusOf(store, msg.ID))
}

func TestProcessor_StartStop(t *testing.T) {
	store := testutil.NewMemStore()
	msg := enqueue(t, store, domain.StatusPaymentPending)

	var delivered atomic.Int32
	p := NewProcessor(store.Outbox(), ProcessorConfig{PollInterval: 10 * time.Millisecond}, zap.NewNop())
	p.RegisterHandler(domain.EventTransactionUpdated, handlerFunc(func(context.Context, domain.OutboxMessage) error {
		delivered.Add(1)
		return nil
	}))

	p.Start(context.Background())
	p.Start(context.Background())
	assert.Eventually(t, func() bool {
		return statusOf(store, msg.ID) == domain.OutboxCompleted
	}, time.Second, 10*time.Millisecond)
	p.Stop()
	p.Stop()

	assert.Equal(t, int32(1), delivered.Load())
}

func TestProcessor_ProcessBatch_SlowHandlerIsRescheduled(t *testing.T) {
	store := testutil.NewMemStore()
	slow := enqueue(t, store, domain.StatusPaymentPending)
	fast := enqueue(t, store, domain.StatusPaymentEscrowed)

	p := NewProcessor(strictOutbox{store.Outbox()}, ProcessorConfig{
		PollInterval:   10 * time.Millisecond,
		HandlerTimeout: 30 * time.Millisecond,
	}, zap.NewNop())
	p.RegisterHandler(domain.EventTransactionUpdated, handlerFunc(func(ctx context.Context, msg domain.OutboxMessage) error {
		if msg.ID == slow.ID {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}))

	n, err := p.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := messageOf(store, slow.ID)
	assert.Equal(t, domain.OutboxPending, got.Status, "a timed-out delivery goes back to pending")
	require.NotNil(t, got.LastError)
	assert.Contains(t, *got.LastError, "deadline exceeded")
	assert.Nil(t, got.ClaimedAt)
	assert.Equal(t, domain.OutboxCompleted, statusOf(store, fast.ID), "the rest of the batch is unaffected")
}

func TestProcessor_ProcessBatch_StopMidBatchReleasesClaims(t *testing.T) {
	store := testutil.NewMemStore()
	first := enqueue(t, store, domain.StatusPaymentPending)
	second := enqueue(t, store, domain.StatusPaymentEscrowed)
	third := enqueue(t, store, domain.StatusPackagePickedUp)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	calls := 0
	p := NewProcessor(strictOutbox{store.Outbox()}, ProcessorConfig{}, zap.NewNop())
	p.RegisterHandler(domain.EventTransactionUpdated, handlerFunc(func(context.Context, domain.OutboxMessage) error {
		calls++
		cancel()
		return nil
	}))

	n, err := p.ProcessBatch(ctx)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.Equal(t, domain.OutboxCompleted, statusOf(store, first.ID), "the outcome is recorded after cancellation")
	for _, id := range []int64{second.ID, third.ID} {
		got := messageOf(store, id)
		assert.Equal(t, domain.OutboxPending, got.Status)
		require.NotNil(t, got.LastError)
		assert.Contains(t, *got.LastError, "processor stopped")
	}
}

func TestProcessor_ProcessBatch_ReclaimsStaleClaims(t *testing.T) {
	store := testutil.NewMemStore()
	msg := enqueue(t, store, domain.StatusPaymentPending)
	// A worker claims the message and dies before recording anything.
	_, err := store.Outbox().ClaimPending(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Equal(t, domain.OutboxProcessing, statusOf(store, msg.ID))

	p := NewProcessor(store.Outbox(), ProcessorConfig{VisibilityTimeout: time.Hour}, zap.NewNop())
	p.RegisterHandler(domain.EventTransactionUpdated, handlerFunc(func(context.Context, domain.OutboxMessage) error {
		return nil
	}))
	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "a recent claim is left to its owner")

	p = NewProcessor(store.Outbox(), ProcessorConfig{VisibilityTimeout: time.Millisecond}, zap.NewNop())
	p.RegisterHandler(domain.EventTransactionUpdated, handlerFunc(func(context.Context, domain.OutboxMessage) error {
		return nil
	}))
	time.Sleep(5 * time.Millisecond)
	n, err = p.ProcessBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	got := messageOf(store, msg.ID)
	assert.Equal(t, domain.OutboxCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessingAttempts)
}
