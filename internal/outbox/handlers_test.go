package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/Shopify/sarama/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

func sampleMessage(t *testing.T) domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewTransactionUpdatedMessage(domain.Transaction{
		ID: uuid.New(), TripID: uuid.New(), Status: domain.StatusPaymentEscrowed,
	}, domain.StatusPaymentPending, "", time.Now().UTC())
	require.NoError(t, err)
	msg.ID = 7
	return msg
}

func TestKafkaHandler_Publishes(t *testing.T) {
	msg := sampleMessage(t)
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev domain.TransactionEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.Status != domain.StatusPaymentEscrowed {
			return errors.New("unexpected status " + string(ev.Status))
		}
		return nil
	})
	h := NewKafkaHandler(producer, "transactions.updates", zap.NewNop())

	err := h.HandleMessage(context.Background(), msg)

	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestKafkaHandler_PublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrNotLeaderForPartition)
	h := NewKafkaHandler(producer, "transactions.updates", zap.NewNop())

	err := h.HandleMessage(context.Background(), sampleMessage(t))

	require.ErrorIs(t, err, sarama.ErrNotLeaderForPartition)
	require.NoError(t, h.Close())
}

func TestKafkaHandler_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	h := NewKafkaHandler(producer, "transactions.updates", zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.HandleMessage(ctx, sampleMessage(t))

	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, h.Close())
}

func TestLoggingHandler(t *testing.T) {
	h := NewLoggingHandler(zap.NewNop())

	require.NoError(t, h.HandleMessage(context.Background(), sampleMessage(t)))

	bad := sampleMessage(t)
	bad.Payload = json.RawMessage(`{`)
	assert.Error(t, h.HandleMessage(context.Background(), bad))
}
