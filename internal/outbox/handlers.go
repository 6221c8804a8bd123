package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// LoggingHandler writes transaction events to the log. It stands in for a
// broker in development.
type LoggingHandler struct {
	logger *zap.Logger
}

func NewLoggingHandler(logger *zap.Logger) *LoggingHandler {
	return &LoggingHandler{logger: logger}
}

func (h *LoggingHandler) HandleMessage(_ context.Context, msg domain.OutboxMessage) error {
	var ev domain.TransactionEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("outbox.LoggingHandler: decode payload: %w", err)
	}
	h.logger.Info("transaction event",
		zap.Int64("message_id", msg.ID),
		zap.String("event_type", msg.EventType),
		zap.Stringer("transaction_id", ev.TransactionID),
		zap.String("previous_status", string(ev.PreviousStatus)),
		zap.String("status", string(ev.Status)),
		zap.Time("occurred_at", ev.OccurredAt))
	return nil
}

// NewKafkaProducer dials brokers with a producer that waits for every
// in-sync replica.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 500 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 5 * time.Second

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("outbox.NewKafkaProducer: %w", err)
	}
	return p, nil
}

// KafkaHandler publishes messages to a topic keyed by aggregate ID, so every
// event of one transaction lands on the same partition in order.
type KafkaHandler struct {
	producer sarama.SyncProducer
	topic    string
	logger   *zap.Logger
}

func NewKafkaHandler(producer sarama.SyncProducer, topic string, logger *zap.Logger) *KafkaHandler {
	return &KafkaHandler{producer: producer, topic: topic, logger: logger}
}

func (h *KafkaHandler) HandleMessage(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pm := &sarama.ProducerMessage{
		Topic: h.topic,
		Key:   sarama.StringEncoder(msg.AggregateID),
		Value: sarama.ByteEncoder(msg.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(msg.EventType)},
			{Key: []byte("aggregate_type"), Value: []byte(msg.AggregateType)},
		},
	}
	partition, offset, err := h.producer.SendMessage(pm)
	if err != nil {
		return fmt.Errorf("outbox.KafkaHandler: publish to %s: %w", h.topic, err)
	}
	h.logger.Debug("published outbox message",
		zap.String("topic", h.topic),
		zap.Int64("message_id", msg.ID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

// Close closes the underlying producer.
func (h *KafkaHandler) Close() error {
	return h.producer.Close()
}
