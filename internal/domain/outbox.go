package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the delivery status of an outbox message.
type OutboxStatus string

const (
	OutboxPending    OutboxStatus = "pending"
	OutboxProcessing OutboxStatus = "processing"
	OutboxCompleted  OutboxStatus = "completed"
	OutboxFailed     OutboxStatus = "failed"
)

// Event types written to the outbox.
const (
	EventTransactionUpdated = "transaction.updated"
)

// OutboxMessage is a notification recorded in the same database transaction
// as the state change it describes, and delivered later by the outbox worker.
type OutboxMessage struct {
	ID                 int64           `json:"id"`
	AggregateType      string          `json:"aggregate_type"`
	AggregateID        string          `json:"aggregate_id"`
	EventType          string          `json:"event_type"`
	Payload            json.RawMessage `json:"payload"`
	Status             OutboxStatus    `json:"status"`
	ProcessingAttempts int             `json:"processing_attempts"`
	LastError          *string         `json:"last_error,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	ClaimedAt          *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt        *time.Time      `json:"processed_at,omitempty"`
}

// TransactionEvent is the payload of a transaction.updated message. It never
// carries the pickup or delivery codes.
type TransactionEvent struct {
	EventID        uuid.UUID         `json:"event_id"`
	TransactionID  uuid.UUID         `json:"transaction_id"`
	TripID         uuid.UUID         `json:"trip_id"`
	SenderID       uuid.UUID         `json:"sender_id"`
	TravelerID     uuid.UUID         `json:"traveler_id"`
	PreviousStatus TransactionStatus `json:"previous_status,omitempty"`
	Status         TransactionStatus `json:"status"`
	Notes          string            `json:"notes,omitempty"`
	OccurredAt     time.Time         `json:"occurred_at"`
}

// NewTransactionUpdatedMessage builds the outbox message announcing that tx
// moved from previous to its current status.
func NewTransactionUpdatedMessage(tx Transaction, previous TransactionStatus, notes string, at time.Time) (OutboxMessage, error) {
	payload, err := json.Marshal(TransactionEvent{
		EventID:        uuid.New(),
		TransactionID:  tx.ID,
		TripID:         tx.TripID,
		SenderID:       tx.SenderID,
		TravelerID:     tx.TravelerID,
		PreviousStatus: previous,
		Status:         tx.Status,
		Notes:          notes,
		OccurredAt:     at,
	})
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		AggregateType: "transaction",
		AggregateID:   tx.ID.String(),
		EventType:     EventTransactionUpdated,
		Payload:       payload,
		Status:        OutboxPending,
		CreatedAt:     at,
	}, nil
}
