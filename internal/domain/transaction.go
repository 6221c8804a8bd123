package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionStatus is the escrow status of a booking. Values are the exact
// lowercase strings exchanged with clients and stored in the database.
type TransactionStatus string

const (
	StatusPaymentPending   TransactionStatus = "payment_pending"
	StatusPaymentEscrowed  TransactionStatus = "payment_escrowed"
	StatusPackagePickedUp  TransactionStatus = "package_picked_up"
	StatusPackageDelivered TransactionStatus = "package_delivered"
	StatusPaymentReleased  TransactionStatus = "payment_released"
	StatusCancelled        TransactionStatus = "cancelled"
	StatusDisputed         TransactionStatus = "disputed"
	StatusRefunded         TransactionStatus = "refunded"
)

// WeightConsumingStatuses are the statuses whose package weight counts
// against the trip capacity.
var WeightConsumingStatuses = []TransactionStatus{
	StatusPaymentPending,
	StatusPaymentEscrowed,
	StatusPackagePickedUp,
	StatusPackageDelivered,
	StatusPaymentReleased,
}

// ConsumesWeight reports whether a transaction in status s holds trip capacity.
func (s TransactionStatus) ConsumesWeight() bool {
	for _, c := range WeightConsumingStatuses {
		if s == c {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s TransactionStatus) Terminal() bool {
	return s == StatusPaymentReleased || s == StatusCancelled || s == StatusRefunded
}

// Cancellable reports whether a booking in status s may still be cancelled.
// Once the package is delivered or the payment released, money has moved.
func (s TransactionStatus) Cancellable() bool {
	return s == StatusPaymentPending || s == StatusPaymentEscrowed || s == StatusPackagePickedUp
}

// StatusEntry is one row of the append-only status history.
type StatusEntry struct {
	Status    TransactionStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Notes     string            `json:"notes,omitempty"`
}

// Transaction is a single booking of trip capacity by a sender.
// Amounts are in minor currency units (cents).
type Transaction struct {
	ID                 uuid.UUID         `json:"id"`
	TripID             uuid.UUID         `json:"trip_id"`
	SenderID           uuid.UUID         `json:"sender_id"`
	TravelerID         uuid.UUID         `json:"traveler_id"`
	Amount             int64             `json:"amount"`
	ServiceFee         int64             `json:"service_fee"`
	TravelerAmount     int64             `json:"traveler_amount"`
	Currency           string            `json:"currency"`
	PackageWeight      decimal.Decimal   `json:"package_weight"`
	Description        string            `json:"description"`
	PickupCode         string            `json:"-"`
	DeliveryCode       string            `json:"-"`
	Status             TransactionStatus `json:"status"`
	StatusHistory      []StatusEntry     `json:"status_history"`
	PaymentIntentID    string            `json:"payment_intent_id,omitempty"`
	InternalNotes      []string          `json:"-"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	IdempotencyKey     string            `json:"-"`
	PickedUpAt         *time.Time        `json:"picked_up_at,omitempty"`
	DeliveredAt        *time.Time        `json:"delivered_at,omitempty"`
	PaymentReleasedAt  *time.Time        `json:"payment_released_at,omitempty"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Clone returns a deep copy so callers can derive a new snapshot without
// aliasing the history or notes slices of the original.
func (t Transaction) Clone() Transaction {
	c := t
	c.StatusHistory = append([]StatusEntry(nil), t.StatusHistory...)
	c.InternalNotes = append([]string(nil), t.InternalNotes...)
	return c
}

// IsParty reports whether userID is the sender or the traveler of t.
func (t Transaction) IsParty(userID uuid.UUID) bool {
	return userID == t.SenderID || userID == t.TravelerID
}

// WalletCredit is the instruction handed to the wallet ledger when escrowed
// funds are released to a traveler. One per transaction at most.
type WalletCredit struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"created_at"`
}
