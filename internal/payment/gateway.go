// Package payment adapts the card payment provider to the escrow flow.
// Funds are authorized up front as a hold, captured on delivery, and voided
// or refunded when a booking is cancelled. All amounts are in minor units.
package payment

import (
	"context"
	"fmt"
)

// HoldStatus mirrors the provider's payment intent status.
type HoldStatus string

const (
	HoldRequiresPaymentMethod HoldStatus = "requires_payment_method"
	HoldRequiresConfirmation  HoldStatus = "requires_confirmation"
	HoldRequiresAction        HoldStatus = "requires_action"
	HoldProcessing            HoldStatus = "processing"
	HoldRequiresCapture       HoldStatus = "requires_capture"
	HoldSucceeded             HoldStatus = "succeeded"
	HoldCanceled              HoldStatus = "canceled"
)

// Authorized reports whether the funds are secured: either held and awaiting
// capture, or already captured.
func (s HoldStatus) Authorized() bool {
	return s == HoldRequiresCapture || s == HoldSucceeded
}

// HoldRequest describes a new authorization.
type HoldRequest struct {
	Amount      int64
	Currency    string
	PayeeRef    string
	Description string
	// IdempotencyKey makes a retried request return the original hold.
	IdempotencyKey string
	Metadata       map[string]string
}

// Hold is a payment authorization. ClientSecret is handed to the payer's
// client to confirm the payment.
type Hold struct {
	ID           string
	ClientSecret string
	Status       HoldStatus
	Amount       int64
}

// Capture is the result of capturing a hold.
type Capture struct {
	Status         HoldStatus
	CapturedAmount int64
}

// Refund is the result of returning funds to the payer.
type Refund struct {
	ID     string
	Status string
	Amount int64
}

// Gateway is the payment provider seen by the escrow flow. Implementations
// bound every call by a timeout and report failures wrapping domain.ErrGateway.
// Capture, Void and Refund take an idempotency key and are never retried by
// the implementation; Retrieve may be retried once.
type Gateway interface {
	CreateHold(ctx context.Context, req HoldRequest) (Hold, error)
	Capture(ctx context.Context, holdID, idempotencyKey string) (Capture, error)
	Void(ctx context.Context, holdID, idempotencyKey string) (HoldStatus, error)
	// Refund returns amount (0 means everything) to the payer. A hold that was
	// never captured is voided instead.
	Refund(ctx context.Context, holdID string, amount int64, idempotencyKey string) (Refund, error)
	Retrieve(ctx context.Context, holdID string) (Hold, error)
}

// IdempotencyKey derives the provider idempotency key for an operation on a
// booking, so a retried request can never move money twice.
func IdempotencyKey(op, bookingID string) string {
	return fmt.Sprintf("cokilo:%s:%s", op, bookingID)
}
