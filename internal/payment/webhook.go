package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// Provider event types the escrow flow reacts to.
const (
	EventHoldAuthorized = "payment_intent.amount_capturable_updated"
	EventHoldSucceeded  = "payment_intent.succeeded"
	EventHoldFailed     = "payment_intent.payment_failed"
	EventHoldCanceled   = "payment_intent.canceled"
)

// WebhookEvent is a verified provider notification reduced to what the
// escrow flow needs.
type WebhookEvent struct {
	ID            string
	Type          string
	HoldID        string
	Amount        int64
	FailureReason string
	Metadata      map[string]string
}

// ParseWebhook verifies the signature header against secret and decodes the
// event. Signature failures are validation errors.
func ParseWebhook(payload []byte, sigHeader, secret string) (WebhookEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, fmt.Errorf("payment.ParseWebhook: %w", &domain.Error{
			Kind:    domain.ErrValidation,
			Message: "webhook signature verification failed",
		})
	}

	out := WebhookEvent{ID: ev.ID, Type: string(ev.Type)}
	if !strings.HasPrefix(out.Type, "payment_intent.") || ev.Data == nil {
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, fmt.Errorf("payment.ParseWebhook: decode payment intent: %w",
			domain.Errorf(domain.ErrValidation, "malformed webhook payload"))
	}
	out.HoldID = pi.ID
	out.Amount = pi.Amount
	out.Metadata = pi.Metadata
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
		if out.FailureReason == "" {
			out.FailureReason = string(pi.LastPaymentError.Code)
		}
	}
	return out, nil
}
