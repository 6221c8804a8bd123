package payment_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
)

const webhookSecret = "whsec_test"

// sign produces a Stripe-Signature header for payload.
func sign(payload []byte, secret string, at time.Time) string {
	ts := at.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(typ string, intent string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"type": %q,
		"api_version": "2020-08-27",
		"data": {"object": %s}
	}`, typ, intent))
}

func TestParseWebhook_Authorized(t *testing.T) {
	payload := eventPayload(payment.EventHoldAuthorized,
		`{"id":"pi_1","object":"payment_intent","amount":3000,"status":"requires_capture","metadata":{"transaction_id":"tx-1"}}`)

	ev, err := payment.ParseWebhook(payload, sign(payload, webhookSecret, time.Now()), webhookSecret)

	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, payment.EventHoldAuthorized, ev.Type)
	assert.Equal(t, "pi_1", ev.HoldID)
	assert.Equal(t, int64(3000), ev.Amount)
	assert.Equal(t, "tx-1", ev.Metadata["transaction_id"])
}

func TestParseWebhook_FailureReason(t *testing.T) {
	payload := eventPayload(payment.EventHoldFailed,
		`{"id":"pi_1","object":"payment_intent","amount":3000,"status":"requires_payment_method",
		  "last_payment_error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`)

	ev, err := payment.ParseWebhook(payload, sign(payload, webhookSecret, time.Now()), webhookSecret)

	require.NoError(t, err)
	assert.Equal(t, "Your card was declined.", ev.FailureReason)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload := eventPayload(payment.EventHoldAuthorized, `{"id":"pi_1","object":"payment_intent"}`)

	tests := map[string]string{
		"wrong secret": sign(payload, "whsec_other", time.Now()),
		"stale":        sign(payload, webhookSecret, time.Now().Add(-time.Hour)),
		"missing":      "",
	}
	for name, header := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := payment.ParseWebhook(payload, header, webhookSecret)

			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestParseWebhook_OtherEventTypes(t *testing.T) {
	payload := eventPayload("customer.created", `{"id":"cus_1","object":"customer"}`)

	ev, err := payment.ParseWebhook(payload, sign(payload, webhookSecret, time.Now()), webhookSecret)

	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Empty(t, ev.HoldID)
}
