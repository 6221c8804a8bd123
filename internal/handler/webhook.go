package handler

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// PaymentWebhook handles POST /webhooks/payments. The event is verified
// against the provider signature before anything is applied; events that do
// not concern a known booking are acknowledged and ignored.
func (s *Server) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if s.verifyWebhook == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("webhooks_disabled", "payment webhooks are not configured"))
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request_too_large", "request body too large"))
			return
		}
		requestError(w, "unreadable request body")
		return
	}

	ev, err := s.verifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("rejected payment webhook", zap.Error(err))
		s.writeError(w, r, err)
		return
	}

	if err := s.txs.OnPaymentEvent(r.Context(), ev); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
