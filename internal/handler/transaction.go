package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/service"
)

// CodeRequest is the body of the pickup and delivery confirmations.
type CodeRequest struct {
	Code string `json:"code"`
}

// ResolveDisputeRequest is the body of POST /transactions/{id}/dispute/resolve.
type ResolveDisputeRequest struct {
	Outcome service.DisputeOutcome `json:"outcome"`
	Notes   string                 `json:"notes"`
}

// ListTransactions handles GET /transactions: the caller's bookings as
// sender or traveler, newest first.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	page, err := s.txs.List(r.Context(), a, pagination(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]TransactionResponse, len(page.Items))
	for i, tx := range page.Items {
		items[i] = transactionView(a, tx)
	}
	writeJSON(w, http.StatusOK, domain.Page[TransactionResponse]{
		Items: items, Total: page.Total, Page: page.Page, Limit: page.Limit,
	})
}

// GetTransaction handles GET /transactions/{id}.
func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := s.txs.Get(r.Context(), a, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(a, tx))
}

// ConfirmPickup handles POST /transactions/{id}/pickup.
func (s *Server) ConfirmPickup(w http.ResponseWriter, r *http.Request) {
	s.withCode(w, r, s.txs.ConfirmPickup)
}

// ConfirmDelivery handles POST /transactions/{id}/delivery. A correct code
// captures the payment and credits the traveler.
func (s *Server) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	s.withCode(w, r, s.txs.ConfirmDelivery)
}

// CancelTransaction handles POST /transactions/{id}/cancel.
func (s *Server) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	s.withReason(w, r, s.txs.Cancel)
}

// OpenDispute handles POST /transactions/{id}/dispute.
func (s *Server) OpenDispute(w http.ResponseWriter, r *http.Request) {
	s.withReason(w, r, s.txs.OpenDispute)
}

// ResolveDispute handles POST /transactions/{id}/dispute/resolve. Admin only.
func (s *Server) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body ResolveDisputeRequest
	if !decodeBody(w, r, &body, false) {
		return
	}
	tx, err := s.txs.ResolveDispute(r.Context(), a, id, body.Outcome, body.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(a, tx))
}

// ListCredits handles GET /wallet/credits: the payouts credited to the caller.
func (s *Server) ListCredits(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	credits, err := s.txs.Credits(r.Context(), a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if credits == nil {
		credits = []domain.WalletCredit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": credits})
}

type txAction func(ctx context.Context, actor domain.Actor, id uuid.UUID, arg string) (domain.Transaction, error)

func (s *Server) withCode(w http.ResponseWriter, r *http.Request, act txAction) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body CodeRequest
	if !decodeBody(w, r, &body, false) {
		return
	}
	if body.Code == "" {
		requestError(w, "code is required")
		return
	}
	s.respondTx(w, r, a, id, body.Code, act)
}

func (s *Server) withReason(w http.ResponseWriter, r *http.Request, act txAction) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body ReasonRequest
	if !decodeBody(w, r, &body, true) {
		return
	}
	s.respondTx(w, r, a, id, body.Reason, act)
}

func (s *Server) respondTx(w http.ResponseWriter, r *http.Request, a domain.Actor, id uuid.UUID, arg string, act txAction) {
	tx, err := act(r.Context(), a, id, arg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(a, tx))
}
