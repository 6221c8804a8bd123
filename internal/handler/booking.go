package handler

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/service"
)

// CreateBookingRequest is the body of POST /trips/{id}/bookings.
type CreateBookingRequest struct {
	Weight      decimal.Decimal `json:"weight"`
	Description string          `json:"description"`
}

// CheckoutResponse is a booking plus what the sender's client needs to
// complete the payment.
type CheckoutResponse struct {
	Transaction  TransactionResponse `json:"transaction"`
	ClientSecret string              `json:"client_secret,omitempty"`
	HoldStatus   payment.HoldStatus  `json:"hold_status,omitempty"`
}

// TransactionResponse is a booking as shown to one of its parties. The
// pickup and delivery codes are only included for the sender, who hands
// them over at the two checkpoints.
type TransactionResponse struct {
	domain.Transaction
	PickupCode   string `json:"pickup_code,omitempty"`
	DeliveryCode string `json:"delivery_code,omitempty"`
}

func transactionView(a domain.Actor, tx domain.Transaction) TransactionResponse {
	resp := TransactionResponse{Transaction: tx}
	if a.ID == tx.SenderID {
		resp.PickupCode = tx.PickupCode
		resp.DeliveryCode = tx.DeliveryCode
	}
	return resp
}

func checkoutView(a domain.Actor, co service.Checkout) CheckoutResponse {
	return CheckoutResponse{
		Transaction:  transactionView(a, co.Transaction),
		ClientSecret: co.ClientSecret,
		HoldStatus:   co.HoldStatus,
	}
}

// CreateBooking handles POST /trips/{id}/bookings. An Idempotency-Key header
// makes a retried request return the booking it created the first time.
func (s *Server) CreateBooking(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	tripID, ok := pathID(w, r)
	if !ok {
		return
	}
	var body CreateBookingRequest
	if !decodeBody(w, r, &body, false) {
		return
	}

	co, err := s.bookings.CreateBooking(r.Context(), a, service.BookingInput{
		TripID:         tripID,
		Weight:         body.Weight,
		Description:    body.Description,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutView(a, co))
}

// StartPayment handles POST /transactions/{id}/payment.
func (s *Server) StartPayment(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	co, err := s.bookings.StartPayment(r.Context(), a, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutView(a, co))
}

// ConfirmPayment handles POST /transactions/{id}/payment/confirm. The
// booking is returned unchanged while the hold is not yet authorized.
func (s *Server) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tx, err := s.bookings.ConfirmPayment(r.Context(), a, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionView(a, tx))
}
