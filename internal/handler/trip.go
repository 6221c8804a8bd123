package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// CreateTripRequest is the body of POST /trips. Weights and prices accept
// JSON numbers or decimal strings.
type CreateTripRequest struct {
	Origin      string          `json:"origin"`
	Destination string          `json:"destination"`
	DepartureAt time.Time       `json:"departure_at"`
	CapacityKg  decimal.Decimal `json:"capacity_kg"`
	PricePerKg  decimal.Decimal `json:"price_per_kg"`
	Currency    string          `json:"currency"`
	Notes       string          `json:"notes"`
}

// ReasonRequest is the optional body of cancel and dispute endpoints.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// CreateTrip handles POST /trips.
func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body CreateTripRequest
	if !decodeBody(w, r, &body, false) {
		return
	}

	created, err := s.trips.Create(r.Context(), a, domain.Trip{
		Origin:      body.Origin,
		Destination: body.Destination,
		DepartureAt: body.DepartureAt,
		CapacityKg:  body.CapacityKg,
		PricePerKg:  body.PricePerKg,
		Currency:    body.Currency,
		Notes:       body.Notes,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// ListTrips handles GET /trips.
// Supports ?status=, ?traveler_id=, ?page= and ?limit= (defaults: page=1, limit=20, max=100).
func (s *Server) ListTrips(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.TripFilter{Status: domain.TripStatus(q.Get("status"))}
	if raw := q.Get("traveler_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			requestError(w, "traveler_id must be a UUID")
			return
		}
		f.TravelerID = id
	}

	page, err := s.trips.List(r.Context(), f, pagination(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// GetTrip handles GET /trips/{id}. The response carries live availability.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	trip, err := s.trips.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// PublishTrip handles POST /trips/{id}/publish.
func (s *Server) PublishTrip(w http.ResponseWriter, r *http.Request) {
	s.moveTrip(w, r, s.trips.Publish)
}

// StartTrip handles POST /trips/{id}/start.
func (s *Server) StartTrip(w http.ResponseWriter, r *http.Request) {
	s.moveTrip(w, r, s.trips.Start)
}

// CompleteTrip handles POST /trips/{id}/complete.
func (s *Server) CompleteTrip(w http.ResponseWriter, r *http.Request) {
	s.moveTrip(w, r, s.trips.Complete)
}

// CancelTrip handles POST /trips/{id}/cancel. Open bookings are cancelled
// with it.
func (s *Server) CancelTrip(w http.ResponseWriter, r *http.Request) {
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

	trip, err := s.trips.Cancel(r.Context(), a, id, body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// RefreshVisibility handles POST /admin/trips/refresh-visibility.
func (s *Server) RefreshVisibility(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	n, err := s.trips.RefreshVisibility(r.Context(), a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

type tripMove func(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error)

func (s *Server) moveTrip(w http.ResponseWriter, r *http.Request, move tripMove) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	trip, err := move(r.Context(), a, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}
