package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/handler"
)

func tripFixture() domain.Trip {
	return domain.Trip{
		ID:              uuid.New(),
		TravelerID:      travelerID,
		Origin:          "Paris",
		Destination:     "Algiers",
		DepartureAt:     time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC),
		CapacityKg:      decimal.RequireFromString("10"),
		ReservedWeight:  decimal.RequireFromString("4"),
		AvailableWeight: decimal.RequireFromString("6"),
		PricePerKg:      decimal.RequireFromString("5"),
		Currency:        "eur",
		Status:          domain.TripPublished,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
}

// ---- POST /trips -----------------------------------------------------------

func TestCreateTrip_201(t *testing.T) {
	fixture := tripFixture()
	var got domain.Trip
	var gotActor domain.Actor
	svc := &mockTripServicer{
		create: func(_ context.Context, a domain.Actor, trip domain.Trip) (domain.Trip, error) {
			gotActor, got = a, trip
			return fixture, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodPost, "/trips", travelerID, map[string]any{
		"origin":       "Paris",
		"destination":  "Algiers",
		"departure_at": "2026-07-01T09:00:00Z",
		"capacity_kg":  "10",
		"price_per_kg": 5,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, travelerID, gotActor.ID)
	assert.Equal(t, "Paris", got.Origin)
	assert.True(t, got.CapacityKg.Equal(decimal.NewFromInt(10)))
	assert.True(t, got.PricePerKg.Equal(decimal.NewFromInt(5)))

	var resp domain.Trip
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, fixture.ID, resp.ID)
	assert.True(t, resp.AvailableWeight.Equal(decimal.NewFromInt(6)))
}

func TestCreateTrip_422_ValidationError(t *testing.T) {
	svc := &mockTripServicer{
		create: func(context.Context, domain.Actor, domain.Trip) (domain.Trip, error) {
			return domain.Trip{}, domain.Errorf(domain.ErrValidation, "origin is required")
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodPost, "/trips", travelerID, map[string]any{})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, "validation_error", detail.Code)
	assert.Equal(t, "origin is required", detail.Message)
}

func TestCreateTrip_422_MissingBody(t *testing.T) {
	rec := do(t, newHTTPHandler(handler.Deps{Trips: &mockTripServicer{}}), http.MethodPost, "/trips", travelerID, nil)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "request body is required", decodeError(t, rec).Message)
}

func TestCreateTrip_401_Anonymous(t *testing.T) {
	rec := do(t, newHTTPHandler(handler.Deps{Trips: &mockTripServicer{}}), http.MethodPost, "/trips", uuid.Nil, map[string]any{})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decodeError(t, rec).Code)
}

// ---- GET /trips ------------------------------------------------------------

func TestListTrips_200(t *testing.T) {
	var gotFilter domain.TripFilter
	var gotPage domain.PaginationParams
	svc := &mockTripServicer{
		list: func(_ context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error) {
			gotFilter, gotPage = f, p
			return domain.NewPage([]domain.Trip{tripFixture()}, 41, p), nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodGet,
		"/trips?status=published&traveler_id="+travelerID.String()+"&page=3&limit=20", uuid.Nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.TripPublished, gotFilter.Status)
	assert.Equal(t, travelerID, gotFilter.TravelerID)
	assert.Equal(t, domain.PaginationParams{Page: 3, Limit: 20}, gotPage)

	var resp domain.Page[domain.Trip]
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Items, 1)
	assert.Equal(t, int64(41), resp.Total)
}

func TestListTrips_422_BadTraveler(t *testing.T) {
	rec := do(t, newHTTPHandler(handler.Deps{Trips: &mockTripServicer{}}), http.MethodGet, "/trips?traveler_id=nope", uuid.Nil, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// ---- GET /trips/{id} -------------------------------------------------------

func TestGetTrip_200(t *testing.T) {
	fixture := tripFixture()
	svc := &mockTripServicer{
		get: func(_ context.Context, id uuid.UUID) (domain.Trip, error) {
			assert.Equal(t, fixture.ID, id)
			return fixture, nil
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodGet, "/trips/"+fixture.ID.String(), uuid.Nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestGetTrip_404(t *testing.T) {
	svc := &mockTripServicer{
		get: func(context.Context, uuid.UUID) (domain.Trip, error) {
			return domain.Trip{}, domain.ErrNotFound
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodGet, "/trips/"+uuid.NewString(), uuid.Nil, nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, "not_found", detail.Code)
	assert.Equal(t, "not found", detail.Message)
}

func TestGetTrip_422_MalformedID(t *testing.T) {
	rec := do(t, newHTTPHandler(handler.Deps{Trips: &mockTripServicer{}}), http.MethodGet, "/trips/not-a-uuid", uuid.Nil, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// ---- lifecycle -------------------------------------------------------------

func TestTripLifecycleRoutes(t *testing.T) {
	fixture := tripFixture()
	called := map[string]bool{}
	record := func(name string) func(context.Context, domain.Actor, uuid.UUID) (domain.Trip, error) {
		return func(_ context.Context, a domain.Actor, id uuid.UUID) (domain.Trip, error) {
			called[name] = true
			assert.Equal(t, travelerID, a.ID)
			assert.Equal(t, fixture.ID, id)
			return fixture, nil
		}
	}
	svc := &mockTripServicer{
		publish:  record("publish"),
		start:    record("start"),
		complete: record("complete"),
	}
	h := newHTTPHandler(handler.Deps{Trips: svc})

	for _, action := range []string{"publish", "start", "complete"} {
		rec := do(t, h, http.MethodPost, "/trips/"+fixture.ID.String()+"/"+action, travelerID, nil)
		assert.Equal(t, http.StatusOK, rec.Code, action)
	}
	assert.Equal(t, map[string]bool{"publish": true, "start": true, "complete": true}, called)
}

func TestPublishTrip_403(t *testing.T) {
	svc := &mockTripServicer{
		publish: func(context.Context, domain.Actor, uuid.UUID) (domain.Trip, error) {
			return domain.Trip{}, domain.Errorf(domain.ErrForbidden, "only the traveler can manage this trip")
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodPost, "/trips/"+uuid.NewString()+"/publish", senderID, nil)

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "only the traveler can manage this trip", decodeError(t, rec).Message)
}

func TestCancelTrip_PassesReason(t *testing.T) {
	var gotReason string
	svc := &mockTripServicer{
		cancel: func(_ context.Context, _ domain.Actor, _ uuid.UUID, reason string) (domain.Trip, error) {
			gotReason = reason
			return tripFixture(), nil
		},
	}
	h := newHTTPHandler(handler.Deps{Trips: svc})

	rec := do(t, h, http.MethodPost, "/trips/"+uuid.NewString()+"/cancel", travelerID, map[string]string{"reason": "flight cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "flight cancelled", gotReason)

	rec = do(t, h, http.MethodPost, "/trips/"+uuid.NewString()+"/cancel", travelerID, nil)
	require.Equal(t, http.StatusOK, rec.Code, "the reason is optional")
	assert.Empty(t, gotReason)
}

func TestCancelTrip_409(t *testing.T) {
	svc := &mockTripServicer{
		cancel: func(context.Context, domain.Actor, uuid.UUID, string) (domain.Trip, error) {
			return domain.Trip{}, domain.Errorf(domain.ErrInvalidState, "packages are already on their way")
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodPost, "/trips/"+uuid.NewString()+"/cancel", travelerID, nil)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeError(t, rec).Code)
}

// ---- admin -----------------------------------------------------------------

func TestRefreshVisibility(t *testing.T) {
	var got domain.Actor
	svc := &mockTripServicer{
		refreshVisibility: func(_ context.Context, a domain.Actor) (int64, error) {
			got = a
			if !a.IsAdmin() {
				return 0, domain.ErrForbidden
			}
			return 3, nil
		},
	}
	h := newHTTPHandler(handler.Deps{Trips: svc})

	rec := do(t, h, http.MethodPost, "/admin/trips/refresh-visibility", travelerID, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := adminRequest(http.MethodPost, "/admin/trips/refresh-visibility", nil)
	rec = serve(h, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RoleAdmin, got.Role)
	var resp map[string]int64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, int64(3), resp["updated"])
}

// ---- errors ----------------------------------------------------------------

func TestUnhandledError_500HidesDetails(t *testing.T) {
	svc := &mockTripServicer{
		get: func(context.Context, uuid.UUID) (domain.Trip, error) {
			return domain.Trip{}, errors.New("repo.TripRepo.GetByID: connection refused")
		},
	}

	rec := do(t, newHTTPHandler(handler.Deps{Trips: svc}), http.MethodGet, "/trips/"+uuid.NewString(), uuid.Nil, nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, "internal_error", detail.Code)
	assert.NotContains(t, detail.Message, "connection refused")
}
