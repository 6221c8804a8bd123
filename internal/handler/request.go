package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/middleware"
)

// requireActor returns the caller set by middleware.Actor, or answers 401.
func requireActor(w http.ResponseWriter, r *http.Request) (domain.Actor, bool) {
	a, ok := middleware.ActorFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthenticated", "missing or invalid "+middleware.HeaderUserID+" header"))
		return domain.Actor{}, false
	}
	return a, true
}

// pathID parses the {id} URL parameter, answering 422 when malformed.
func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		requestError(w, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF) && optional:
		return true
	case errors.Is(err, io.EOF):
		requestError(w, "request body is required")
	default:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request_too_large", "request body too large"))
			return false
		}
		requestError(w, "malformed JSON body")
	}
	return false
}

// pagination reads ?page= and ?limit=. Malformed values fall back to the defaults.
func pagination(r *http.Request) domain.PaginationParams {
	return domain.NewPaginationParams(queryInt(r, "page"), queryInt(r, "limit"))
}

func queryInt(r *http.Request, name string) *int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return nil
	}
	return &v
}
