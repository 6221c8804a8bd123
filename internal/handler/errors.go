package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// ErrorDetail is the machine-readable code and human-readable message of a
// failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type errorMapping struct {
	kind   error
	status int
	code   string
}

// Order matters only for errors wrapping more than one sentinel.
var errorMappings = []errorMapping{
	{domain.ErrCodeMismatch, http.StatusUnprocessableEntity, "code_mismatch"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "validation_error"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrCapacity, http.StatusConflict, "insufficient_capacity"},
	{domain.ErrInvalidState, http.StatusConflict, "invalid_state"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrGateway, http.StatusBadGateway, "payment_gateway_error"},
}

// writeError maps a service error to its HTTP status. The message comes from
// the domain.Error the service attached; unknown errors are logged and
// answered with a generic 500 so internals never leak.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.kind) {
			if m.status == http.StatusBadGateway {
				s.logger.Warn("payment gateway failure", zap.String("path", r.URL.Path), zap.Error(err))
			}
			writeJSON(w, m.status, errorBody(m.code, domain.Message(err, m.kind.Error())))
			return
		}
	}
	s.logger.Error("unhandled error", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, errorBody("internal_error", "internal server error"))
}

func errorBody(code, message string) ErrorResponse {
	return ErrorResponse{Error: ErrorDetail{Code: code, Message: message}}
}

// requestError answers a request rejected before reaching the service layer
// (e.g. malformed body or path parameter).
func requestError(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusUnprocessableEntity, errorBody("validation_error", message))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
