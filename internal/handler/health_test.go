package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/handler"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     handler.HealthChecker
		wantCode   int
		wantStatus string
	}{
		{"liveness only", nil, http.StatusOK, "ok"},
		{"database up", pingFunc(func(context.Context) error { return nil }), http.StatusOK, "ok"},
		{"database down", pingFunc(func(context.Context) error { return errors.New("refused") }), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newHTTPHandler(handler.Deps{Health: tc.health}), http.MethodGet, "/healthz", uuid.Nil, nil)

			require.Equal(t, tc.wantCode, rec.Code)
			var body handler.HealthResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			require.Equal(t, tc.wantStatus, body.Status)
		})
	}
}
