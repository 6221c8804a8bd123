package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/middleware"
)

const appOrigin = "http://localhost:5173"

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Request-Id", "req-1")
	w.WriteHeader(http.StatusOK)
})

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/transactions", nil)
	req.Header.Set("Origin", origin)
	return req
}

func TestCORSHandler_AllowedOrigin(t *testing.T) {
	h := middleware.NewCORSHandler([]string{appOrigin})(okHandler)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, corsRequest(http.MethodGet, appOrigin))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), "X-Request-Id")
}

func TestCORSHandler_DisallowedOrigin(t *testing.T) {
	h := middleware.NewCORSHandler([]string{appOrigin})(okHandler)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, corsRequest(http.MethodGet, "http://evil.example.com"))

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

// Browsers send preflight header names lowercased; rs/cors compares them
// against its normalised list.
func TestCORSHandler_Preflight(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		headers string
		allowed bool
	}{
		{"booking with identity", http.MethodPost, "content-type,x-user-id,idempotency-key", true},
		{"admin role", http.MethodPost, "x-user-id,x-user-role", true},
		{"unlisted method", http.MethodDelete, "content-type", false},
		{"unlisted header", http.MethodPost, "x-api-key", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := middleware.NewCORSHandler([]string{appOrigin})(okHandler)
			req := corsRequest(http.MethodOptions, appOrigin)
			req.Header.Set("Access-Control-Request-Method", tc.method)
			req.Header.Set("Access-Control-Request-Headers", tc.headers)
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			if tc.allowed {
				assert.Equal(t, appOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
				assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
			} else {
				assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}
