package middleware_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/middleware"
)

// drain reads the whole body the way the JSON handlers do and answers 413
// when the read is cut off.
var drain = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if _, err := io.ReadAll(r.Body); err != nil {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}
	w.WriteHeader(http.StatusOK)
})

func TestMaxBodySizeHandler(t *testing.T) {
	const limit = 64

	tests := []struct {
		name          string
		size          int
		contentLength int64 // -1 means unknown (chunked upload)
		want          int
	}{
		{"small booking", 40, 40, http.StatusOK},
		{"exactly at limit", limit, limit, http.StatusOK},
		{"declared too large", 200, 200, http.StatusRequestEntityTooLarge},
		{"streamed too large", 200, -1, http.StatusRequestEntityTooLarge},
		{"streamed small", 10, -1, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := middleware.NewMaxBodySizeHandler(limit)(drain)
			req := httptest.NewRequest(http.MethodPost, "/trips/1/bookings", strings.NewReader(strings.Repeat("x", tc.size)))
			req.ContentLength = tc.contentLength
			rec := httptest.NewRecorder()

			h.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
