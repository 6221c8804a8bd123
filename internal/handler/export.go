// export.go implements GET /transactions/export.
// Returns the caller's bookings as a statement table.
// Supports content negotiation via ?format=csv (CSV) or default (JSON).

package handler

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// csvHeaders defines the column names written as the first row of any CSV export.
var csvHeaders = []string{
	"transaction_id", "trip_id", "role", "status", "package_weight",
	"amount", "service_fee", "credited", "currency", "created_at", "released_at",
}

// ExportStatement handles GET /transactions/export.
// Use ?format=csv to receive CSV; default is JSON.
func (s *Server) ExportStatement(w http.ResponseWriter, r *http.Request) {
	a, ok := requireActor(w, r)
	if !ok {
		return
	}
	rows, err := s.exports.Statement(r.Context(), a)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") != "csv" {
		writeJSON(w, http.StatusOK, rows)
		return
	}

	body := buildCSV(rows)
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="statement.csv"`)
	w.Header().Set("Content-Length", strconv.Itoa(body.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = body.WriteTo(w)
}

// buildCSV encodes statement rows as CSV, amounts in minor units.
func buildCSV(rows []domain.StatementRow) *bytes.Buffer {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	//nolint:errcheck // bytes.Buffer.Write never returns an error.
	w.Write(csvHeaders)
	for _, r := range rows {
		//nolint:errcheck
		w.Write(statementRecord(r))
	}
	w.Flush()
	return &buf
}

func statementRecord(r domain.StatementRow) []string {
	return []string{
		r.TransactionID,
		r.TripID,
		r.Role,
		r.Status,
		r.Weight,
		strconv.FormatInt(r.Amount, 10),
		strconv.FormatInt(r.ServiceFee, 10),
		strconv.FormatInt(r.Credited, 10),
		r.Currency,
		r.CreatedAt.UTC().Format(time.RFC3339),
		formatOptionalTime(r.ReleasedAt),
	}
}

// formatOptionalTime returns the RFC3339 representation of t, or "" if t is nil.
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
