package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/handler"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/middleware"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/service"
)

// Test doubles for the handler's service interfaces.
// Set only the method fields your test needs.

type mockTripServicer struct {
	create            func(ctx context.Context, a domain.Actor, trip domain.Trip) (domain.Trip, error)
	get               func(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	list              func(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error)
	publish           func(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Trip, error)
	start             func(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Trip, error)
	complete          func(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Trip, error)
	cancel            func(ctx context.Context, a domain.Actor, id uuid.UUID, reason string) (domain.Trip, error)
	refreshVisibility func(ctx context.Context, a domain.Actor) (int64, error)
}

func (m *mockTripServicer) Create(ctx context.Context, a domain.Actor, t domain.Trip) (domain.Trip, error) {
	return m.create(ctx, a, t)
}
func (m *mockTripServicer) Get(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return m.get(ctx, id)
}
func (m *mockTripServicer) List(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error) {
	return m.list(ctx, f, p)
}
func (m *mockTripServicer) Publish(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Trip, error) {
	return m.publish(ctx, a, id)
}
func (m *mockTripServicer) Start(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Trip, error) {
	return m.start(ctx, a, id)
}
func (m *mockTripServicer) Complete(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Trip, error) {
	return m.complete(ctx, a, id)
}
func (m *mockTripServicer) Cancel(ctx context.Context, a domain.Actor, id uuid.UUID, reason string) (domain.Trip, error) {
	return m.cancel(ctx, a, id, reason)
}
func (m *mockTripServicer) RefreshVisibility(ctx context.Context, a domain.Actor) (int64, error) {
	return m.refreshVisibility(ctx, a)
}

var _ handler.TripServicer = (*mockTripServicer)(nil)

type mockBookingServicer struct {
	createBooking  func(ctx context.Context, a domain.Actor, in service.BookingInput) (service.Checkout, error)
	startPayment   func(ctx context.Context, a domain.Actor, id uuid.UUID) (service.Checkout, error)
	confirmPayment func(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Transaction, error)
}

func (m *mockBookingServicer) CreateBooking(ctx context.Context, a domain.Actor, in service.BookingInput) (service.Checkout, error) {
	return m.createBooking(ctx, a, in)
}
func (m *mockBookingServicer) StartPayment(ctx context.Context, a domain.Actor, id uuid.UUID) (service.Checkout, error) {
	return m.startPayment(ctx, a, id)
}
func (m *mockBookingServicer) ConfirmPayment(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Transaction, error) {
	return m.confirmPayment(ctx, a, id)
}

var _ handler.BookingServicer = (*mockBookingServicer)(nil)

type mockTransactionServicer struct {
	get             func(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Transaction, error)
	list            func(ctx context.Context, a domain.Actor, p domain.PaginationParams) (domain.Page[domain.Transaction], error)
	credits         func(ctx context.Context, a domain.Actor) ([]domain.WalletCredit, error)
	confirmPickup   func(ctx context.Context, a domain.Actor, id uuid.UUID, code string) (domain.Transaction, error)
	confirmDelivery func(ctx context.Context, a domain.Actor, id uuid.UUID, code string) (domain.Transaction, error)
	cancel          func(ctx context.Context, a domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error)
	openDispute     func(ctx context.Context, a domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error)
	resolveDispute  func(ctx context.Context, a domain.Actor, id uuid.UUID, outcome service.DisputeOutcome, notes string) (domain.Transaction, error)
	onPaymentEvent  func(ctx context.Context, ev payment.WebhookEvent) error
}

func (m *mockTransactionServicer) Get(ctx context.Context, a domain.Actor, id uuid.UUID) (domain.Transaction, error) {
	return m.get(ctx, a, id)
}
func (m *mockTransactionServicer) List(ctx context.Context, a domain.Actor, p domain.PaginationParams) (domain.Page[domain.Transaction], error) {
	return m.list(ctx, a, p)
}
func (m *mockTransactionServicer) Credits(ctx context.Context, a domain.Actor) ([]domain.WalletCredit, error) {
	return m.credits(ctx, a)
}
func (m *mockTransactionServicer) ConfirmPickup(ctx context.Context, a domain.Actor, id uuid.UUID, code string) (domain.Transaction, error) {
	return m.confirmPickup(ctx, a, id, code)
}
func (m *mockTransactionServicer) ConfirmDelivery(ctx context.Context, a domain.Actor, id uuid.UUID, code string) (domain.Transaction, error) {
	return m.confirmDelivery(ctx, a, id, code)
}
func (m *mockTransactionServicer) Cancel(ctx context.Context, a domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error) {
	return m.cancel(ctx, a, id, reason)
}
func (m *mockTransactionServicer) OpenDispute(ctx context.Context, a domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error) {
	return m.openDispute(ctx, a, id, reason)
}
func (m *mockTransactionServicer) ResolveDispute(ctx context.Context, a domain.Actor, id uuid.UUID, outcome service.DisputeOutcome, notes string) (domain.Transaction, error) {
	return m.resolveDispute(ctx, a, id, outcome, notes)
}
func (m *mockTransactionServicer) OnPaymentEvent(ctx context.Context, ev payment.WebhookEvent) error {
	return m.onPaymentEvent(ctx, ev)
}

var _ handler.TransactionServicer = (*mockTransactionServicer)(nil)

type mockStatementExporter struct {
	statement func(ctx context.Context, a domain.Actor) ([]domain.StatementRow, error)
}

func (m *mockStatementExporter) Statement(ctx context.Context, a domain.Actor) ([]domain.StatementRow, error) {
	return m.statement(ctx, a)
}

var _ handler.StatementExporter = (*mockStatementExporter)(nil)

// ---- helpers ---------------------------------------------------------------

var (
	senderID   = uuid.MustParse("00000000-0000-0000-0000-00000000000e")
	travelerID = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
)

// newHTTPHandler wires a Server with the given deps into its chi router,
// the same way main.go does.
func newHTTPHandler(d handler.Deps) http.Handler {
	return handler.NewServer(d).Routes()
}

// do sends a request as userID (uuid.Nil for anonymous) and returns the recorder.
func do(t *testing.T, h http.Handler, method, path string, userID uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = jsonReader(t, body)
	}
	return serve(h, newRequest(method, path, userID, r))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handler.ErrorDetail {
	t.Helper()
	var resp handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

var adminID = uuid.MustParse("00000000-0000-0000-0000-0000000000ad")

func newRequest(method, path string, userID uuid.UUID, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if userID != uuid.Nil {
		req.Header.Set(middleware.HeaderUserID, userID.String())
	}
	return req
}

func adminRequest(method, path string, body io.Reader) *http.Request {
	req := newRequest(method, path, adminID, body)
	req.Header.Set(middleware.HeaderUserRole, "admin")
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func jsonReader(t *testing.T, v any) io.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(b)
}
