// Package handler implements the HTTP API of the marketplace on chi.
// Methods are split into domain-specific files (trip.go, booking.go, etc.) but
// all share the same Server struct so they can access its dependencies.
package handler

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/middleware"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/service"
)

// TripServicer defines the trip operations the handlers depend on.
// Defining the interface here (in the consumer package) lets handler tests
// inject a mock without touching the database or service layer.
type TripServicer interface {
	Create(ctx context.Context, actor domain.Actor, trip domain.Trip) (domain.Trip, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Trip, error)
	List(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error)
	Publish(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error)
	Start(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error)
	Complete(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error)
	Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Trip, error)
	RefreshVisibility(ctx context.Context, actor domain.Actor) (int64, error)
}

// BookingServicer creates bookings and drives their payment authorization.
type BookingServicer interface {
	CreateBooking(ctx context.Context, actor domain.Actor, in service.BookingInput) (service.Checkout, error)
	StartPayment(ctx context.Context, actor domain.Actor, id uuid.UUID) (service.Checkout, error)
	ConfirmPayment(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Transaction, error)
}

// TransactionServicer moves bookings through the escrow lifecycle.
type TransactionServicer interface {
	Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Transaction, error)
	List(ctx context.Context, actor domain.Actor, p domain.PaginationParams) (domain.Page[domain.Transaction], error)
	Credits(ctx context.Context, actor domain.Actor) ([]domain.WalletCredit, error)
	ConfirmPickup(ctx context.Context, actor domain.Actor, id uuid.UUID, code string) (domain.Transaction, error)
	ConfirmDelivery(ctx context.Context, actor domain.Actor, id uuid.UUID, code string) (domain.Transaction, error)
	Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error)
	OpenDispute(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error)
	ResolveDispute(ctx context.Context, actor domain.Actor, id uuid.UUID, outcome service.DisputeOutcome, notes string) (domain.Transaction, error)
	OnPaymentEvent(ctx context.Context, ev payment.WebhookEvent) error
}

// StatementExporter builds a user's booking statement.
type StatementExporter interface {
	Statement(ctx context.Context, actor domain.Actor) ([]domain.StatementRow, error)
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// WebhookVerifier authenticates and decodes a provider webhook.
type WebhookVerifier func(payload []byte, signature string) (payment.WebhookEvent, error)

// Deps are the collaborators of Server. Health and VerifyWebhook are
// optional: without Health /healthz only reports liveness, and without
// VerifyWebhook the webhook endpoint answers 503.
type Deps struct {
	Trips         TripServicer
	Bookings      BookingServicer
	Transactions  TransactionServicer
	Exports       StatementExporter
	Health        HealthChecker
	VerifyWebhook WebhookVerifier
	Logger        *zap.Logger
}

// Server serves every API endpoint.
type Server struct {
	trips         TripServicer
	bookings      BookingServicer
	txs           TransactionServicer
	exports       StatementExporter
	health        HealthChecker
	verifyWebhook WebhookVerifier
	logger        *zap.Logger
}

// NewServer constructs the Server with all its dependencies.
func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		trips:         d.Trips,
		bookings:      d.Bookings,
		txs:           d.Transactions,
		exports:       d.Exports,
		health:        d.Health,
		verifyWebhook: d.VerifyWebhook,
		logger:        logger,
	}
}

// Routes returns the API router. Cross-cutting middleware (request IDs,
// logging, CORS, body limits) is applied by the caller.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Actor)

	r.Get("/healthz", s.GetHealth)

	r.Route("/trips", func(r chi.Router) {
		r.Post("/", s.CreateTrip)
		r.Get("/", s.ListTrips)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetTrip)
			r.Post("/publish", s.PublishTrip)
			r.Post("/start", s.StartTrip)
			r.Post("/complete", s.CompleteTrip)
			r.Post("/cancel", s.CancelTrip)
			r.Post("/bookings", s.CreateBooking)
		})
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Get("/", s.ListTransactions)
		r.Get("/export", s.ExportStatement)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetTransaction)
			r.Post("/payment", s.StartPayment)
			r.Post("/payment/confirm", s.ConfirmPayment)
			r.Post("/pickup", s.ConfirmPickup)
			r.Post("/delivery", s.ConfirmDelivery)
			r.Post("/cancel", s.CancelTransaction)
			r.Post("/dispute", s.OpenDispute)
			r.Post("/dispute/resolve", s.ResolveDispute)
		})
	})

	r.Get("/wallet/credits", s.ListCredits)
	r.Post("/webhooks/payments", s.PaymentWebhook)
	r.Post("/admin/trips/refresh-visibility", s.RefreshVisibility)

	return r
}
