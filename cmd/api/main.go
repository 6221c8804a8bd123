// Package main is the entry point for the Cokilo marketplace API server.
// Its sole responsibility is wiring dependencies together and starting the server.
// No business logic belongs here.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/config"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/handler"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/idempotency"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/logger"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/middleware"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/outbox"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/service"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/migrations"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/spec"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		// Plain stderr: the logger is not configured yet.
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	// --- Logger -----------------------------------------------------------
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger error:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---------------------------------------------------------
	// pgxpool.New does not open connections immediately; the first query does.
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create database pool: %w", err)
	}
	defer pool.Close()

	// Verify the DB is reachable before accepting traffic.
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	log.Info("database connection established")

	if cfg.MigrateOnStart {
		if err := migrate(ctx, pool, log); err != nil {
			return err
		}
	}

	store := repo.NewStore(pool)

	// --- Collaborators ----------------------------------------------------
	gateway := newGateway(cfg, log)

	guard, closeGuard, err := newEventGuard(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGuard()

	notifier, closeNotifier, err := newNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	// --- Services ---------------------------------------------------------
	ledger := service.NewLedger(log.Named("ledger"))
	txs := service.NewTransactionService(store, ledger, gateway, guard, log.Named("transactions"))
	bookings := service.NewBookingService(store, ledger, gateway, service.BookingConfig{
		FeePercent:          cfg.ServiceFeePercent,
		CreateHoldOnBooking: cfg.CreateHoldOnBooking,
	}, log.Named("bookings"))
	trips := service.NewTripService(store, ledger, txs, cfg.DefaultCurrency, log.Named("trips"))
	exports := service.NewExportService(store)

	// --- Outbox worker ----------------------------------------------------
	processor := outbox.NewProcessor(store.Outbox(), outbox.ProcessorConfig{
		PollInterval:      cfg.OutboxPollInterval,
		BatchSize:         cfg.OutboxBatchSize,
		MaxAttempts:       cfg.OutboxMaxAttempts,
		HandlerTimeout:    cfg.OutboxHandlerTimeout,
		VisibilityTimeout: cfg.OutboxVisibilityTimeout,
	}, log.Named("outbox"))
	processor.RegisterHandler(domain.EventTransactionUpdated, notifier)
	processor.Start(ctx)
	defer processor.Stop()

	// --- Router -----------------------------------------------------------
	// Middleware is applied in order: RequestID → RealIP → RequestLogger →
	// Recoverer → CORS → MaxBodySize.
	var verify handler.WebhookVerifier
	if cfg.StripeWebhookSecret != "" {
		secret := cfg.StripeWebhookSecret
		verify = func(payload []byte, sig string) (payment.WebhookEvent, error) {
			return payment.ParseWebhook(payload, sig, secret)
		}
	} else {
		log.Warn("STRIPE_WEBHOOK_SECRET not set; payment webhooks are disabled")
	}

	api := handler.NewServer(handler.Deps{
		Trips:         trips,
		Bookings:      bookings,
		Transactions:  txs,
		Exports:       exports,
		Health:        pool,
		VerifyWebhook: verify,
		Logger:        log.Named("http"),
	})

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRequestLogger(log.Named("access")))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewCORSHandler(cfg.CORSOrigins))
	r.Use(middleware.NewMaxBodySizeHandler(cfg.MaxBodyBytes))
	r.Get("/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(spec.OpenAPI)
	})
	r.Mount("/", api.Routes())

	// --- HTTP Server ------------------------------------------------------
	// Explicit timeouts prevent slowloris and resource exhaustion attacks.
	// WriteTimeout leaves room for a payment call bounded by GatewayTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.GatewayTimeout + 20*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	// Give in-flight requests up to 15 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

// migrate applies pending goose migrations through a database/sql handle
// borrowed from the pool.
func migrate(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		return fmt.Errorf("create goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("migrations applied", zap.Int("count", len(results)))
	return nil
}

func newGateway(cfg config.Config, log *zap.Logger) payment.Gateway {
	if cfg.StripeSecretKey != "" {
		return payment.NewStripeGateway(payment.StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			Timeout:   cfg.GatewayTimeout,
		}, log.Named("payment"))
	}
	log.Warn("STRIPE_SECRET_KEY not set; using the sandbox gateway, holds are authorized automatically")
	sb := payment.NewSandbox()
	sb.AutoAuthorize = true
	return sb
}

func newEventGuard(ctx context.Context, cfg config.Config, log *zap.Logger) (service.EventGuard, func(), error) {
	if cfg.RedisURL == "" {
		log.Warn("REDIS_URL not set; webhook deduplication is per process")
		return idempotency.NewMemoryGuard(cfg.WebhookDedupeTTL), func() {}, nil
	}
	g, err := idempotency.NewRedisGuard(cfg.RedisURL, cfg.WebhookDedupeTTL)
	if err != nil {
		return nil, nil, err
	}
	if err := g.Ping(ctx); err != nil {
		_ = g.Close()
		return nil, nil, err
	}
	return g, func() { _ = g.Close() }, nil
}

func newNotifier(cfg config.Config, log *zap.Logger) (outbox.MessageHandler, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return outbox.NewLoggingHandler(log.Named("notifications")), func() {}, nil
	}
	producer, err := outbox.NewKafkaProducer(cfg.KafkaBrokers)
	if err != nil {
		return nil, nil, err
	}
	h := outbox.NewKafkaHandler(producer, cfg.KafkaTopic, log.Named("kafka"))
	return h, func() { _ = h.Close() }, nil
}
