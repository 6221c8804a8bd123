// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration values for the API server.
// Values are populated by Load from environment variables.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Defaults to "8080".
	Port string

	// Env is "production" or anything else (treated as development).
	// Production switches logging to JSON.
	Env string

	// LogLevel controls the minimum log level. Defaults to "info".
	// Valid values: debug, info, warn, error.
	LogLevel string

	// DatabaseURL is the Postgres connection string. Required.
	DatabaseURL string

	// CORSOrigins is the list of allowed cross-origin request origins.
	// Set CORS_ORIGINS to a comma-separated list to override.
	CORSOrigins []string

	// MigrateOnStart applies pending migrations before serving.
	MigrateOnStart bool

	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64

	// ServiceFeePercent is the platform's cut of every booking.
	ServiceFeePercent decimal.Decimal

	// DefaultCurrency applies to trips created without one.
	DefaultCurrency string

	// CreateHoldOnBooking opens the payment hold as soon as a booking is made.
	CreateHoldOnBooking bool

	// StripeSecretKey enables the Stripe gateway. Without it the in-process
	// sandbox gateway is used, which never moves real money.
	StripeSecretKey string

	// StripeWebhookSecret verifies POST /webhooks/payments. Without it the
	// endpoint is disabled.
	StripeWebhookSecret string

	// GatewayTimeout bounds each payment provider call.
	GatewayTimeout time.Duration

	// RedisURL stores webhook idempotency claims. Without it claims are kept
	// in process memory.
	RedisURL string

	// WebhookDedupeTTL is how long a processed webhook event ID is remembered.
	WebhookDedupeTTL time.Duration

	// KafkaBrokers receive transaction notifications. Without them the
	// notifications are only logged.
	KafkaBrokers []string
	KafkaTopic   string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int

	// OutboxHandlerTimeout bounds one notification delivery.
	OutboxHandlerTimeout time.Duration
	// OutboxVisibilityTimeout is how long a claimed notification may stay
	// in processing before it is claimed again.
	OutboxVisibilityTimeout time.Duration
}

// Load reads configuration from environment variables and returns a Config.
// Returns an error listing any required variables that are not set and any
// variables that could not be parsed.
func Load() (Config, error) {
	p := parser{}
	cfg := Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("APP_ENV", "development"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		CORSOrigins:         splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173")),
		MigrateOnStart:      p.boolVar("MIGRATE_ON_START", true),
		MaxBodyBytes:        int64(p.intVar("MAX_BODY_BYTES", 1<<20)),
		ServiceFeePercent:   p.decimalVar("SERVICE_FEE_PERCENT", decimal.NewFromInt(10)),
		DefaultCurrency:     strings.ToLower(getEnv("DEFAULT_CURRENCY", "eur")),
		CreateHoldOnBooking: p.boolVar("CREATE_HOLD_ON_BOOKING", false),
		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		GatewayTimeout:      p.durationVar("GATEWAY_TIMEOUT", 10*time.Second),
		RedisURL:            os.Getenv("REDIS_URL"),
		WebhookDedupeTTL:    p.durationVar("WEBHOOK_DEDUPE_TTL", 24*time.Hour),
		KafkaBrokers:        splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:          getEnv("KAFKA_TOPIC", "transactions.updates"),
		OutboxPollInterval:  p.durationVar("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:     p.intVar("OUTBOX_BATCH_SIZE", 50),
		OutboxMaxAttempts:   p.intVar("OUTBOX_MAX_ATTEMPTS", 5),

		OutboxHandlerTimeout:    p.durationVar("OUTBOX_HANDLER_TIMEOUT", 10*time.Second),
		OutboxVisibilityTimeout: p.durationVar("OUTBOX_VISIBILITY_TIMEOUT", 30*time.Minute),
	}

	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}

	if cfg.ServiceFeePercent.IsNegative() || cfg.ServiceFeePercent.GreaterThan(decimal.NewFromInt(100)) {
		p.invalid = append(p.invalid, "SERVICE_FEE_PERCENT")
	}
	if len(cfg.DefaultCurrency) != 3 {
		p.invalid = append(p.invalid, "DEFAULT_CURRENCY")
	}
	if len(p.invalid) > 0 {
		return Config{}, fmt.Errorf("invalid environment variables: %s", strings.Join(p.invalid, ", "))
	}

	return cfg, nil
}

// getEnv returns the value of the environment variable named by key,
// or fallback if the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-separated string into a trimmed slice, ignoring empty entries.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// parser reads typed variables and remembers the names it could not parse.
type parser struct {
	invalid []string
}

func (p *parser) boolVar(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return b
}

// intVar rejects zero and negative values; every integer setting is a size or count.
func (p *parser) intVar(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return n
}

func (p *parser) durationVar(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return d
}

func (p *parser) decimalVar(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.invalid = append(p.invalid, key)
		return fallback
	}
	return d
}
