package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"go.uber.org/zap"
)

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey string
	// Timeout bounds each individual API call.
	Timeout time.Duration
	// BaseURL overrides the API endpoint. Tests point it at an httptest server.
	BaseURL    string
	HTTPClient *http.Client
	// RetryDelay is the pause before the single Retrieve retry.
	RetryDelay time.Duration
}

// StripeGateway implements Gateway with manual-capture PaymentIntents.
type StripeGateway struct {
	api        *client.API
	timeout    time.Duration
	retryDelay time.Duration
	logger     *zap.Logger
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway builds a gateway with the SDK's own network retries
// disabled; retry policy is decided per operation here.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) *StripeGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 250 * time.Millisecond
	}

	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger.Named("stripe").Sugar(),
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(cfg.BaseURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	return &StripeGateway{
		api:        client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend}),
		timeout:    cfg.Timeout,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

func (g *StripeGateway) CreateHold(ctx context.Context, req HoldRequest) (Hold, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount),
		Currency:      stripe.String(req.Currency),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Description:   stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.PayeeRef != "" {
		params.AddMetadata("payee_ref", req.PayeeRef)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		g.logger.Warn("create hold failed", zap.Int64("amount", req.Amount), zap.Error(err))
		return Hold{}, providerError("create hold", err)
	}
	return holdFrom(pi), nil
}

func (g *StripeGateway) Capture(ctx context.Context, holdID, idempotencyKey string) (Capture, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := g.api.PaymentIntents.Capture(holdID, params)
	if err != nil {
		g.logger.Warn("capture failed", zap.String("hold_id", holdID), zap.Error(err))
		return Capture{}, providerError("capture", err)
	}
	return Capture{Status: HoldStatus(pi.Status), CapturedAmount: pi.AmountReceived}, nil
}

func (g *StripeGateway) Void(ctx context.Context, holdID, idempotencyKey string) (HoldStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	pi, err := g.api.PaymentIntents.Cancel(holdID, params)
	if err != nil {
		g.logger.Warn("void failed", zap.String("hold_id", holdID), zap.Error(err))
		return "", providerError("void", err)
	}
	return HoldStatus(pi.Status), nil
}

// Refund returns captured funds. A hold still awaiting capture cannot be
// refunded by the provider, so it is voided and reported as a full refund.
func (g *StripeGateway) Refund(ctx context.Context, holdID string, amount int64, idempotencyKey string) (Refund, error) {
	hold, err := g.Retrieve(ctx, holdID)
	if err != nil {
		return Refund{}, err
	}
	if hold.Status != HoldSucceeded {
		status, err := g.Void(ctx, holdID, idempotencyKey)
		if err != nil {
			return Refund{}, err
		}
		return Refund{ID: holdID, Status: string(status), Amount: hold.Amount}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.RefundParams{PaymentIntent: stripe.String(holdID)}
	if amount > 0 {
		params.Amount = stripe.Int64(amount)
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := g.api.Refunds.New(params)
	if err != nil {
		g.logger.Warn("refund failed", zap.String("hold_id", holdID), zap.Error(err))
		return Refund{}, providerError("refund", err)
	}
	return Refund{ID: r.ID, Status: string(r.Status), Amount: r.Amount}, nil
}

// Retrieve reads the hold, retrying once on a temporary failure.
func (g *StripeGateway) Retrieve(ctx context.Context, holdID string) (Hold, error) {
	var pi *stripe.PaymentIntent

	backoff := retry.WithMaxRetries(1, retry.NewConstant(g.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		params := &stripe.PaymentIntentParams{}
		params.Context = callCtx

		var err error
		pi, err = g.api.PaymentIntents.Get(holdID, params)
		if err == nil {
			return nil
		}
		perr := providerError("retrieve", err)
		var pe *ProviderError
		if errors.As(perr, &pe) && pe.Temporary() {
			g.logger.Debug("retrieve failed, retrying", zap.String("hold_id", holdID), zap.Error(err))
			return retry.RetryableError(perr)
		}
		return perr
	})
	if err != nil {
		return Hold{}, err
	}
	return holdFrom(pi), nil
}

func holdFrom(pi *stripe.PaymentIntent) Hold {
	return Hold{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       HoldStatus(pi.Status),
		Amount:       pi.Amount,
	}
}
