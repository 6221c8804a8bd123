package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Operation names used by the sandbox failure injection and call counters.
const (
	OpCreateHold = "create_hold"
	OpCapture    = "capture"
	OpVoid       = "void"
	OpRefund     = "refund"
	OpRetrieve   = "retrieve"
)

var errSandboxDown = errors.New("sandbox: injected failure")

// Sandbox is an in-process Gateway for development and tests. Holds start in
// requires_payment_method (or requires_capture with AutoAuthorize) and move
// only through the Gateway methods and Authorize.
type Sandbox struct {
	// AutoAuthorize creates holds that are already authorized.
	AutoAuthorize bool

	mu       sync.Mutex
	seq      int
	holds    map[string]*sandboxHold
	byKey    map[string]string
	failures map[string]int
	calls    map[string]int
}

type sandboxHold struct {
	Hold
	captured int64
	refunded int64
	metadata map[string]string
}

var _ Gateway = (*Sandbox)(nil)

// NewSandbox returns an empty sandbox gateway.
func NewSandbox() *Sandbox {
	return &Sandbox{
		holds:    map[string]*sandboxHold{},
		byKey:    map[string]string{},
		failures: map[string]int{},
		calls:    map[string]int{},
	}
}

// FailNext makes the next n calls of op fail with a gateway error.
func (s *Sandbox) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] += n
}

// Calls returns how many times op was invoked, failed calls included.
func (s *Sandbox) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Authorize simulates the payer confirming the payment.
func (s *Sandbox) Authorize(holdID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return fmt.Errorf("sandbox: unknown hold %s", holdID)
	}
	if h.Status == HoldCanceled || h.Status == HoldSucceeded {
		return fmt.Errorf("sandbox: hold %s is %s", holdID, h.Status)
	}
	h.Status = HoldRequiresCapture
	return nil
}

// Status returns the current status of a hold.
func (s *Sandbox) Status(holdID string) HoldStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.holds[holdID]; ok {
		return h.Status
	}
	return ""
}

func (s *Sandbox) CreateHold(ctx context.Context, req HoldRequest) (Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCreateHold); err != nil {
		return Hold{}, err
	}
	if req.Amount <= 0 {
		return Hold{}, &ProviderError{Op: "create hold", StatusCode: 400, Code: "amount_too_small", Err: errors.New("amount must be positive")}
	}
	if id, ok := s.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return s.holds[id].Hold, nil
	}

	s.seq++
	id := fmt.Sprintf("pi_sandbox_%d", s.seq)
	status := HoldRequiresPaymentMethod
	if s.AutoAuthorize {
		status = HoldRequiresCapture
	}
	h := &sandboxHold{
		Hold: Hold{
			ID:           id,
			ClientSecret: id + "_secret",
			Status:       status,
			Amount:       req.Amount,
		},
		metadata: req.Metadata,
	}
	s.holds[id] = h
	if req.IdempotencyKey != "" {
		s.byKey[req.IdempotencyKey] = id
	}
	return h.Hold, nil
}

func (s *Sandbox) Capture(ctx context.Context, holdID, _ string) (Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpCapture); err != nil {
		return Capture{}, err
	}
	h, err := s.hold("capture", holdID)
	if err != nil {
		return Capture{}, err
	}
	switch h.Status {
	case HoldSucceeded:
	case HoldRequiresCapture:
		h.Status = HoldSucceeded
		h.captured = h.Amount
	default:
		return Capture{}, s.stateError("capture", h)
	}
	return Capture{Status: h.Status, CapturedAmount: h.captured}, nil
}

func (s *Sandbox) Void(ctx context.Context, holdID, _ string) (HoldStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpVoid); err != nil {
		return "", err
	}
	h, err := s.hold("void", holdID)
	if err != nil {
		return "", err
	}
	if h.Status == HoldSucceeded {
		return "", s.stateError("void", h)
	}
	h.Status = HoldCanceled
	return h.Status, nil
}

func (s *Sandbox) Refund(ctx context.Context, holdID string, amount int64, _ string) (Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpRefund); err != nil {
		return Refund{}, err
	}
	h, err := s.hold("refund", holdID)
	if err != nil {
		return Refund{}, err
	}
	if h.Status != HoldSucceeded {
		h.Status = HoldCanceled
		return Refund{ID: holdID, Status: string(HoldCanceled), Amount: h.Amount}, nil
	}
	if amount <= 0 {
		amount = h.captured - h.refunded
	}
	if amount > h.captured-h.refunded {
		return Refund{}, &ProviderError{Op: "refund", StatusCode: 400, Code: "amount_too_large", Err: errors.New("refund exceeds captured amount")}
	}
	h.refunded += amount
	return Refund{ID: fmt.Sprintf("re_%s_%d", holdID, h.refunded), Status: "succeeded", Amount: amount}, nil
}

func (s *Sandbox) Retrieve(ctx context.Context, holdID string) (Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, OpRetrieve); err != nil {
		return Hold{}, err
	}
	h, err := s.hold("retrieve", holdID)
	if err != nil {
		return Hold{}, err
	}
	return h.Hold, nil
}

// enter counts the call and consumes an injected failure. Callers hold s.mu.
func (s *Sandbox) enter(ctx context.Context, op string) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	if s.failures[op] > 0 {
		s.failures[op]--
		return &ProviderError{Op: op, StatusCode: 503, Code: "api_error", Err: errSandboxDown}
	}
	return nil
}

func (s *Sandbox) hold(op, id string) (*sandboxHold, error) {
	h, ok := s.holds[id]
	if !ok {
		return nil, &ProviderError{Op: op, StatusCode: 404, Code: "resource_missing", Err: fmt.Errorf("no such hold %s", id)}
	}
	return h, nil
}

func (s *Sandbox) stateError(op string, h *sandboxHold) error {
	return &ProviderError{
		Op:         op,
		StatusCode: 400,
		Code:       "payment_intent_unexpected_state",
		Err:        fmt.Errorf("hold %s is %s", h.ID, h.Status),
	}
}
