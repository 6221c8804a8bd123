// Package outbox delivers the notifications that state changes record in the
// outbox_messages table.
package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
)

// MessageHandler delivers one outbox message. A returned error schedules a
// retry until the attempt limit is reached.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg domain.OutboxMessage) error
}

// ProcessorConfig holds the polling settings.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	// HandlerTimeout bounds the delivery of a single message.
	HandlerTimeout time.Duration
	// VisibilityTimeout is how long a claimed message may stay in processing
	// before another poll claims it again.
	VisibilityTimeout time.Duration
}

// markTimeout bounds the status update written after each delivery attempt.
const markTimeout = 5 * time.Second

// Processor polls the outbox and hands each claimed message to the handler
// registered for its event type.
type Processor struct {
	repo     repo.OutboxRepo
	handlers map[string]MessageHandler
	cfg      ProcessorConfig
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewProcessor returns a stopped Processor. Zero config fields fall back to
// a one second interval, batches of 50, 5 attempts, a 10 second handler
// timeout and a visibility timeout long enough for a full batch of them.
func NewProcessor(outbox repo.OutboxRepo, cfg ProcessorConfig, logger *zap.Logger) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 10 * time.Second
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 2 * time.Duration(cfg.BatchSize) * (cfg.HandlerTimeout + markTimeout)
	}
	return &Processor{
		repo:     outbox,
		handlers: map[string]MessageHandler{},
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterHandler routes messages of eventType to h. Register handlers
// before calling Start.
func (p *Processor) RegisterHandler(eventType string, h MessageHandler) {
	p.handlers[eventType] = h
}

// Start launches the polling loop. Calling Start on a running processor is a
// no-op.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()

	p.logger.Info("outbox processor started",
		zap.Duration("poll_interval", p.cfg.PollInterval),
		zap.Int("batch_size", p.cfg.BatchSize))
}

// Stop cancels the loop and waits for the batch in flight to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.running = false

	p.logger.Info("outbox processor stopped")
}

func (p *Processor) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error("outbox batch failed", zap.Error(err))
			}
		}
	}
}

// ProcessBatch claims up to BatchSize pending messages and delivers them.
// It returns how many were delivered. When ctx ends mid-batch the messages not
// yet attempted are handed back to pending.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	claimCtx, cancel := context.WithTimeout(ctx, p.cfg.PollInterval)
	msgs, err := p.repo.ClaimPending(claimCtx, p.cfg.BatchSize, p.cfg.VisibilityTimeout)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("outbox.Processor.ProcessBatch: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	p.logger.Debug("processing outbox batch", zap.Int("count", len(msgs)))

	delivered := 0
	for i, msg := range msgs {
		if ctx.Err() != nil {
			p.release(ctx, msgs[i:])
			break
		}
		if err := p.processMessage(ctx, msg); err != nil {
			p.logger.Warn("outbox message not delivered",
				zap.Error(err),
				zap.Int64("message_id", msg.ID),
				zap.String("aggregate_id", msg.AggregateID),
				zap.String("event_type", msg.EventType))
			continue
		}
		delivered++
	}
	return delivered, nil
}

// release puts claimed but unattempted messages back to pending.
func (p *Processor) release(ctx context.Context, msgs []domain.OutboxMessage) {
	mctx, cancel := markContext(ctx)
	defer cancel()
	for _, msg := range msgs {
		if err := p.repo.MarkRetry(mctx, msg.ID, "processor stopped before delivery"); err != nil {
			p.logger.Error("failed to release outbox message", zap.Error(err), zap.Int64("message_id", msg.ID))
		}
	}
}

// markContext outlives the batch and handler deadlines so the outcome of an
// attempt is always recorded.
func markContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
}

func (p *Processor) processMessage(ctx context.Context, msg domain.OutboxMessage) error {
	h, ok := p.handlers[msg.EventType]
	if !ok {
		reason := "no handler registered for event type " + msg.EventType
		mctx, cancel := markContext(ctx)
		defer cancel()
		if err := p.repo.MarkFailed(mctx, msg.ID, reason); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return fmt.Errorf("%s", reason)
	}

	hctx, cancel := context.WithTimeout(ctx, p.cfg.HandlerTimeout)
	err := h.HandleMessage(hctx, msg)
	cancel()

	mctx, cancelMark := markContext(ctx)
	defer cancelMark()
	if err != nil {
		if msg.ProcessingAttempts >= p.cfg.MaxAttempts {
			reason := fmt.Sprintf("max attempts reached: %v", err)
			if markErr := p.repo.MarkFailed(mctx, msg.ID, reason); markErr != nil {
				p.logger.Error("failed to park outbox message", zap.Error(markErr), zap.Int64("message_id", msg.ID))
			}
			return fmt.Errorf("message failed after %d attempts: %w", msg.ProcessingAttempts, err)
		}
		if markErr := p.repo.MarkRetry(mctx, msg.ID, err.Error()); markErr != nil {
			p.logger.Error("failed to reschedule outbox message", zap.Error(markErr), zap.Int64("message_id", msg.ID))
		}
		return err
	}

	if err := p.repo.MarkCompleted(mctx, msg.ID); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	p.logger.Debug("outbox message delivered",
		zap.Int64("message_id", msg.ID),
		zap.String("event_type", msg.EventType))
	return nil
}
