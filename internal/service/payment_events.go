package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/escrow"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
)

// paymentEventKinds maps provider webhook types to state machine events.
// Anything else is acknowledged and ignored.
var paymentEventKinds = map[string]escrow.EventKind{
	payment.EventHoldAuthorized: escrow.EventPaymentAuthorized,
	payment.EventHoldSucceeded:  escrow.EventPaymentAuthorized,
	payment.EventHoldFailed:     escrow.EventPaymentFailed,
	payment.EventHoldCanceled:   escrow.EventHoldCanceled,
}

// OnPaymentEvent applies a verified provider webhook to the booking that owns
// the hold. Events for unknown holds, unhandled types and transitions the
// booking has already gone past are logged and acknowledged; a returned error
// means the provider should retry.
func (s *TransactionService) OnPaymentEvent(ctx context.Context, ev payment.WebhookEvent) error {
	kind, ok := paymentEventKinds[ev.Type]
	if !ok {
		s.logger.Debug("payment event ignored", zap.String("type", ev.Type), zap.String("event_id", ev.ID))
		return nil
	}

	key := "payment-event:" + ev.ID
	if s.guard != nil && ev.ID != "" {
		claimed, err := s.guard.Claim(ctx, key)
		if err != nil {
			return fmt.Errorf("service.TransactionService.OnPaymentEvent: %w", err)
		}
		if !claimed {
			s.logger.Info("duplicate payment event skipped", zap.String("event_id", ev.ID))
			return nil
		}
	}

	if err := s.applyPaymentEvent(ctx, kind, ev); err != nil {
		if s.guard != nil && ev.ID != "" {
			if rerr := s.guard.Release(ctx, key); rerr != nil {
				s.logger.Error("payment event claim not released", zap.String("event_id", ev.ID), zap.Error(rerr))
			}
		}
		return fmt.Errorf("service.TransactionService.OnPaymentEvent: %w", err)
	}
	return nil
}

func (s *TransactionService) applyPaymentEvent(ctx context.Context, kind escrow.EventKind, ev payment.WebhookEvent) error {
	log := s.logger.With(zap.String("event_id", ev.ID), zap.String("type", ev.Type), zap.String("hold_id", ev.HoldID))

	return s.store.InTx(ctx, func(q repo.Queries) error {
		cur, err := lockByHold(ctx, q, ev)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("payment event for unknown hold")
			return nil
		}
		if err != nil {
			return err
		}

		next, effects, err := escrow.Transition(cur, escrow.Event{
			Kind:   kind,
			Actor:  domain.SystemActor,
			HoldID: ev.HoldID,
			Reason: ev.FailureReason,
		})
		if errors.Is(err, domain.ErrInvalidState) || errors.Is(err, domain.ErrConflict) {
			log.Info("payment event does not apply", zap.String("status", string(cur.Status)), zap.Error(err))
			return nil
		}
		if err != nil {
			return err
		}

		saved, err := s.exec.run(ctx, q, next, effects, false)
		if err != nil {
			return err
		}
		log.Info("payment event applied",
			zap.Stringer("transaction_id", saved.ID),
			zap.String("from", string(cur.Status)),
			zap.String("to", string(saved.Status)))
		return nil
	})
}

// lockByHold finds the booking for the event's hold, falling back to the
// transaction id the hold was created with when the hold id has not been
// recorded yet.
func lockByHold(ctx context.Context, q repo.Queries, ev payment.WebhookEvent) (domain.Transaction, error) {
	if ev.HoldID != "" {
		tx, err := q.Transactions().GetByPaymentIntentForUpdate(ctx, ev.HoldID)
		if !errors.Is(err, domain.ErrNotFound) {
			return tx, err
		}
	}
	id, err := uuid.Parse(ev.Metadata["transaction_id"])
	if err != nil {
		return domain.Transaction{}, domain.ErrNotFound
	}
	tx, err := q.Transactions().GetForUpdate(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if tx.PaymentIntentID != "" && ev.HoldID != "" && tx.PaymentIntentID != ev.HoldID {
		// The booking moved on to another hold; this one is stale.
		return domain.Transaction{}, domain.ErrNotFound
	}
	return tx, nil
}
