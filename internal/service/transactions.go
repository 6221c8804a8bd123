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

// executor performs the effects returned by the escrow state machine. It is
// always called inside Store.InTx with the transaction row locked, so a
// failure at any step (capacity, gateway, wallet) rolls back the whole
// transition and leaves the booking in its previous status.
type executor struct {
	ledger  *Ledger
	gateway payment.Gateway
	logger  *zap.Logger
}

// run persists next and executes effects in this order: create, capacity
// reservation, provider calls, status write, capacity release, visibility,
// wallet credit, outbox. create selects insert instead of update.
func (x executor) run(ctx context.Context, q repo.Queries, next domain.Transaction, effects []escrow.Effect, create bool) (domain.Transaction, error) {
	saved := next
	var err error

	if create {
		if saved, err = q.Transactions().Create(ctx, next); err != nil {
			return domain.Transaction{}, err
		}
	}

	for _, eff := range effects {
		if eff.Kind != escrow.EffectReserveCapacity {
			continue
		}
		if _, err := x.ledger.Reserve(ctx, q, eff.TripID, next.ID, eff.Weight); err != nil {
			return domain.Transaction{}, err
		}
	}

	for _, eff := range effects {
		if !eff.IsGateway() {
			continue
		}
		if err := x.callGateway(ctx, next.ID, eff); err != nil {
			return domain.Transaction{}, err
		}
	}

	if !create {
		if saved, err = q.Transactions().Update(ctx, next); err != nil {
			return domain.Transaction{}, err
		}
	}

	for _, eff := range effects {
		switch eff.Kind {
		case escrow.EffectReleaseCapacity:
			_, err = x.ledger.Release(ctx, q, eff.TripID, eff.Weight)
		case escrow.EffectRefreshVisibility:
			_, err = x.ledger.RefreshTrip(ctx, q, eff.TripID)
		case escrow.EffectCreditWallet:
			err = x.credit(ctx, q, saved, eff)
		case escrow.EffectNotify:
			err = x.enqueue(ctx, q, saved, eff)
		}
		if err != nil {
			return domain.Transaction{}, err
		}
	}
	return saved, nil
}

func (x executor) callGateway(ctx context.Context, bookingID uuid.UUID, eff escrow.Effect) error {
	id := bookingID.String()
	log := x.logger.With(zap.String("transaction_id", id), zap.String("hold_id", eff.HoldID))

	switch eff.Kind {
	case escrow.EffectCaptureHold:
		res, err := x.gateway.Capture(ctx, eff.HoldID, payment.IdempotencyKey("capture", id))
		if err != nil {
			log.Error("payment capture failed", zap.Error(err))
			return fmt.Errorf("capture payment: %w", err)
		}
		log.Info("payment captured", zap.Int64("amount", res.CapturedAmount))
	case escrow.EffectVoidHold:
		if _, err := x.gateway.Void(ctx, eff.HoldID, payment.IdempotencyKey("void", id)); err != nil {
			log.Error("payment void failed", zap.Error(err))
			return fmt.Errorf("void payment: %w", err)
		}
		log.Info("payment hold voided")
	case escrow.EffectRefundHold:
		res, err := x.gateway.Refund(ctx, eff.HoldID, eff.Amount, payment.IdempotencyKey("refund", id))
		if err != nil {
			log.Error("payment refund failed", zap.Error(err))
			return fmt.Errorf("refund payment: %w", err)
		}
		log.Info("payment refunded", zap.Int64("amount", res.Amount), zap.String("status", res.Status))
	}
	return nil
}

func (x executor) credit(ctx context.Context, q repo.Queries, tx domain.Transaction, eff escrow.Effect) error {
	_, err := q.Wallet().Credit(ctx, domain.WalletCredit{
		ID:            uuid.New(),
		UserID:        eff.UserID,
		TransactionID: tx.ID,
		Amount:        eff.Amount,
		Currency:      eff.Currency,
		Description:   eff.Description,
	})
	if errors.Is(err, domain.ErrConflict) {
		return domain.Errorf(domain.ErrInvalidState, "payment already released for this booking")
	}
	return err
}

func (x executor) enqueue(ctx context.Context, q repo.Queries, tx domain.Transaction, eff escrow.Effect) error {
	msg, err := domain.NewTransactionUpdatedMessage(tx, eff.PreviousStatus, eff.Notes, tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("build notification: %w", err)
	}
	_, err = q.Outbox().Enqueue(ctx, msg)
	return err
}

// DisputeOutcome is the admin's ruling on a disputed booking.
type DisputeOutcome string

const (
	OutcomeRefund  DisputeOutcome = "refund"
	OutcomeRelease DisputeOutcome = "release"
)

// EventGuard claims provider event ids so a redelivered webhook is applied
// once. Release gives the claim back when processing failed so the provider's
// retry can be processed.
type EventGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// TransactionService drives bookings through the escrow lifecycle after they
// have been created.
type TransactionService struct {
	store  repo.Store
	exec   executor
	guard  EventGuard
	logger *zap.Logger
}

// NewTransactionService constructs a TransactionService. guard may be nil, in
// which case webhook events are not deduplicated beyond the state machine's
// own status checks.
func NewTransactionService(store repo.Store, ledger *Ledger, gateway payment.Gateway, guard EventGuard, logger *zap.Logger) *TransactionService {
	return &TransactionService{
		store:  store,
		exec:   executor{ledger: ledger, gateway: gateway, logger: logger},
		guard:  guard,
		logger: logger,
	}
}

// Get returns a booking visible to actor: its sender, its traveler or an admin.
func (s *TransactionService) Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Transaction, error) {
	tx, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service.TransactionService.Get: %w", err)
	}
	if !actor.IsAdmin() && !actor.IsSystem() && !tx.IsParty(actor.ID) {
		return domain.Transaction{}, domain.Errorf(domain.ErrForbidden, "this booking belongs to someone else")
	}
	return tx, nil
}

// List returns the actor's bookings as sender or traveler, newest first.
func (s *TransactionService) List(ctx context.Context, actor domain.Actor, p domain.PaginationParams) (domain.Page[domain.Transaction], error) {
	items, total, err := s.store.Transactions().ListByUser(ctx, actor.ID, p)
	if err != nil {
		return domain.Page[domain.Transaction]{}, fmt.Errorf("service.TransactionService.List: %w", err)
	}
	return domain.NewPage(items, total, p), nil
}

// Credits returns the wallet credits issued to the actor.
func (s *TransactionService) Credits(ctx context.Context, actor domain.Actor) ([]domain.WalletCredit, error) {
	credits, err := s.store.Wallet().ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("service.TransactionService.Credits: %w", err)
	}
	return credits, nil
}

// ConfirmPickup moves an escrowed booking to package_picked_up when the
// traveler presents the sender's pickup code.
func (s *TransactionService) ConfirmPickup(ctx context.Context, actor domain.Actor, id uuid.UUID, code string) (domain.Transaction, error) {
	return s.transition(ctx, "ConfirmPickup", id, escrow.Event{
		Kind: escrow.EventConfirmPickup, Actor: actor, Code: code,
	})
}

// ConfirmDelivery captures the held payment and credits the traveler when a
// party presents the recipient's delivery code. The booking ends in
// payment_released.
func (s *TransactionService) ConfirmDelivery(ctx context.Context, actor domain.Actor, id uuid.UUID, code string) (domain.Transaction, error) {
	return s.transition(ctx, "ConfirmDelivery", id, escrow.Event{
		Kind: escrow.EventConfirmDelivery, Actor: actor, Code: code,
	})
}

// Cancel cancels a booking that has not been delivered yet, voiding or
// refunding its payment and returning its weight to the trip.
func (s *TransactionService) Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error) {
	return s.transition(ctx, "Cancel", id, escrow.Event{
		Kind: escrow.EventCancel, Actor: actor, Reason: reason,
	})
}

// OpenDispute freezes a picked-up booking until an admin rules on it.
func (s *TransactionService) OpenDispute(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Transaction, error) {
	return s.transition(ctx, "OpenDispute", id, escrow.Event{
		Kind: escrow.EventOpenDispute, Actor: actor, Reason: reason,
	})
}

// ResolveDispute refunds the sender or releases the payment to the traveler.
func (s *TransactionService) ResolveDispute(ctx context.Context, actor domain.Actor, id uuid.UUID, outcome DisputeOutcome, notes string) (domain.Transaction, error) {
	var kind escrow.EventKind
	switch outcome {
	case OutcomeRefund:
		kind = escrow.EventResolveRefund
	case OutcomeRelease:
		kind = escrow.EventResolveRelease
	default:
		return domain.Transaction{}, domain.Errorf(domain.ErrValidation, "outcome must be refund or release")
	}
	return s.transition(ctx, "ResolveDispute", id, escrow.Event{Kind: kind, Actor: actor, Reason: notes})
}

// transition locks the booking, applies ev and executes the resulting effects
// in one database transaction.
func (s *TransactionService) transition(ctx context.Context, op string, id uuid.UUID, ev escrow.Event) (domain.Transaction, error) {
	var (
		out      domain.Transaction
		previous domain.TransactionStatus
	)
	err := s.store.InTx(ctx, func(q repo.Queries) error {
		cur, err := q.Transactions().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous = cur.Status
		next, effects, err := escrow.Transition(cur, ev)
		if err != nil {
			return err
		}
		out, err = s.exec.run(ctx, q, next, effects, false)
		return err
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service.TransactionService.%s: %w", op, err)
	}

	s.logger.Info("transaction transitioned",
		zap.Stringer("transaction_id", id),
		zap.String("event", string(ev.Kind)),
		zap.String("actor", ev.Actor.String()),
		zap.String("from", string(previous)),
		zap.String("to", string(out.Status)))
	return out, nil
}
