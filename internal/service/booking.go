package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/escrow"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/payment"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
)

// BookingConfig tunes the booking orchestrator.
type BookingConfig struct {
	// FeePercent is the platform's share of every booking, e.g. 10 for 10%.
	FeePercent decimal.Decimal
	// CreateHoldOnBooking opens the payment hold right after the booking
	// commits. A hold failure is logged and the booking stays pending; the
	// sender can retry with StartPayment.
	CreateHoldOnBooking bool
	// Codes draws pickup and delivery codes. Defaults to escrow.RandomCode.
	Codes escrow.CodeGenerator
}

// BookingInput is a sender's request for space on a trip.
type BookingInput struct {
	TripID         uuid.UUID
	Weight         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// Checkout is a booking together with what the sender's client needs to
// complete the payment. ClientSecret is empty until a hold exists.
type Checkout struct {
	Transaction  domain.Transaction
	ClientSecret string
	HoldStatus   payment.HoldStatus
}

// BookingService creates bookings and takes them through payment
// authorization.
type BookingService struct {
	store  repo.Store
	ledger *Ledger
	gw     payment.Gateway
	exec   executor
	cfg    BookingConfig
	logger *zap.Logger
}

// NewBookingService constructs a BookingService.
func NewBookingService(store repo.Store, ledger *Ledger, gw payment.Gateway, cfg BookingConfig, logger *zap.Logger) *BookingService {
	if cfg.Codes == nil {
		cfg.Codes = escrow.RandomCode
	}
	return &BookingService{
		store:  store,
		ledger: ledger,
		gw:     gw,
		exec:   executor{ledger: ledger, gateway: gw, logger: logger},
		cfg:    cfg,
		logger: logger,
	}
}

// CreateBooking reserves weight on a trip for the actor and records a
// payment_pending booking. A repeated request with the same idempotency key
// returns the booking created the first time.
func (s *BookingService) CreateBooking(ctx context.Context, actor domain.Actor, in BookingInput) (Checkout, error) {
	if actor.IsSystem() || actor.ID == uuid.Nil {
		return Checkout{}, domain.Errorf(domain.ErrForbidden, "bookings are made by a signed-in sender")
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		existing, err := s.store.Transactions().FindByIdempotencyKey(ctx, actor.ID, key)
		if err == nil {
			return Checkout{Transaction: existing}, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return Checkout{}, fmt.Errorf("service.BookingService.CreateBooking: %w", err)
		}
	}

	trip, err := s.store.Trips().GetByID(ctx, in.TripID)
	if err != nil {
		return Checkout{}, fmt.Errorf("service.BookingService.CreateBooking: %w", err)
	}

	tx, effects, err := escrow.NewBooking(escrow.BookingParams{
		Trip:           trip,
		SenderID:       actor.ID,
		Weight:         in.Weight,
		Description:    in.Description,
		FeePercent:     s.cfg.FeePercent,
		IdempotencyKey: key,
	}, s.cfg.Codes)
	if err != nil {
		return Checkout{}, fmt.Errorf("service.BookingService.CreateBooking: %w", err)
	}

	// Early answer for the common case; Reserve repeats the check under lock.
	avail, err := s.ledger.CheckAvailability(ctx, s.store, trip.ID, in.Weight, uuid.Nil)
	if err != nil {
		return Checkout{}, fmt.Errorf("service.BookingService.CreateBooking: %w", err)
	}
	if !avail.Fits {
		return Checkout{}, domain.Errorf(domain.ErrCapacity,
			"only %s kg available on this trip, %s kg requested", avail.Available.String(), in.Weight.String())
	}

	var saved domain.Transaction
	err = s.store.InTx(ctx, func(q repo.Queries) error {
		locked, err := q.Trips().GetForUpdate(ctx, trip.ID)
		if err != nil {
			return err
		}
		if !locked.Bookable() {
			return domain.Errorf(domain.ErrInvalidState, "trip is %s and does not accept bookings", locked.Status)
		}
		saved, err = s.exec.run(ctx, q, tx, effects, true)
		return err
	})
	if errors.Is(err, domain.ErrConflict) && key != "" {
		existing, ferr := s.store.Transactions().FindByIdempotencyKey(ctx, actor.ID, key)
		if ferr == nil {
			return Checkout{Transaction: existing}, nil
		}
	}
	if err != nil {
		return Checkout{}, fmt.Errorf("service.BookingService.CreateBooking: %w", err)
	}

	s.logger.Info("booking created",
		zap.Stringer("transaction_id", saved.ID),
		zap.Stringer("trip_id", saved.TripID),
		zap.String("weight", saved.PackageWeight.String()),
		zap.Int64("amount", saved.Amount))

	if !s.cfg.CreateHoldOnBooking {
		return Checkout{Transaction: saved}, nil
	}
	co, err := s.startPayment(ctx, saved)
	if err != nil {
		s.logger.Error("payment hold not created", zap.Stringer("transaction_id", saved.ID), zap.Error(err))
		return Checkout{Transaction: saved}, nil
	}
	return co, nil
}

// StartPayment opens the payment hold for a pending booking, or returns the
// hold already recorded for it. Only the sender pays.
func (s *BookingService) StartPayment(ctx context.Context, actor domain.Actor, id uuid.UUID) (Checkout, error) {
	tx, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return Checkout{}, fmt.Errorf("service.BookingService.StartPayment: %w", err)
	}
	if actor.IsSystem() || actor.ID != tx.SenderID {
		return Checkout{}, domain.Errorf(domain.ErrForbidden, "only the sender can pay for this booking")
	}
	co, err := s.startPayment(ctx, tx)
	if err != nil {
		return Checkout{}, fmt.Errorf("service.BookingService.StartPayment: %w", err)
	}
	return co, nil
}

func (s *BookingService) startPayment(ctx context.Context, tx domain.Transaction) (Checkout, error) {
	if tx.PaymentIntentID != "" {
		hold, err := s.gw.Retrieve(ctx, tx.PaymentIntentID)
		if err != nil {
			return Checkout{}, err
		}
		return Checkout{Transaction: tx, ClientSecret: hold.ClientSecret, HoldStatus: hold.Status}, nil
	}
	if tx.Status != domain.StatusPaymentPending {
		return Checkout{}, domain.Errorf(domain.ErrInvalidState, "cannot start payment for a booking in status %s", tx.Status)
	}

	id := tx.ID.String()
	hold, err := s.gw.CreateHold(ctx, payment.HoldRequest{
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		PayeeRef:       tx.TravelerID.String(),
		Description:    "Cokilo booking " + id,
		IdempotencyKey: payment.IdempotencyKey("hold", id),
		Metadata: map[string]string{
			"transaction_id": id,
			"trip_id":        tx.TripID.String(),
		},
	})
	if err != nil {
		return Checkout{}, err
	}

	var saved domain.Transaction
	err = s.store.InTx(ctx, func(q repo.Queries) error {
		cur, err := q.Transactions().GetForUpdate(ctx, tx.ID)
		if err != nil {
			return err
		}
		switch {
		case cur.PaymentIntentID == hold.ID:
			saved = cur
		case cur.PaymentIntentID != "":
			return domain.Errorf(domain.ErrConflict, "booking already has a different payment hold")
		case cur.Status != domain.StatusPaymentPending:
			// The booking moved on while the hold was being created. Nothing
			// else knows about this hold, so it is voided here.
			if _, err := s.gw.Void(ctx, hold.ID, payment.IdempotencyKey("void", id)); err != nil {
				return err
			}
			return domain.Errorf(domain.ErrInvalidState, "booking was %s while payment started", cur.Status)
		default:
			cur = cur.Clone()
			cur.PaymentIntentID = hold.ID
			if saved, err = q.Transactions().Update(ctx, cur); err != nil {
				return err
			}
		}
		if hold.Status.Authorized() && saved.Status == domain.StatusPaymentPending {
			saved, err = s.escrowPayment(ctx, q, saved, hold.ID)
		}
		return err
	})
	if err != nil {
		return Checkout{}, err
	}

	s.logger.Info("payment hold created",
		zap.Stringer("transaction_id", tx.ID), zap.String("hold_id", hold.ID), zap.String("status", string(hold.Status)))
	return Checkout{Transaction: saved, ClientSecret: hold.ClientSecret, HoldStatus: hold.Status}, nil
}

// ConfirmPayment asks the provider for the hold status and escrows the
// booking when the funds are authorized. It is the synchronous counterpart of
// the authorization webhook; whichever arrives first wins.
func (s *BookingService) ConfirmPayment(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Transaction, error) {
	tx, err := s.store.Transactions().GetByID(ctx, id)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service.BookingService.ConfirmPayment: %w", err)
	}
	if !actor.IsAdmin() && (actor.IsSystem() || actor.ID != tx.SenderID) {
		return domain.Transaction{}, domain.Errorf(domain.ErrForbidden, "only the sender can confirm this payment")
	}
	if tx.PaymentIntentID == "" {
		return domain.Transaction{}, domain.Errorf(domain.ErrInvalidState, "payment has not been started for this booking")
	}

	hold, err := s.gw.Retrieve(ctx, tx.PaymentIntentID)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service.BookingService.ConfirmPayment: %w", err)
	}
	if !hold.Status.Authorized() {
		return tx, nil
	}

	var saved domain.Transaction
	err = s.store.InTx(ctx, func(q repo.Queries) error {
		cur, err := q.Transactions().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusPaymentPending {
			saved = cur
			return nil
		}
		saved, err = s.escrowPayment(ctx, q, cur, hold.ID)
		return err
	})
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("service.BookingService.ConfirmPayment: %w", err)
	}
	return saved, nil
}

func (s *BookingService) escrowPayment(ctx context.Context, q repo.Queries, cur domain.Transaction, holdID string) (domain.Transaction, error) {
	next, effects, err := escrow.Transition(cur, escrow.Event{
		Kind:   escrow.EventPaymentAuthorized,
		Actor:  domain.SystemActor,
		HoldID: holdID,
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	saved, err := s.exec.run(ctx, q, next, effects, false)
	if err != nil {
		return domain.Transaction{}, err
	}
	s.logger.Info("payment escrowed", zap.Stringer("transaction_id", saved.ID), zap.String("hold_id", holdID))
	return saved, nil
}
