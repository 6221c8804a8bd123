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
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
)

// tripTransitions lists the lifecycle moves a traveler can make. published and
// full flip between each other through the ledger only.
var tripTransitions = map[domain.TripStatus][]domain.TripStatus{
	domain.TripDraft:      {domain.TripPublished, domain.TripCancelled},
	domain.TripPublished:  {domain.TripInProgress, domain.TripCancelled},
	domain.TripFull:       {domain.TripInProgress, domain.TripCancelled},
	domain.TripInProgress: {domain.TripCompleted},
}

// bookingsBlockingTripCancel are the booking statuses in which the package is
// already with the traveler or money has already moved.
var bookingsBlockingTripCancel = []domain.TransactionStatus{
	domain.StatusPackagePickedUp,
	domain.StatusPackageDelivered,
	domain.StatusPaymentReleased,
	domain.StatusDisputed,
}

// TripService implements business logic for Trip operations.
type TripService struct {
	store    repo.Store
	ledger   *Ledger
	txs      *TransactionService
	currency string
	logger   *zap.Logger
}

// NewTripService constructs a TripService. defaultCurrency applies to trips
// created without one. txs is used to cancel open bookings when a trip is
// cancelled.
func NewTripService(store repo.Store, ledger *Ledger, txs *TransactionService, defaultCurrency string, logger *zap.Logger) *TripService {
	return &TripService{
		store:    store,
		ledger:   ledger,
		txs:      txs,
		currency: strings.ToLower(defaultCurrency),
		logger:   logger,
	}
}

// Create validates and persists a new draft trip owned by actor.
func (s *TripService) Create(ctx context.Context, actor domain.Actor, trip domain.Trip) (domain.Trip, error) {
	if actor.IsSystem() || actor.ID == uuid.Nil {
		return domain.Trip{}, domain.Errorf(domain.ErrForbidden, "trips are published by a signed-in traveler")
	}
	trip.Origin = strings.TrimSpace(trip.Origin)
	trip.Destination = strings.TrimSpace(trip.Destination)
	trip.Currency = strings.ToLower(strings.TrimSpace(trip.Currency))
	if trip.Currency == "" {
		trip.Currency = s.currency
	}
	if err := validateTrip(trip); err != nil {
		return domain.Trip{}, err
	}

	trip.ID = uuid.New()
	trip.TravelerID = actor.ID
	trip.Status = domain.TripDraft
	trip = trip.WithReserved(decimal.Zero)

	result, err := s.store.Trips().Create(ctx, trip)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Create: %w", err)
	}
	return result, nil
}

// Get returns a trip with its reserved and available weight recomputed from
// the live bookings.
func (s *TripService) Get(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return s.ledger.Snapshot(ctx, s.store, id)
}

// List returns one page of trips matching f.
func (s *TripService) List(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) (domain.Page[domain.Trip], error) {
	if f.Status != "" && !f.Status.Valid() {
		return domain.Page[domain.Trip]{}, domain.Errorf(domain.ErrValidation, "unknown trip status %q", f.Status)
	}
	trips, total, err := s.store.Trips().ListPaged(ctx, f, p)
	if err != nil {
		return domain.Page[domain.Trip]{}, fmt.Errorf("service.TripService.List: %w", err)
	}
	return domain.NewPage(trips, total, p), nil
}

// Publish opens a draft trip for bookings.
func (s *TripService) Publish(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error) {
	return s.move(ctx, "Publish", actor, id, domain.TripPublished)
}

// Start marks the trip as under way. No further bookings are accepted.
func (s *TripService) Start(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error) {
	return s.move(ctx, "Start", actor, id, domain.TripInProgress)
}

// Complete marks an in-progress trip as finished.
func (s *TripService) Complete(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Trip, error) {
	return s.move(ctx, "Complete", actor, id, domain.TripCompleted)
}

// Cancel withdraws a trip. It is refused once any package has been picked up
// or any payment released; otherwise the trip is cancelled and its pending
// and escrowed bookings are cancelled with their holds voided. Booking
// cancellations that fail are reported together after the trip itself has
// been cancelled.
func (s *TripService) Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Trip, error) {
	var (
		trip domain.Trip
		open []domain.Transaction
	)
	err := s.store.InTx(ctx, func(q repo.Queries) error {
		cur, err := q.Trips().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, cur); err != nil {
			return err
		}
		if !canMoveTrip(cur.Status, domain.TripCancelled) {
			return domain.Errorf(domain.ErrInvalidState, "cannot cancel a trip in status %s", cur.Status)
		}
		blocking, err := q.Transactions().ListByTrip(ctx, id, bookingsBlockingTripCancel)
		if err != nil {
			return err
		}
		if len(blocking) > 0 {
			return domain.Errorf(domain.ErrInvalidState, "%d booking(s) on this trip are already under way", len(blocking))
		}
		if open, err = q.Transactions().ListByTrip(ctx, id, []domain.TransactionStatus{
			domain.StatusPaymentPending, domain.StatusPaymentEscrowed,
		}); err != nil {
			return err
		}
		trip, err = q.Trips().UpdateStatus(ctx, id, domain.TripCancelled)
		return err
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.Cancel: %w", err)
	}
	s.logger.Info("trip cancelled", zap.Stringer("trip_id", id), zap.Int("open_bookings", len(open)))

	if reason == "" {
		reason = "trip cancelled"
	}
	var errs []error
	for _, tx := range open {
		if _, err := s.txs.Cancel(ctx, domain.SystemActor, tx.ID, reason); err != nil {
			s.logger.Error("booking not cancelled with its trip", zap.Stringer("transaction_id", tx.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return trip, fmt.Errorf("service.TripService.Cancel: %w", err)
	}
	return trip, nil
}

// RefreshVisibility is the admin entry point to the ledger's bulk
// published/full flip.
func (s *TripService) RefreshVisibility(ctx context.Context, actor domain.Actor) (int64, error) {
	if !actor.IsAdmin() && !actor.IsSystem() {
		return 0, domain.Errorf(domain.ErrForbidden, "only an admin can refresh trip visibility")
	}
	return s.ledger.RefreshVisibility(ctx, s.store)
}

func (s *TripService) move(ctx context.Context, op string, actor domain.Actor, id uuid.UUID, to domain.TripStatus) (domain.Trip, error) {
	var trip domain.Trip
	err := s.store.InTx(ctx, func(q repo.Queries) error {
		cur, err := q.Trips().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := s.authorize(actor, cur); err != nil {
			return err
		}
		if !canMoveTrip(cur.Status, to) {
			return domain.Errorf(domain.ErrInvalidState, "cannot move a trip from %s to %s", cur.Status, to)
		}
		if trip, err = q.Trips().UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		if to == domain.TripPublished {
			// Visibility follows the reserved weight.
			trip, err = s.ledger.RefreshTrip(ctx, q, id)
		}
		return err
	})
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.TripService.%s: %w", op, err)
	}
	s.logger.Info("trip status changed", zap.Stringer("trip_id", id), zap.String("to", string(trip.Status)))
	return trip, nil
}

func (s *TripService) authorize(actor domain.Actor, trip domain.Trip) error {
	if actor.IsAdmin() || actor.IsSystem() || actor.ID == trip.TravelerID {
		return nil
	}
	return domain.Errorf(domain.ErrForbidden, "only the traveler can manage this trip")
}

func canMoveTrip(from, to domain.TripStatus) bool {
	for _, s := range tripTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// validateTrip enforces business rules on a new trip.
func validateTrip(t domain.Trip) error {
	if t.Origin == "" || t.Destination == "" {
		return domain.Errorf(domain.ErrValidation, "origin and destination are required")
	}
	if strings.EqualFold(t.Origin, t.Destination) {
		return domain.Errorf(domain.ErrValidation, "origin and destination must differ")
	}
	if t.DepartureAt.IsZero() {
		return domain.Errorf(domain.ErrValidation, "departure time is required")
	}
	if !t.CapacityKg.IsPositive() {
		return domain.Errorf(domain.ErrValidation, "capacity must be positive")
	}
	if !domain.FitsColumn(t.CapacityKg, domain.WeightPlaces, domain.MaxWeightKg) {
		return domain.Errorf(domain.ErrValidation, "capacity must have at most %d decimal places and not exceed %s kg",
			domain.WeightPlaces, domain.MaxWeightKg)
	}
	if !t.PricePerKg.IsPositive() {
		return domain.Errorf(domain.ErrValidation, "price per kg must be positive")
	}
	if !domain.FitsColumn(t.PricePerKg, domain.PricePlaces, domain.MaxPricePerKg) {
		return domain.Errorf(domain.ErrValidation, "price per kg must have at most %d decimal places and not exceed %s",
			domain.PricePlaces, domain.MaxPricePerKg)
	}
	if len(t.Currency) != 3 {
		return domain.Errorf(domain.ErrValidation, "currency must be a 3-letter ISO code")
	}
	return nil
}
