// Package service contains the business logic for the Cokilo backend.
// Services validate inputs, enforce business rules, and orchestrate repo and
// payment calls. No SQL lives here: services depend on repo interfaces.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
)

// Availability is the answer to a capacity check.
type Availability struct {
	Capacity  decimal.Decimal `json:"capacity_kg"`
	Reserved  decimal.Decimal `json:"reserved_weight"`
	Available decimal.Decimal `json:"available_weight"`
	Fits      bool            `json:"fits"`
}

// Ledger tracks how much of each trip's capacity is held by live bookings.
// The authoritative figure is always the sum over weight-consuming
// transactions; the trip's reserved_weight column is a cache rewritten on
// every capacity-affecting commit. Every method takes the Queries to run on so
// callers can include it in their own database transaction.
type Ledger struct {
	logger *zap.Logger
}

// NewLedger constructs a Ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{logger: logger}
}

// ReservedWeight sums the package weight of the trip's live bookings.
func (l *Ledger) ReservedWeight(ctx context.Context, q repo.Queries, tripID uuid.UUID) (decimal.Decimal, error) {
	sum, err := q.Transactions().SumWeight(ctx, tripID, domain.WeightConsumingStatuses, uuid.Nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("service.Ledger.ReservedWeight: %w", err)
	}
	return sum, nil
}

// CheckAvailability reports whether weight still fits on the trip, ignoring
// the booking exclude (pass uuid.Nil for a new booking). An unknown trip
// reports Fits false with no error. It takes no lock; Reserve repeats the
// check under the trip lock.
func (l *Ledger) CheckAvailability(ctx context.Context, q repo.Queries, tripID uuid.UUID, weight decimal.Decimal, exclude uuid.UUID) (Availability, error) {
	if !weight.IsPositive() {
		return Availability{}, domain.Errorf(domain.ErrValidation, "package weight must be positive")
	}
	trip, err := q.Trips().GetByID(ctx, tripID)
	if errors.Is(err, domain.ErrNotFound) {
		return Availability{Capacity: decimal.Zero, Reserved: decimal.Zero, Available: decimal.Zero}, nil
	}
	if err != nil {
		return Availability{}, fmt.Errorf("service.Ledger.CheckAvailability: %w", err)
	}
	reserved, err := q.Transactions().SumWeight(ctx, tripID, domain.WeightConsumingStatuses, exclude)
	if err != nil {
		return Availability{}, fmt.Errorf("service.Ledger.CheckAvailability: %w", err)
	}
	return availability(trip, reserved, weight), nil
}

// Reserve takes weight on the trip for the booking transactionID. It locks the
// trip row, recomputes the live sum without that booking, re-validates, and
// stores sum+weight with the visibility status that follows. Returns
// domain.ErrCapacity when the weight no longer fits.
func (l *Ledger) Reserve(ctx context.Context, q repo.Queries, tripID, transactionID uuid.UUID, weight decimal.Decimal) (domain.Trip, error) {
	if !weight.IsPositive() {
		return domain.Trip{}, domain.Errorf(domain.ErrValidation, "package weight must be positive")
	}
	trip, err := q.Trips().GetForUpdate(ctx, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Reserve: %w", err)
	}
	reserved, err := q.Transactions().SumWeight(ctx, tripID, domain.WeightConsumingStatuses, transactionID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Reserve: %w", err)
	}

	a := availability(trip, reserved, weight)
	if !a.Fits {
		return domain.Trip{}, domain.Errorf(domain.ErrCapacity,
			"only %s kg available on this trip, %s kg requested", a.Available.String(), weight.String())
	}

	next := trip.WithReserved(reserved.Add(weight))
	saved, err := q.Trips().SetReserved(ctx, tripID, next.ReservedWeight, next.Status)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Reserve: %w", err)
	}
	if saved.Status != trip.Status {
		l.logger.Info("trip visibility changed",
			zap.Stringer("trip_id", tripID), zap.String("from", string(trip.Status)), zap.String("to", string(saved.Status)))
	}
	return saved, nil
}

// Release gives weight back after a booking left the weight-consuming
// statuses. Call it after the booking's status write so the recomputed sum no
// longer counts it. The cached value is never allowed below zero and any drift
// between cache and sum is logged and corrected.
func (l *Ledger) Release(ctx context.Context, q repo.Queries, tripID uuid.UUID, weight decimal.Decimal) (domain.Trip, error) {
	trip, err := q.Trips().GetForUpdate(ctx, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Release: %w", err)
	}

	cached := trip.ReservedWeight.Sub(weight)
	if cached.IsNegative() {
		cached = decimal.Zero
	}
	actual, err := q.Transactions().SumWeight(ctx, tripID, domain.WeightConsumingStatuses, uuid.Nil)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Release: %w", err)
	}
	if !cached.Equal(actual) {
		l.logger.Warn("reserved weight drift corrected",
			zap.Stringer("trip_id", tripID),
			zap.String("cached", cached.String()),
			zap.String("actual", actual.String()))
	}

	next := trip.WithReserved(actual)
	saved, err := q.Trips().SetReserved(ctx, tripID, next.ReservedWeight, next.Status)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Release: %w", err)
	}
	return saved, nil
}

// RefreshTrip applies the published/full flip to one trip.
func (l *Ledger) RefreshTrip(ctx context.Context, q repo.Queries, tripID uuid.UUID) (domain.Trip, error) {
	trip, err := q.Trips().GetForUpdate(ctx, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.RefreshTrip: %w", err)
	}
	status := trip.VisibilityStatus()
	if status == trip.Status {
		return trip, nil
	}
	saved, err := q.Trips().UpdateStatus(ctx, tripID, status)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.RefreshTrip: %w", err)
	}
	return saved, nil
}

// RefreshVisibility flips every published trip with no weight left to full and
// every full trip with weight left back to published. Idempotent.
func (l *Ledger) RefreshVisibility(ctx context.Context, q repo.Queries) (int64, error) {
	n, err := q.Trips().RefreshVisibility(ctx)
	if err != nil {
		return 0, fmt.Errorf("service.Ledger.RefreshVisibility: %w", err)
	}
	if n > 0 {
		l.logger.Info("trip visibility refreshed", zap.Int64("flipped", n))
	}
	return n, nil
}

// Snapshot returns the trip with reserved and available weight recomputed from
// live bookings rather than read from the cache. The stored status is kept.
func (l *Ledger) Snapshot(ctx context.Context, q repo.Queries, tripID uuid.UUID) (domain.Trip, error) {
	trip, err := q.Trips().GetByID(ctx, tripID)
	if err != nil {
		return domain.Trip{}, fmt.Errorf("service.Ledger.Snapshot: %w", err)
	}
	reserved, err := l.ReservedWeight(ctx, q, tripID)
	if err != nil {
		return domain.Trip{}, err
	}
	snap := trip.WithReserved(reserved)
	snap.Status = trip.Status
	return snap, nil
}

func availability(trip domain.Trip, reserved, weight decimal.Decimal) Availability {
	available := trip.CapacityKg.Sub(reserved)
	if available.IsNegative() {
		available = decimal.Zero
	}
	return Availability{
		Capacity:  trip.CapacityKg,
		Reserved:  reserved,
		Available: available,
		Fits:      weight.LessThanOrEqual(available),
	}
}
