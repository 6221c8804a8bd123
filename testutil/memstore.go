package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
)

// MemStore is an in-memory repo.Store for service tests. InTx works on a
// private copy of the data and publishes it only when fn succeeds, and
// transactions are serialized, which stands in for the row locks of the
// Postgres implementation.
type MemStore struct {
	txMu sync.Mutex // serializes writers
	mu   sync.Mutex // guards data
	data *memData

	commits int
}

type memData struct {
	trips   map[uuid.UUID]domain.Trip
	txs     map[uuid.UUID]domain.Transaction
	credits []domain.WalletCredit
	outbox  []domain.OutboxMessage
	nextID  int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{data: &memData{
		trips: map[uuid.UUID]domain.Trip{},
		txs:   map[uuid.UUID]domain.Transaction{},
	}}
}

var _ repo.Store = (*MemStore)(nil)

func (s *MemStore) Trips() repo.TripRepo               { return memTrips{s.auto()} }
func (s *MemStore) Transactions() repo.TransactionRepo { return memTxs{s.auto()} }
func (s *MemStore) Wallet() repo.WalletRepo            { return memWallet{s.auto()} }
func (s *MemStore) Outbox() repo.OutboxRepo            { return memOutbox{s.auto()} }

// InTx runs fn against a copy of the data and commits the copy on success.
func (s *MemStore) InTx(ctx context.Context, fn func(q repo.Queries) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	work := s.data.clone()
	s.mu.Unlock()

	if err := fn(memQueries{access{d: work}}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = work
	s.commits++
	s.mu.Unlock()
	return nil
}

// Commits returns the number of InTx calls that committed.
func (s *MemStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// Credits returns a copy of every wallet credit recorded so far.
func (s *MemStore) Credits() []domain.WalletCredit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.WalletCredit(nil), s.data.credits...)
}

// Messages returns a copy of every outbox message recorded so far.
func (s *MemStore) Messages() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxMessage(nil), s.data.outbox...)
}

// PutTrip stores trip as is, bypassing Create. Useful to seed odd states.
func (s *MemStore) PutTrip(trip domain.Trip) domain.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if trip.ID == uuid.Nil {
		trip.ID = uuid.New()
	}
	trip.AvailableWeight = trip.CapacityKg.Sub(trip.ReservedWeight)
	s.data.trips[trip.ID] = trip
	return trip
}

func (s *MemStore) auto() access {
	return access{s: s}
}

func (d *memData) clone() *memData {
	c := &memData{
		trips:   make(map[uuid.UUID]domain.Trip, len(d.trips)),
		txs:     make(map[uuid.UUID]domain.Transaction, len(d.txs)),
		credits: append([]domain.WalletCredit(nil), d.credits...),
		outbox:  append([]domain.OutboxMessage(nil), d.outbox...),
		nextID:  d.nextID,
	}
	for k, v := range d.trips {
		c.trips[k] = v
	}
	for k, v := range d.txs {
		c.txs[k] = v.Clone()
	}
	return c
}

// access either works on a transaction's private copy (d) or on the shared
// data with auto-commit semantics (s).
type access struct {
	s *MemStore
	d *memData
}

func (a access) do(fn func(d *memData) error) error {
	if a.d != nil {
		return fn(a.d)
	}
	a.s.txMu.Lock()
	defer a.s.txMu.Unlock()
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	return fn(a.s.data)
}

type memQueries struct{ a access }

func (q memQueries) Trips() repo.TripRepo               { return memTrips{q.a} }
func (q memQueries) Transactions() repo.TransactionRepo { return memTxs{q.a} }
func (q memQueries) Wallet() repo.WalletRepo            { return memWallet{q.a} }
func (q memQueries) Outbox() repo.OutboxRepo            { return memOutbox{q.a} }

// ---- trips -----------------------------------------------------------------

type memTrips struct{ a access }

func (r memTrips) Create(_ context.Context, trip domain.Trip) (domain.Trip, error) {
	err := r.a.do(func(d *memData) error {
		if trip.ID == uuid.Nil {
			trip.ID = uuid.New()
		}
		now := time.Now().UTC()
		trip.CreatedAt, trip.UpdatedAt = now, now
		trip.AvailableWeight = trip.CapacityKg.Sub(trip.ReservedWeight)
		d.trips[trip.ID] = trip
		return nil
	})
	return trip, err
}

func (r memTrips) GetByID(_ context.Context, id uuid.UUID) (domain.Trip, error) {
	var out domain.Trip
	err := r.a.do(func(d *memData) error {
		t, ok := d.trips[id]
		if !ok {
			return fmt.Errorf("memstore.Trips.GetByID: %w", domain.ErrNotFound)
		}
		out = t
		return nil
	})
	return out, err
}

func (r memTrips) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	return r.GetByID(ctx, id)
}

func (r memTrips) ListPaged(_ context.Context, f domain.TripFilter, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	var all []domain.Trip
	_ = r.a.do(func(d *memData) error {
		for _, t := range d.trips {
			if f.Status != "" && t.Status != f.Status {
				continue
			}
			if f.TravelerID != uuid.Nil && t.TravelerID != f.TravelerID {
				continue
			}
			all = append(all, t)
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if !all[i].DepartureAt.Equal(all[j].DepartureAt) {
			return all[i].DepartureAt.Before(all[j].DepartureAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return page(all, p), int64(len(all)), nil
}

func (r memTrips) UpdateStatus(_ context.Context, id uuid.UUID, status domain.TripStatus) (domain.Trip, error) {
	var out domain.Trip
	err := r.a.do(func(d *memData) error {
		t, ok := d.trips[id]
		if !ok {
			return fmt.Errorf("memstore.Trips.UpdateStatus: %w", domain.ErrNotFound)
		}
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
		d.trips[id] = t
		out = t
		return nil
	})
	return out, err
}

func (r memTrips) SetReserved(_ context.Context, id uuid.UUID, reserved decimal.Decimal, status domain.TripStatus) (domain.Trip, error) {
	var out domain.Trip
	err := r.a.do(func(d *memData) error {
		t, ok := d.trips[id]
		if !ok {
			return fmt.Errorf("memstore.Trips.SetReserved: %w", domain.ErrNotFound)
		}
		if reserved.IsNegative() || reserved.GreaterThan(t.CapacityKg) {
			return fmt.Errorf("memstore.Trips.SetReserved: reserved %s violates capacity %s", reserved, t.CapacityKg)
		}
		t.ReservedWeight = reserved
		t.AvailableWeight = t.CapacityKg.Sub(reserved)
		t.Status = status
		t.UpdatedAt = time.Now().UTC()
		d.trips[id] = t
		out = t
		return nil
	})
	return out, err
}

func (r memTrips) RefreshVisibility(_ context.Context) (int64, error) {
	var n int64
	err := r.a.do(func(d *memData) error {
		for id, t := range d.trips {
			next := t.VisibilityStatus()
			if next != t.Status {
				t.Status = next
				t.UpdatedAt = time.Now().UTC()
				d.trips[id] = t
				n++
			}
		}
		return nil
	})
	return n, err
}

// ---- transactions ----------------------------------------------------------

type memTxs struct{ a access }

func (r memTxs) Create(_ context.Context, tx domain.Transaction) (domain.Transaction, error) {
	err := r.a.do(func(d *memData) error {
		if _, ok := d.trips[tx.TripID]; !ok {
			return fmt.Errorf("memstore.Transactions.Create: unknown trip %s", tx.TripID)
		}
		if _, ok := d.txs[tx.ID]; ok {
			return fmt.Errorf("memstore.Transactions.Create: %w", domain.ErrConflict)
		}
		for _, other := range d.txs {
			if tx.IdempotencyKey != "" && other.SenderID == tx.SenderID && other.IdempotencyKey == tx.IdempotencyKey {
				return fmt.Errorf("memstore.Transactions.Create: %w", domain.ErrConflict)
			}
		}
		d.txs[tx.ID] = tx.Clone()
		return nil
	})
	return tx, err
}

func (r memTxs) GetByID(_ context.Context, id uuid.UUID) (domain.Transaction, error) {
	var out domain.Transaction
	err := r.a.do(func(d *memData) error {
		t, ok := d.txs[id]
		if !ok {
			return fmt.Errorf("memstore.Transactions.GetByID: %w", domain.ErrNotFound)
		}
		out = t.Clone()
		return nil
	})
	return out, err
}

func (r memTxs) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r memTxs) GetByPaymentIntentForUpdate(_ context.Context, holdID string) (domain.Transaction, error) {
	var out domain.Transaction
	err := r.a.do(func(d *memData) error {
		for _, t := range d.txs {
			if holdID != "" && t.PaymentIntentID == holdID {
				out = t.Clone()
				return nil
			}
		}
		return fmt.Errorf("memstore.Transactions.GetByPaymentIntentForUpdate: %w", domain.ErrNotFound)
	})
	return out, err
}

func (r memTxs) FindByIdempotencyKey(_ context.Context, senderID uuid.UUID, key string) (domain.Transaction, error) {
	var out domain.Transaction
	err := r.a.do(func(d *memData) error {
		for _, t := range d.txs {
			if t.SenderID == senderID && t.IdempotencyKey == key {
				out = t.Clone()
				return nil
			}
		}
		return fmt.Errorf("memstore.Transactions.FindByIdempotencyKey: %w", domain.ErrNotFound)
	})
	return out, err
}

func (r memTxs) Update(_ context.Context, tx domain.Transaction) (domain.Transaction, error) {
	var out domain.Transaction
	err := r.a.do(func(d *memData) error {
		cur, ok := d.txs[tx.ID]
		if !ok {
			return fmt.Errorf("memstore.Transactions.Update: %w", domain.ErrNotFound)
		}
		if tx.PaymentIntentID != "" {
			for id, other := range d.txs {
				if id != tx.ID && other.PaymentIntentID == tx.PaymentIntentID {
					return fmt.Errorf("memstore.Transactions.Update: %w", domain.ErrConflict)
				}
			}
		}
		cur.Status = tx.Status
		cur.StatusHistory = append([]domain.StatusEntry(nil), tx.StatusHistory...)
		cur.PaymentIntentID = tx.PaymentIntentID
		cur.InternalNotes = append([]string(nil), tx.InternalNotes...)
		cur.CancellationReason = tx.CancellationReason
		cur.PickedUpAt = tx.PickedUpAt
		cur.DeliveredAt = tx.DeliveredAt
		cur.PaymentReleasedAt = tx.PaymentReleasedAt
		cur.CancelledAt = tx.CancelledAt
		cur.UpdatedAt = time.Now().UTC()
		d.txs[tx.ID] = cur
		out = cur.Clone()
		return nil
	})
	return out, err
}

func (r memTxs) SumWeight(_ context.Context, tripID uuid.UUID, statuses []domain.TransactionStatus, exclude uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	_ = r.a.do(func(d *memData) error {
		for _, t := range d.txs {
			if t.TripID != tripID || t.ID == exclude || !hasStatus(statuses, t.Status) {
				continue
			}
			sum = sum.Add(t.PackageWeight)
		}
		return nil
	})
	return sum, nil
}

func (r memTxs) ListByUser(_ context.Context, userID uuid.UUID, p domain.PaginationParams) ([]domain.Transaction, int64, error) {
	var all []domain.Transaction
	_ = r.a.do(func(d *memData) error {
		for _, t := range d.txs {
			if t.IsParty(userID) {
				all = append(all, t.Clone())
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, p), int64(len(all)), nil
}

func (r memTxs) ListByTrip(_ context.Context, tripID uuid.UUID, statuses []domain.TransactionStatus) ([]domain.Transaction, error) {
	all := []domain.Transaction{}
	_ = r.a.do(func(d *memData) error {
		for _, t := range d.txs {
			if t.TripID == tripID && hasStatus(statuses, t.Status) {
				all = append(all, t.Clone())
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	return all, nil
}

// ---- wallet ----------------------------------------------------------------

type memWallet struct{ a access }

func (r memWallet) Credit(_ context.Context, c domain.WalletCredit) (domain.WalletCredit, error) {
	err := r.a.do(func(d *memData) error {
		for _, other := range d.credits {
			if other.TransactionID == c.TransactionID {
				return fmt.Errorf("memstore.Wallet.Credit: %w", domain.ErrConflict)
			}
		}
		c.ID = uuid.New()
		c.CreatedAt = time.Now().UTC()
		d.credits = append(d.credits, c)
		return nil
	})
	return c, err
}

func (r memWallet) ListByUser(_ context.Context, userID uuid.UUID) ([]domain.WalletCredit, error) {
	out := []domain.WalletCredit{}
	_ = r.a.do(func(d *memData) error {
		for _, c := range d.credits {
			if c.UserID == userID {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, nil
}

// ---- outbox ----------------------------------------------------------------

type memOutbox struct{ a access }

func (r memOutbox) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	err := r.a.do(func(d *memData) error {
		d.nextID++
		msg.ID = d.nextID
		msg.Status = domain.OutboxPending
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		d.outbox = append(d.outbox, msg)
		return nil
	})
	return msg, err
}

func (r memOutbox) ClaimPending(_ context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error) {
	out := []domain.OutboxMessage{}
	now := time.Now().UTC()
	_ = r.a.do(func(d *memData) error {
		for i := range d.outbox {
			if len(out) == limit {
				break
			}
			m := d.outbox[i]
			stale := staleAfter > 0 && m.Status == domain.OutboxProcessing &&
				m.ClaimedAt != nil && m.ClaimedAt.Before(now.Add(-staleAfter))
			if m.Status != domain.OutboxPending && !stale {
				continue
			}
			claimed := now
			d.outbox[i].Status = domain.OutboxProcessing
			d.outbox[i].ProcessingAttempts++
			d.outbox[i].ClaimedAt = &claimed
			out = append(out, d.outbox[i])
		}
		return nil
	})
	return out, nil
}

func (r memOutbox) MarkCompleted(_ context.Context, id int64) error {
	return r.mark(id, domain.OutboxCompleted, nil)
}

func (r memOutbox) MarkRetry(_ context.Context, id int64, lastErr string) error {
	return r.mark(id, domain.OutboxPending, &lastErr)
}

func (r memOutbox) MarkFailed(_ context.Context, id int64, lastErr string) error {
	return r.mark(id, domain.OutboxFailed, &lastErr)
}

func (r memOutbox) mark(id int64, status domain.OutboxStatus, lastErr *string) error {
	return r.a.do(func(d *memData) error {
		for i := range d.outbox {
			if d.outbox[i].ID != id {
				continue
			}
			d.outbox[i].Status = status
			d.outbox[i].LastError = lastErr
			d.outbox[i].ClaimedAt = nil
			if status != domain.OutboxPending {
				now := time.Now().UTC()
				d.outbox[i].ProcessedAt = &now
			}
			return nil
		}
		return fmt.Errorf("memstore.Outbox.mark: %w", domain.ErrNotFound)
	})
}

func hasStatus(statuses []domain.TransactionStatus, s domain.TransactionStatus) bool {
	for _, c := range statuses {
		if c == s {
			return true
		}
	}
	return false
}

func page[T any](all []T, p domain.PaginationParams) []T {
	start := min(p.Offset(), len(all))
	end := min(start+p.Limit, len(all))
	return append([]T{}, all[start:end]...)
}
