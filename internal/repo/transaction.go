package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// TransactionRepo defines the persistence operations for bookings.
type TransactionRepo interface {
	// Create inserts a new transaction. Returns domain.ErrConflict when the
	// sender already used the idempotency key.
	Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error)

	// GetForUpdate is GetByID with a row lock held until the surrounding
	// transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Transaction, error)

	// GetByPaymentIntentForUpdate locks the transaction holding the given
	// payment hold. Returns domain.ErrNotFound when no booking references it.
	GetByPaymentIntentForUpdate(ctx context.Context, holdID string) (domain.Transaction, error)

	// FindByIdempotencyKey returns the sender's booking created with key.
	FindByIdempotencyKey(ctx context.Context, senderID uuid.UUID, key string) (domain.Transaction, error)

	// Update writes the mutable state of a transaction: status, history,
	// payment hold, notes, cancellation reason and milestone timestamps.
	Update(ctx context.Context, tx domain.Transaction) (domain.Transaction, error)

	// SumWeight returns the total package weight of the trip's transactions in
	// one of statuses, ignoring the transaction with id exclude (uuid.Nil
	// excludes nothing).
	SumWeight(ctx context.Context, tripID uuid.UUID, statuses []domain.TransactionStatus, exclude uuid.UUID) (decimal.Decimal, error)

	// ListByUser returns one page of transactions where the user is sender or
	// traveler, newest first, and the total count.
	ListByUser(ctx context.Context, userID uuid.UUID, p domain.PaginationParams) ([]domain.Transaction, int64, error)

	// ListByTrip returns the trip's transactions in one of statuses.
	ListByTrip(ctx context.Context, tripID uuid.UUID, statuses []domain.TransactionStatus) ([]domain.Transaction, error)
}

type pgTransactionRepo struct {
	db db
}

// NewTransactionRepo constructs a TransactionRepo backed by the provided db connection.
func NewTransactionRepo(db db) TransactionRepo {
	return &pgTransactionRepo{db: db}
}

const transactionColumns = `
	id, trip_id, sender_id, traveler_id, amount, service_fee, traveler_amount,
	currency, package_weight, description, pickup_code, delivery_code,
	status, status_history, payment_intent_id, internal_notes, cancellation_reason,
	idempotency_key, picked_up_at, delivered_at, payment_released_at, cancelled_at,
	created_at, updated_at`

func (r *pgTransactionRepo) Create(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	q := `
		INSERT INTO transactions (
			id, trip_id, sender_id, traveler_id, amount, service_fee, traveler_amount,
			currency, package_weight, description, pickup_code, delivery_code,
			status, status_history, payment_intent_id, internal_notes, cancellation_reason,
			idempotency_key, created_at, updated_at)
		VALUES (
			@id, @trip_id, @sender_id, @traveler_id, @amount, @service_fee, @traveler_amount,
			@currency, @package_weight, @description, @pickup_code, @delivery_code,
			@status, @status_history, @payment_intent_id, @internal_notes, @cancellation_reason,
			@idempotency_key, @created_at, @updated_at)
		RETURNING` + transactionColumns

	args := pgx.NamedArgs{
		"id":                  tx.ID,
		"trip_id":             tx.TripID,
		"sender_id":           tx.SenderID,
		"traveler_id":         tx.TravelerID,
		"amount":              tx.Amount,
		"service_fee":         tx.ServiceFee,
		"traveler_amount":     tx.TravelerAmount,
		"currency":            tx.Currency,
		"package_weight":      tx.PackageWeight,
		"description":         tx.Description,
		"pickup_code":         tx.PickupCode,
		"delivery_code":       tx.DeliveryCode,
		"status":              tx.Status,
		"status_history":      history(tx.StatusHistory),
		"payment_intent_id":   nullString(tx.PaymentIntentID),
		"internal_notes":      notes(tx.InternalNotes),
		"cancellation_reason": tx.CancellationReason,
		"idempotency_key":     nullString(tx.IdempotencyKey),
		"created_at":          tx.CreatedAt,
		"updated_at":          tx.UpdatedAt,
	}

	result, err := scanTransaction(r.db.QueryRow(ctx, q, args))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.Create: %w", domain.ErrConflict)
		}
		return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.Create: %w", err)
	}
	return result, nil
}

func (r *pgTransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	q := `SELECT` + transactionColumns + ` FROM transactions WHERE id = @id`

	result, err := scanTransaction(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.GetByID: %w", err)
	}
	return result, nil
}

func (r *pgTransactionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Transaction, error) {
	q := `SELECT` + transactionColumns + ` FROM transactions WHERE id = @id FOR UPDATE`

	result, err := scanTransaction(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.GetForUpdate: %w", err)
	}
	return result, nil
}

func (r *pgTransactionRepo) GetByPaymentIntentForUpdate(ctx context.Context, holdID string) (domain.Transaction, error) {
	q := `SELECT` + transactionColumns + ` FROM transactions WHERE payment_intent_id = @hold_id FOR UPDATE`

	result, err := scanTransaction(r.db.QueryRow(ctx, q, pgx.NamedArgs{"hold_id": holdID}))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.GetByPaymentIntentForUpdate: %w", err)
	}
	return result, nil
}

func (r *pgTransactionRepo) FindByIdempotencyKey(ctx context.Context, senderID uuid.UUID, key string) (domain.Transaction, error) {
	q := `SELECT` + transactionColumns + `
		FROM transactions
		WHERE sender_id = @sender_id AND idempotency_key = @key`

	result, err := scanTransaction(r.db.QueryRow(ctx, q, pgx.NamedArgs{"sender_id": senderID, "key": key}))
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.FindByIdempotencyKey: %w", err)
	}
	return result, nil
}

func (r *pgTransactionRepo) Update(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	q := `
		UPDATE transactions
		SET status              = @status,
		    status_history      = @status_history,
		    payment_intent_id   = @payment_intent_id,
		    internal_notes      = @internal_notes,
		    cancellation_reason = @cancellation_reason,
		    picked_up_at        = @picked_up_at,
		    delivered_at        = @delivered_at,
		    payment_released_at = @payment_released_at,
		    cancelled_at        = @cancelled_at,
		    updated_at          = now()
		WHERE id = @id
		RETURNING` + transactionColumns

	args := pgx.NamedArgs{
		"id":                  tx.ID,
		"status":              tx.Status,
		"status_history":      history(tx.StatusHistory),
		"payment_intent_id":   nullString(tx.PaymentIntentID),
		"internal_notes":      notes(tx.InternalNotes),
		"cancellation_reason": tx.CancellationReason,
		"picked_up_at":        tx.PickedUpAt,
		"delivered_at":        tx.DeliveredAt,
		"payment_released_at": tx.PaymentReleasedAt,
		"cancelled_at":        tx.CancelledAt,
	}

	result, err := scanTransaction(r.db.QueryRow(ctx, q, args))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.Update: %w", domain.ErrConflict)
		}
		return domain.Transaction{}, fmt.Errorf("repo.TransactionRepo.Update: %w", err)
	}
	return result, nil
}

func (r *pgTransactionRepo) SumWeight(ctx context.Context, tripID uuid.UUID, statuses []domain.TransactionStatus, exclude uuid.UUID) (decimal.Decimal, error) {
	const q = `
		SELECT COALESCE(SUM(package_weight), 0)
		FROM transactions
		WHERE trip_id = @trip_id
		  AND status = ANY(@statuses)
		  AND id <> @exclude`

	args := pgx.NamedArgs{
		"trip_id":  tripID,
		"statuses": statusStrings(statuses),
		"exclude":  exclude,
	}

	var sum decimal.Decimal
	if err := r.db.QueryRow(ctx, q, args).Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("repo.TransactionRepo.SumWeight: %w", err)
	}
	return sum, nil
}

func (r *pgTransactionRepo) ListByUser(ctx context.Context, userID uuid.UUID, p domain.PaginationParams) ([]domain.Transaction, int64, error) {
	const where = ` WHERE sender_id = @user_id OR traveler_id = @user_id`

	args := pgx.NamedArgs{"user_id": userID, "limit": p.Limit, "offset": p.Offset()}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM transactions`+where, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.TransactionRepo.ListByUser: count: %w", err)
	}

	q := `SELECT` + transactionColumns + ` FROM transactions` + where + `
		ORDER BY created_at DESC, id
		LIMIT @limit OFFSET @offset`

	txs, err := r.list(ctx, q, args)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.TransactionRepo.ListByUser: %w", err)
	}
	return txs, total, nil
}

func (r *pgTransactionRepo) ListByTrip(ctx context.Context, tripID uuid.UUID, statuses []domain.TransactionStatus) ([]domain.Transaction, error) {
	q := `SELECT` + transactionColumns + `
		FROM transactions
		WHERE trip_id = @trip_id AND status = ANY(@statuses)
		ORDER BY created_at, id`

	txs, err := r.list(ctx, q, pgx.NamedArgs{"trip_id": tripID, "statuses": statusStrings(statuses)})
	if err != nil {
		return nil, fmt.Errorf("repo.TransactionRepo.ListByTrip: %w", err)
	}
	return txs, nil
}

func (r *pgTransactionRepo) list(ctx context.Context, q string, args pgx.NamedArgs) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []domain.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return txs, nil
}

// scanTransaction maps a single database row into a domain.Transaction.
// status_history is jsonb and decodes straight into the entry slice.
func scanTransaction(s scanner) (domain.Transaction, error) {
	var (
		t              domain.Transaction
		paymentIntent  *string
		idempotencyKey *string
	)

	err := s.Scan(
		&t.ID, &t.TripID, &t.SenderID, &t.TravelerID, &t.Amount, &t.ServiceFee, &t.TravelerAmount,
		&t.Currency, &t.PackageWeight, &t.Description, &t.PickupCode, &t.DeliveryCode,
		&t.Status, &t.StatusHistory, &paymentIntent, &t.InternalNotes, &t.CancellationReason,
		&idempotencyKey, &t.PickedUpAt, &t.DeliveredAt, &t.PaymentReleasedAt, &t.CancelledAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.ErrNotFound
		}
		return domain.Transaction{}, err
	}

	t.PaymentIntentID = derefString(paymentIntent)
	t.IdempotencyKey = derefString(idempotencyKey)
	return t, nil
}

// history and notes keep NOT NULL columns from receiving a nil slice.
func history(h []domain.StatusEntry) []domain.StatusEntry {
	if h == nil {
		return []domain.StatusEntry{}
	}
	return h
}

func notes(n []string) []string {
	if n == nil {
		return []string{}
	}
	return n
}

func statusStrings(statuses []domain.TransactionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
