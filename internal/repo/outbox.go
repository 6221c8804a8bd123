package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// OutboxRepo stores notifications written alongside state changes and
// tracks their delivery.
type OutboxRepo interface {
	// Enqueue inserts a pending message. Call it with the same Queries as the
	// state change it announces so both commit or neither does.
	Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error)

	// ClaimPending moves up to limit pending messages, oldest first, to
	// processing and returns them with their attempt counter incremented.
	// Messages left in processing for longer than staleAfter (a worker died
	// mid-batch) are claimed again; staleAfter <= 0 never reclaims.
	// Rows locked by a concurrent worker are skipped.
	ClaimPending(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error)

	MarkCompleted(ctx context.Context, id int64) error

	// MarkRetry puts a message back to pending after a failed delivery.
	MarkRetry(ctx context.Context, id int64, lastErr string) error

	// MarkFailed parks a message for good.
	MarkFailed(ctx context.Context, id int64, lastErr string) error
}

type pgOutboxRepo struct {
	db db
}

// NewOutboxRepo constructs an OutboxRepo backed by the provided db connection.
func NewOutboxRepo(db db) OutboxRepo {
	return &pgOutboxRepo{db: db}
}

const outboxColumns = `
	id, aggregate_type, aggregate_id, event_type, payload, status,
	processing_attempts, last_error, created_at, claimed_at, processed_at`

func (r *pgOutboxRepo) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	q := `
		INSERT INTO outbox_messages (aggregate_type, aggregate_id, event_type, payload, status, created_at)
		VALUES (@aggregate_type, @aggregate_id, @event_type, @payload, 'pending', COALESCE(@created_at, now()))
		RETURNING` + outboxColumns

	args := pgx.NamedArgs{
		"aggregate_type": msg.AggregateType,
		"aggregate_id":   msg.AggregateID,
		"event_type":     msg.EventType,
		"payload":        []byte(msg.Payload),
		"created_at":     nullTime(msg.CreatedAt),
	}

	result, err := scanOutboxMessage(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("repo.OutboxRepo.Enqueue: %w", err)
	}
	return result, nil
}

func (r *pgOutboxRepo) ClaimPending(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.OutboxMessage, error) {
	q := `
		UPDATE outbox_messages
		SET status = 'processing', processing_attempts = processing_attempts + 1, claimed_at = now()
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'pending'
			   OR (@reclaim AND status = 'processing'
			       AND claimed_at < now() - make_interval(secs => @stale_secs))
			ORDER BY created_at, id
			LIMIT @limit
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + outboxColumns

	args := pgx.NamedArgs{
		"limit":      limit,
		"reclaim":    staleAfter > 0,
		"stale_secs": staleAfter.Seconds(),
	}
	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("repo.OutboxRepo.ClaimPending: %w", err)
	}
	defer rows.Close()

	msgs := []domain.OutboxMessage{}
	for rows.Next() {
		m, err := scanOutboxMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.OutboxRepo.ClaimPending: scan: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.OutboxRepo.ClaimPending: rows: %w", err)
	}
	return msgs, nil
}

func (r *pgOutboxRepo) MarkCompleted(ctx context.Context, id int64) error {
	const q = `
		UPDATE outbox_messages
		SET status = 'completed', processed_at = now(), claimed_at = NULL, last_error = NULL
		WHERE id = @id`

	return r.exec(ctx, "MarkCompleted", q, pgx.NamedArgs{"id": id})
}

func (r *pgOutboxRepo) MarkRetry(ctx context.Context, id int64, lastErr string) error {
	const q = `
		UPDATE outbox_messages
		SET status = 'pending', claimed_at = NULL, last_error = @last_error
		WHERE id = @id`

	return r.exec(ctx, "MarkRetry", q, pgx.NamedArgs{"id": id, "last_error": lastErr})
}

func (r *pgOutboxRepo) MarkFailed(ctx context.Context, id int64, lastErr string) error {
	const q = `
		UPDATE outbox_messages
		SET status = 'failed', processed_at = now(), claimed_at = NULL, last_error = @last_error
		WHERE id = @id`

	return r.exec(ctx, "MarkFailed", q, pgx.NamedArgs{"id": id, "last_error": lastErr})
}

func (r *pgOutboxRepo) exec(ctx context.Context, op, q string, args pgx.NamedArgs) error {
	tag, err := r.db.Exec(ctx, q, args)
	if err != nil {
		return fmt.Errorf("repo.OutboxRepo.%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repo.OutboxRepo.%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func scanOutboxMessage(s scanner) (domain.OutboxMessage, error) {
	var (
		m       domain.OutboxMessage
		payload []byte
	)
	err := s.Scan(
		&m.ID, &m.AggregateType, &m.AggregateID, &m.EventType, &payload, &m.Status,
		&m.ProcessingAttempts, &m.LastError, &m.CreatedAt, &m.ClaimedAt, &m.ProcessedAt,
	)
	if err != nil {
		return domain.OutboxMessage{}, err
	}
	m.Payload = payload
	return m, nil
}
