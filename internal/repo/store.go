// Package repo contains all database access logic for the Cokilo backend.
// Each resource has its own file with an interface and a Postgres implementation.
// No business logic lives here, only SQL and type mapping.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test, giving free
// per-test isolation without any manual cleanup.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// beginner is a db that can open a (nested) transaction. *pgxpool.Pool opens
// a real transaction; pgx.Tx opens a savepoint.
type beginner interface {
	db
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Queries groups the repos that share one connection or transaction.
type Queries interface {
	Trips() TripRepo
	Transactions() TransactionRepo
	Wallet() WalletRepo
	Outbox() OutboxRepo
}

// Store is the unit-of-work boundary used by the service layer. Reads can go
// straight through the embedded Queries; anything that must commit together
// (a status write, its capacity update, its wallet credit and its outbox row)
// runs inside InTx.
type Store interface {
	Queries

	// InTx runs fn inside a database transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(q Queries) error) error
}

type queries struct {
	db db
}

// NewQueries returns repos bound to the given connection or transaction.
func NewQueries(db db) Queries {
	return queries{db: db}
}

func (q queries) Trips() TripRepo               { return NewTripRepo(q.db) }
func (q queries) Transactions() TransactionRepo { return NewTransactionRepo(q.db) }
func (q queries) Wallet() WalletRepo            { return NewWalletRepo(q.db) }
func (q queries) Outbox() OutboxRepo            { return NewOutboxRepo(q.db) }

type pgStore struct {
	queries
	conn beginner
}

// NewStore constructs a Store backed by the provided connection.
// In production pass *pgxpool.Pool; in tests pass a pgx.Tx so InTx becomes a
// savepoint that is discarded with the outer rollback.
func NewStore(conn beginner) Store {
	return &pgStore{queries: queries{db: conn}, conn: conn}
}

func (s *pgStore) InTx(ctx context.Context, fn func(q Queries) error) error {
	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		return fn(NewQueries(tx))
	})
	if err != nil {
		return fmt.Errorf("repo.Store.InTx: %w", err)
	}
	return nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows, allowing the scan helpers
// to be reused for both QueryRow and Query calls.
type scanner interface {
	Scan(dest ...any) error
}

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a Postgres unique constraint error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// nullString maps "" to SQL NULL.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nullTime maps the zero time to SQL NULL so the column default applies.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
