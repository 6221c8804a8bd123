package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// WalletRepo records traveler payouts. The wallet balance itself is owned by
// another service; this table is the instruction log it consumes.
type WalletRepo interface {
	// Credit records a payout. Returns domain.ErrConflict when the
	// transaction has already been credited.
	Credit(ctx context.Context, c domain.WalletCredit) (domain.WalletCredit, error)

	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.WalletCredit, error)
}

type pgWalletRepo struct {
	db db
}

// NewWalletRepo constructs a WalletRepo backed by the provided db connection.
func NewWalletRepo(db db) WalletRepo {
	return &pgWalletRepo{db: db}
}

func (r *pgWalletRepo) Credit(ctx context.Context, c domain.WalletCredit) (domain.WalletCredit, error) {
	const q = `
		INSERT INTO wallet_credits (user_id, transaction_id, amount, currency, description)
		VALUES (@user_id, @transaction_id, @amount, @currency, @description)
		RETURNING id, user_id, transaction_id, amount, currency, description, created_at`

	args := pgx.NamedArgs{
		"user_id":        c.UserID,
		"transaction_id": c.TransactionID,
		"amount":         c.Amount,
		"currency":       c.Currency,
		"description":    c.Description,
	}

	result, err := scanWalletCredit(r.db.QueryRow(ctx, q, args))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.WalletCredit{}, fmt.Errorf("repo.WalletRepo.Credit: %w", domain.ErrConflict)
		}
		return domain.WalletCredit{}, fmt.Errorf("repo.WalletRepo.Credit: %w", err)
	}
	return result, nil
}

func (r *pgWalletRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.WalletCredit, error) {
	const q = `
		SELECT id, user_id, transaction_id, amount, currency, description, created_at
		FROM wallet_credits
		WHERE user_id = @user_id
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("repo.WalletRepo.ListByUser: %w", err)
	}
	defer rows.Close()

	credits := []domain.WalletCredit{}
	for rows.Next() {
		c, err := scanWalletCredit(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.WalletRepo.ListByUser: scan: %w", err)
		}
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.WalletRepo.ListByUser: rows: %w", err)
	}
	return credits, nil
}

func scanWalletCredit(s scanner) (domain.WalletCredit, error) {
	var c domain.WalletCredit
	err := s.Scan(&c.ID, &c.UserID, &c.TransactionID, &c.Amount, &c.Currency, &c.Description, &c.CreatedAt)
	return c, err
}
