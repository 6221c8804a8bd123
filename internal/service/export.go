package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/repo"
)

const exportPageSize = 100

// ExportService assembles a flat statement of a user's bookings.
type ExportService struct {
	store repo.Queries
}

// NewExportService constructs an ExportService.
func NewExportService(store repo.Queries) *ExportService {
	return &ExportService{store: store}
}

// Statement returns one row per booking where the actor is sender or
// traveler, newest first. Always returns a non-nil slice.
func (s *ExportService) Statement(ctx context.Context, actor domain.Actor) ([]domain.StatementRow, error) {
	credits, err := s.store.Wallet().ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, fmt.Errorf("service.ExportService.Statement: %w", err)
	}
	credited := make(map[uuid.UUID]int64, len(credits))
	for _, c := range credits {
		credited[c.TransactionID] += c.Amount
	}

	rows := []domain.StatementRow{}
	for p := (domain.PaginationParams{Page: 1, Limit: exportPageSize}); ; p.Page++ {
		txs, total, err := s.store.Transactions().ListByUser(ctx, actor.ID, p)
		if err != nil {
			return nil, fmt.Errorf("service.ExportService.Statement: %w", err)
		}
		for _, tx := range txs {
			rows = append(rows, statementRow(actor, tx, credited[tx.ID]))
		}
		if len(txs) < p.Limit || int64(p.Page*p.Limit) >= total {
			break
		}
	}
	return rows, nil
}

func statementRow(actor domain.Actor, tx domain.Transaction, credited int64) domain.StatementRow {
	role := "sender"
	if tx.TravelerID == actor.ID {
		role = "traveler"
	}
	return domain.StatementRow{
		TransactionID: tx.ID.String(),
		TripID:        tx.TripID.String(),
		Role:          role,
		Status:        string(tx.Status),
		Weight:        tx.PackageWeight.String(),
		Amount:        tx.Amount,
		ServiceFee:    tx.ServiceFee,
		Credited:      credited,
		Currency:      tx.Currency,
		CreatedAt:     tx.CreatedAt,
		ReleasedAt:    tx.PaymentReleasedAt,
	}
}
