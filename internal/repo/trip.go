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

// TripRepo defines the persistence operations for Trips.
// The service layer depends on this interface, not the concrete Postgres implementation,
// which allows the service to be unit-tested with a mock.
type TripRepo interface {
	// Create inserts a new trip and returns the persisted record (with DB-generated
	// id, created_at, and updated_at populated).
	Create(ctx context.Context, trip domain.Trip) (domain.Trip, error)

	// GetByID retrieves a single trip by its UUID primary key.
	// Returns domain.ErrNotFound if no trip with that ID exists.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error)

	// GetForUpdate is GetByID with a row lock held until the surrounding
	// transaction ends. Every capacity check-and-commit goes through it.
	GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Trip, error)

	// ListPaged returns one page of trips matching the filter, ordered by
	// departure, and the total number of matches.
	ListPaged(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) ([]domain.Trip, int64, error)

	// UpdateStatus sets the lifecycle status of a trip.
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TripStatus) (domain.Trip, error)

	// SetReserved stores the cached reserved weight and the visibility status
	// derived from it.
	SetReserved(ctx context.Context, id uuid.UUID, reserved decimal.Decimal, status domain.TripStatus) (domain.Trip, error)

	// RefreshVisibility flips published trips with no weight left to full and
	// full trips with weight left back to published. Returns the number of
	// trips flipped.
	RefreshVisibility(ctx context.Context) (int64, error)
}

// pgTripRepo is the Postgres implementation of TripRepo.
type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by the provided db connection.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

const tripColumns = `
	id, traveler_id, origin, destination, departure_at,
	capacity_kg, reserved_weight, available_weight, price_per_kg, currency,
	status, notes, created_at, updated_at`

// Create inserts a new trip row and returns the full persisted record.
func (r *pgTripRepo) Create(ctx context.Context, trip domain.Trip) (domain.Trip, error) {
	q := `
		INSERT INTO trips (traveler_id, origin, destination, departure_at,
		                   capacity_kg, price_per_kg, currency, status, notes)
		VALUES (@traveler_id, @origin, @destination, @departure_at,
		        @capacity_kg, @price_per_kg, @currency, @status, @notes)
		RETURNING` + tripColumns

	args := pgx.NamedArgs{
		"traveler_id":  trip.TravelerID,
		"origin":       trip.Origin,
		"destination":  trip.Destination,
		"departure_at": trip.DepartureAt,
		"capacity_kg":  trip.CapacityKg,
		"price_per_kg": trip.PricePerKg,
		"currency":     trip.Currency,
		"status":       trip.Status,
		"notes":        trip.Notes,
	}

	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return result, nil
}

// GetByID retrieves a trip by primary key.
func (r *pgTripRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	q := `SELECT` + tripColumns + ` FROM trips WHERE id = @id`

	result, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetByID: %w", err)
	}
	return result, nil
}

// GetForUpdate retrieves a trip by primary key and locks its row.
func (r *pgTripRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (domain.Trip, error) {
	q := `SELECT` + tripColumns + ` FROM trips WHERE id = @id FOR UPDATE`

	result, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.GetForUpdate: %w", err)
	}
	return result, nil
}

// ListPaged returns one page of trips ordered by departure (soonest first).
func (r *pgTripRepo) ListPaged(ctx context.Context, f domain.TripFilter, p domain.PaginationParams) ([]domain.Trip, int64, error) {
	const where = `
		WHERE (@status::text = '' OR status = @status)
		  AND (@traveler_id::uuid IS NULL OR traveler_id = @traveler_id)`

	args := pgx.NamedArgs{
		"status":      string(f.Status),
		"traveler_id": nullUUID(f.TravelerID),
		"limit":       p.Limit,
		"offset":      p.Offset(),
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM trips`+where, args).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: count: %w", err)
	}

	q := `SELECT` + tripColumns + ` FROM trips` + where + `
		ORDER BY departure_at, id
		LIMIT @limit OFFSET @offset`

	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: %w", err)
	}
	defer rows.Close()

	trips := []domain.Trip{}
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: scan: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("repo.TripRepo.ListPaged: rows: %w", err)
	}

	return trips, total, nil
}

// UpdateStatus sets the status of a trip and returns the updated record.
func (r *pgTripRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.TripStatus) (domain.Trip, error) {
	q := `
		UPDATE trips
		SET status = @status, updated_at = now()
		WHERE id = @id
		RETURNING` + tripColumns

	result, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": id, "status": status}))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.UpdateStatus: %w", err)
	}
	return result, nil
}

// SetReserved writes the cached reserved weight and visibility status.
func (r *pgTripRepo) SetReserved(ctx context.Context, id uuid.UUID, reserved decimal.Decimal, status domain.TripStatus) (domain.Trip, error) {
	q := `
		UPDATE trips
		SET reserved_weight = @reserved,
		    status          = @status,
		    updated_at      = now()
		WHERE id = @id
		RETURNING` + tripColumns

	args := pgx.NamedArgs{"id": id, "reserved": reserved, "status": status}

	result, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Trip{}, fmt.Errorf("repo.TripRepo.SetReserved: %w", err)
	}
	return result, nil
}

// RefreshVisibility flips published/full trips whose available weight
// disagrees with their status.
func (r *pgTripRepo) RefreshVisibility(ctx context.Context) (int64, error) {
	const q = `
		UPDATE trips
		SET status = CASE WHEN status = 'published' THEN 'full' ELSE 'published' END,
		    updated_at = now()
		WHERE (status = 'published' AND available_weight <= 0)
		   OR (status = 'full' AND available_weight > 0)`

	tag, err := r.db.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("repo.TripRepo.RefreshVisibility: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanTrip maps a single database row into a domain.Trip.
func scanTrip(s scanner) (domain.Trip, error) {
	var t domain.Trip

	err := s.Scan(
		&t.ID, &t.TravelerID, &t.Origin, &t.Destination, &t.DepartureAt,
		&t.CapacityKg, &t.ReservedWeight, &t.AvailableWeight, &t.PricePerKg, &t.Currency,
		&t.Status, &t.Notes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trip{}, domain.ErrNotFound
		}
		return domain.Trip{}, err
	}
	return t, nil
}

// nullUUID maps uuid.Nil to SQL NULL.
func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
