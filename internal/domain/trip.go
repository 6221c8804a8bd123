// Package domain contains the core data types for the Cokilo backend.
// It is imported by every other internal package (escrow, repo, service, handler)
// and depends only on uuid and decimal.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TripStatus is the lifecycle status of a trip. Values are the exact strings
// stored in the database and returned by the API.
type TripStatus string

const (
	TripDraft      TripStatus = "draft"
	TripPublished  TripStatus = "published"
	TripFull       TripStatus = "full"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Valid reports whether s is one of the known trip statuses.
func (s TripStatus) Valid() bool {
	switch s {
	case TripDraft, TripPublished, TripFull, TripInProgress, TripCompleted, TripCancelled:
		return true
	}
	return false
}

// Trip is a journey published by a traveler with a declared weight capacity.
// ReservedWeight is a cache of the weight held by live bookings; the ledger
// recomputes it from the transactions table on every capacity-affecting write.
type Trip struct {
	ID              uuid.UUID       `json:"id"`
	TravelerID      uuid.UUID       `json:"traveler_id"`
	Origin          string          `json:"origin"`
	Destination     string          `json:"destination"`
	DepartureAt     time.Time       `json:"departure_at"`
	CapacityKg      decimal.Decimal `json:"capacity_kg"`
	ReservedWeight  decimal.Decimal `json:"reserved_weight"`
	AvailableWeight decimal.Decimal `json:"available_weight"`
	PricePerKg      decimal.Decimal `json:"price_per_kg"`
	Currency        string          `json:"currency"`
	Status          TripStatus      `json:"status"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WithReserved returns a copy of t carrying the given reserved weight, the
// derived available weight, and the visibility status that follows from it.
func (t Trip) WithReserved(reserved decimal.Decimal) Trip {
	if reserved.IsNegative() {
		reserved = decimal.Zero
	}
	t.ReservedWeight = reserved
	t.AvailableWeight = t.CapacityKg.Sub(reserved)
	t.Status = t.VisibilityStatus()
	return t
}

// VisibilityStatus flips published to full when no weight is left and full
// back to published when weight frees up. Other statuses are returned as is.
func (t Trip) VisibilityStatus() TripStatus {
	available := t.CapacityKg.Sub(t.ReservedWeight)
	switch {
	case t.Status == TripPublished && !available.IsPositive():
		return TripFull
	case t.Status == TripFull && available.IsPositive():
		return TripPublished
	}
	return t.Status
}

// Bookable reports whether the trip currently accepts new bookings.
func (t Trip) Bookable() bool {
	return t.Status == TripPublished
}

// TripFilter narrows trip listings. Zero values mean "no filter".
type TripFilter struct {
	Status     TripStatus
	TravelerID uuid.UUID
}
