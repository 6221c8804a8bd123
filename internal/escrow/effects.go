package escrow

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// EffectKind names a side effect the caller must perform after a transition.
type EffectKind string

const (
	EffectReserveCapacity   EffectKind = "reserve_capacity"
	EffectReleaseCapacity   EffectKind = "release_capacity"
	EffectRefreshVisibility EffectKind = "refresh_visibility"
	EffectCaptureHold       EffectKind = "capture_hold"
	EffectVoidHold          EffectKind = "void_hold"
	EffectRefundHold        EffectKind = "refund_hold"
	EffectCreditWallet      EffectKind = "credit_wallet"
	EffectNotify            EffectKind = "notify"
)

// Effect is one instruction produced by a transition. Only the fields
// relevant to Kind are set.
type Effect struct {
	Kind EffectKind

	// Capacity effects.
	TripID uuid.UUID
	Weight decimal.Decimal

	// Gateway effects.
	HoldID string
	Amount int64

	// Wallet credit.
	UserID      uuid.UUID
	Currency    string
	Description string

	// Notify.
	PreviousStatus domain.TransactionStatus
	Notes          string
}

// IsGateway reports whether the effect calls the payment provider.
func (e Effect) IsGateway() bool {
	switch e.Kind {
	case EffectCaptureHold, EffectVoidHold, EffectRefundHold:
		return true
	}
	return false
}

// Find returns the first effect of the given kind.
func Find(effects []Effect, kind EffectKind) (Effect, bool) {
	for _, e := range effects {
		if e.Kind == kind {
			return e, true
		}
	}
	return Effect{}, false
}
