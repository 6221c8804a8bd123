package escrow

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// MinDescriptionLength is the minimum number of characters in a package
// description, after trimming surrounding whitespace.
const MinDescriptionLength = 10

// EventKind names an input to the state machine.
type EventKind string

const (
	EventPaymentAuthorized EventKind = "payment_authorized"
	EventPaymentFailed     EventKind = "payment_failed"
	EventHoldCanceled      EventKind = "hold_canceled"
	EventConfirmPickup     EventKind = "confirm_pickup"
	EventConfirmDelivery   EventKind = "confirm_delivery"
	EventCancel            EventKind = "cancel"
	EventOpenDispute       EventKind = "open_dispute"
	EventResolveRefund     EventKind = "resolve_refund"
	EventResolveRelease    EventKind = "resolve_release"
)

// Event is an input to Transition. Code is used by the pickup and delivery
// confirmations, Reason by cancellations, disputes and payment failures,
// HoldID by payment authorization.
type Event struct {
	Kind   EventKind
	Actor  domain.Actor
	Code   string
	Reason string
	HoldID string
	At     time.Time
}

// BookingParams are the inputs needed to open a new booking.
type BookingParams struct {
	ID             uuid.UUID
	Trip           domain.Trip
	SenderID       uuid.UUID
	Weight         decimal.Decimal
	Description    string
	FeePercent     decimal.Decimal
	IdempotencyKey string
	At             time.Time
}

// NewBooking builds a payment_pending transaction for p with freshly drawn
// handoff codes. Capacity is not checked here; the ledger does that under
// the trip lock when it executes the returned reserve effect.
func NewBooking(p BookingParams, codes CodeGenerator) (domain.Transaction, []Effect, error) {
	description := strings.TrimSpace(p.Description)
	if utf8.RuneCountInString(description) < MinDescriptionLength {
		return domain.Transaction{}, nil, domain.Errorf(domain.ErrValidation,
			"description must be at least %d characters", MinDescriptionLength)
	}
	if !p.Weight.IsPositive() {
		return domain.Transaction{}, nil, domain.Errorf(domain.ErrValidation, "package weight must be positive")
	}
	if !domain.FitsColumn(p.Weight, domain.WeightPlaces, domain.MaxWeightKg) {
		return domain.Transaction{}, nil, domain.Errorf(domain.ErrValidation,
			"package weight must have at most %d decimal places and not exceed %s kg", domain.WeightPlaces, domain.MaxWeightKg)
	}
	if p.SenderID == uuid.Nil {
		return domain.Transaction{}, nil, domain.Errorf(domain.ErrValidation, "sender is required")
	}
	if p.SenderID == p.Trip.TravelerID {
		return domain.Transaction{}, nil, domain.Errorf(domain.ErrValidation, "travelers cannot book their own trip")
	}
	if !p.Trip.Bookable() {
		return domain.Transaction{}, nil, domain.Errorf(domain.ErrInvalidState,
			"trip is %s and does not accept bookings", p.Trip.Status)
	}

	quote := domain.PriceBooking(p.Weight, p.Trip.PricePerKg, p.FeePercent)
	if quote.Amount <= 0 {
		return domain.Transaction{}, nil, domain.Errorf(domain.ErrValidation, "booking amount must be positive")
	}

	pickup, delivery, err := codePair(codes)
	if err != nil {
		return domain.Transaction{}, nil, fmt.Errorf("escrow.NewBooking: %w", err)
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	at := stamp(p.At)

	tx := domain.Transaction{
		ID:             id,
		TripID:         p.Trip.ID,
		SenderID:       p.SenderID,
		TravelerID:     p.Trip.TravelerID,
		Amount:         quote.Amount,
		ServiceFee:     quote.ServiceFee,
		TravelerAmount: quote.TravelerAmount,
		Currency:       p.Trip.Currency,
		PackageWeight:  p.Weight,
		Description:    description,
		PickupCode:     pickup,
		DeliveryCode:   delivery,
		Status:         domain.StatusPaymentPending,
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	tx.StatusHistory = []domain.StatusEntry{{
		Status:    domain.StatusPaymentPending,
		Timestamp: at,
		Notes:     "booking created",
	}}

	effects := []Effect{
		{Kind: EffectReserveCapacity, TripID: tx.TripID, Weight: tx.PackageWeight},
		{Kind: EffectRefreshVisibility, TripID: tx.TripID},
		{Kind: EffectNotify, Notes: "booking created"},
	}
	return tx, effects, nil
}

// Transition applies ev to current and returns the next snapshot with the
// effects to execute. current is never modified. On error the returned
// snapshot is current unchanged and no effects are returned.
func Transition(current domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	var (
		next    domain.Transaction
		effects []Effect
		err     error
	)
	switch ev.Kind {
	case EventPaymentAuthorized:
		next, effects, err = authorize(current, ev)
	case EventPaymentFailed:
		next, effects, err = paymentFailed(current, ev)
	case EventHoldCanceled:
		next, effects, err = cancel(current, ev, false)
	case EventConfirmPickup:
		next, effects, err = confirmPickup(current, ev)
	case EventConfirmDelivery:
		next, effects, err = confirmDelivery(current, ev)
	case EventCancel:
		next, effects, err = cancel(current, ev, true)
	case EventOpenDispute:
		next, effects, err = openDispute(current, ev)
	case EventResolveRefund:
		next, effects, err = resolveRefund(current, ev)
	case EventResolveRelease:
		next, effects, err = resolveRelease(current, ev)
	default:
		err = domain.Errorf(domain.ErrValidation, "unknown event %q", ev.Kind)
	}
	if err != nil {
		return current, nil, err
	}
	return next, effects, nil
}

func authorize(cur domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	if !ev.Actor.IsSystem() {
		return cur, nil, domain.Errorf(domain.ErrForbidden, "payment authorization is reported by the payment provider")
	}
	if err := validateTransition(cur.Status, domain.StatusPaymentEscrowed, "escrow payment for"); err != nil {
		return cur, nil, err
	}
	if ev.HoldID == "" && cur.PaymentIntentID == "" {
		return cur, nil, domain.Errorf(domain.ErrValidation, "payment hold id is required")
	}
	if ev.HoldID != "" && cur.PaymentIntentID != "" && ev.HoldID != cur.PaymentIntentID {
		return cur, nil, domain.Errorf(domain.ErrConflict, "payment hold does not belong to this booking")
	}

	at := stamp(ev.At)
	next := cur.Clone()
	if ev.HoldID != "" {
		next.PaymentIntentID = ev.HoldID
	}
	notes := "payment authorized and held in escrow"
	setStatus(&next, domain.StatusPaymentEscrowed, at, notes)
	return next, []Effect{notify(cur.Status, notes)}, nil
}

func paymentFailed(cur domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	if cur.Status != domain.StatusPaymentPending {
		return cur, nil, domain.Errorf(domain.ErrInvalidState, "payment failure ignored in status %s", cur.Status)
	}
	at := stamp(ev.At)
	next := cur.Clone()
	reason := ev.Reason
	if reason == "" {
		reason = "unknown reason"
	}
	next.InternalNotes = append(next.InternalNotes, fmt.Sprintf("%s payment failed: %s", at.Format(time.RFC3339), reason))
	next.UpdatedAt = at
	return next, nil, nil
}

func confirmPickup(cur domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	if ev.Actor.ID != cur.TravelerID || ev.Actor.IsSystem() {
		return cur, nil, domain.Errorf(domain.ErrForbidden, "only the traveler can confirm pickup")
	}
	if err := validateTransition(cur.Status, domain.StatusPackagePickedUp, "confirm pickup of"); err != nil {
		return cur, nil, err
	}
	if !codesEqual(ev.Code, cur.PickupCode) {
		return cur, nil, domain.Errorf(domain.ErrCodeMismatch, "pickup code is incorrect")
	}

	at := stamp(ev.At)
	next := cur.Clone()
	next.PickedUpAt = &at
	notes := "package picked up by traveler"
	setStatus(&next, domain.StatusPackagePickedUp, at, notes)
	return next, []Effect{notify(cur.Status, notes)}, nil
}

func confirmDelivery(cur domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	if ev.Actor.IsSystem() || !cur.IsParty(ev.Actor.ID) {
		return cur, nil, domain.Errorf(domain.ErrForbidden, "only the sender or the traveler can confirm delivery")
	}
	if err := validateTransition(cur.Status, domain.StatusPackageDelivered, "confirm delivery of"); err != nil {
		return cur, nil, err
	}
	if !codesEqual(ev.Code, cur.DeliveryCode) {
		return cur, nil, domain.Errorf(domain.ErrCodeMismatch, "delivery code is incorrect")
	}
	if cur.PaymentIntentID == "" {
		return cur, nil, domain.Errorf(domain.ErrInvalidState, "booking has no payment hold to capture")
	}

	at := stamp(ev.At)
	next := cur.Clone()
	next.DeliveredAt = &at
	next.PaymentReleasedAt = &at
	setStatus(&next, domain.StatusPackageDelivered, at, "package delivered")
	notes := "payment released to traveler"
	setStatus(&next, domain.StatusPaymentReleased, at, notes)

	return next, releaseEffects(cur, notes), nil
}

func cancel(cur domain.Transaction, ev Event, callGateway bool) (domain.Transaction, []Effect, error) {
	switch {
	case ev.Actor.IsSystem(), ev.Actor.IsAdmin():
	case cur.IsParty(ev.Actor.ID):
		if !callGateway {
			return cur, nil, domain.Errorf(domain.ErrForbidden, "hold cancellation is reported by the payment provider")
		}
	default:
		return cur, nil, domain.Errorf(domain.ErrForbidden, "only the sender or the traveler can cancel this booking")
	}
	if !cur.Status.Cancellable() {
		return cur, nil, domain.Errorf(domain.ErrInvalidState, "cannot cancel a booking in status %s", cur.Status)
	}

	var effects []Effect
	if callGateway && cur.PaymentIntentID != "" {
		switch cur.Status {
		case domain.StatusPaymentPending, domain.StatusPaymentEscrowed:
			effects = append(effects, Effect{Kind: EffectVoidHold, HoldID: cur.PaymentIntentID})
		case domain.StatusPackagePickedUp:
			effects = append(effects, Effect{Kind: EffectRefundHold, HoldID: cur.PaymentIntentID, Amount: cur.Amount})
		}
	}

	at := stamp(ev.At)
	next := cur.Clone()
	next.CancelledAt = &at
	next.CancellationReason = ev.Reason
	notes := "cancelled by " + ev.Actor.String()
	if ev.Reason != "" {
		notes += ": " + ev.Reason
	}
	setStatus(&next, domain.StatusCancelled, at, notes)

	effects = append(effects,
		Effect{Kind: EffectReleaseCapacity, TripID: cur.TripID, Weight: cur.PackageWeight},
		Effect{Kind: EffectRefreshVisibility, TripID: cur.TripID},
		notify(cur.Status, notes),
	)
	return next, effects, nil
}

func openDispute(cur domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	if ev.Actor.IsSystem() || !cur.IsParty(ev.Actor.ID) {
		return cur, nil, domain.Errorf(domain.ErrForbidden, "only the sender or the traveler can open a dispute")
	}
	if err := validateTransition(cur.Status, domain.StatusDisputed, "dispute"); err != nil {
		return cur, nil, err
	}
	if strings.TrimSpace(ev.Reason) == "" {
		return cur, nil, domain.Errorf(domain.ErrValidation, "a dispute needs a reason")
	}

	at := stamp(ev.At)
	next := cur.Clone()
	notes := "dispute opened by " + ev.Actor.String() + ": " + strings.TrimSpace(ev.Reason)
	setStatus(&next, domain.StatusDisputed, at, notes)
	return next, []Effect{
		{Kind: EffectReleaseCapacity, TripID: cur.TripID, Weight: cur.PackageWeight},
		{Kind: EffectRefreshVisibility, TripID: cur.TripID},
		notify(cur.Status, notes),
	}, nil
}

func resolveRefund(cur domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	if !ev.Actor.IsAdmin() {
		return cur, nil, domain.Errorf(domain.ErrForbidden, "only an admin can resolve a dispute")
	}
	if err := validateTransition(cur.Status, domain.StatusRefunded, "refund"); err != nil {
		return cur, nil, err
	}

	at := stamp(ev.At)
	next := cur.Clone()
	notes := "dispute resolved: refunded to sender"
	if ev.Reason != "" {
		notes += " (" + ev.Reason + ")"
	}
	setStatus(&next, domain.StatusRefunded, at, notes)

	var effects []Effect
	if cur.PaymentIntentID != "" {
		effects = append(effects, Effect{Kind: EffectRefundHold, HoldID: cur.PaymentIntentID, Amount: cur.Amount})
	}
	effects = append(effects, notify(cur.Status, notes))
	return next, effects, nil
}

func resolveRelease(cur domain.Transaction, ev Event) (domain.Transaction, []Effect, error) {
	if !ev.Actor.IsAdmin() {
		return cur, nil, domain.Errorf(domain.ErrForbidden, "only an admin can resolve a dispute")
	}
	if err := validateTransition(cur.Status, domain.StatusPaymentReleased, "release payment for"); err != nil {
		return cur, nil, err
	}
	if cur.PaymentIntentID == "" {
		return cur, nil, domain.Errorf(domain.ErrInvalidState, "booking has no payment hold to capture")
	}

	at := stamp(ev.At)
	next := cur.Clone()
	next.PaymentReleasedAt = &at
	if next.DeliveredAt == nil {
		next.DeliveredAt = &at
	}
	notes := "dispute resolved: payment released to traveler"
	if ev.Reason != "" {
		notes += " (" + ev.Reason + ")"
	}
	setStatus(&next, domain.StatusPaymentReleased, at, notes)

	// payment_released holds weight again, so the freed capacity is taken back
	// before any money moves.
	effects := append([]Effect{
		{Kind: EffectReserveCapacity, TripID: cur.TripID, Weight: cur.PackageWeight},
	}, releaseEffects(cur, notes)...)
	effects = append(effects, Effect{Kind: EffectRefreshVisibility, TripID: cur.TripID})
	return next, effects, nil
}

func releaseEffects(cur domain.Transaction, notes string) []Effect {
	return []Effect{
		{Kind: EffectCaptureHold, HoldID: cur.PaymentIntentID, Amount: cur.Amount},
		{
			Kind:        EffectCreditWallet,
			UserID:      cur.TravelerID,
			Amount:      cur.TravelerAmount,
			Currency:    cur.Currency,
			Description: "Delivery payment for booking " + cur.ID.String(),
		},
		notify(cur.Status, notes),
	}
}

func notify(previous domain.TransactionStatus, notes string) Effect {
	return Effect{Kind: EffectNotify, PreviousStatus: previous, Notes: notes}
}

func setStatus(tx *domain.Transaction, status domain.TransactionStatus, at time.Time, notes string) {
	tx.Status = status
	tx.StatusHistory = append(tx.StatusHistory, domain.StatusEntry{
		Status:    status,
		Timestamp: at,
		Notes:     notes,
	})
	tx.UpdatedAt = at
}

// codesEqual is exact, case-sensitive equality. An empty stored code never
// matches.
func codesEqual(submitted, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) == 1
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
