// Package escrow holds the booking state machine as pure functions.
// Nothing here touches the database or the payment provider: a transition
// takes a transaction snapshot and an event and returns the next snapshot
// plus the effects the caller must execute.
package escrow

import (
	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// allowedTransitions lists, per status, the statuses a single status write
// may move to. Delivery is collapsed: package_picked_up writes
// package_delivered and then payment_released in the same call.
var allowedTransitions = map[domain.TransactionStatus][]domain.TransactionStatus{
	domain.StatusPaymentPending: {
		domain.StatusPaymentEscrowed,
		domain.StatusCancelled,
	},
	domain.StatusPaymentEscrowed: {
		domain.StatusPackagePickedUp,
		domain.StatusCancelled,
	},
	domain.StatusPackagePickedUp: {
		domain.StatusPackageDelivered,
		domain.StatusCancelled,
		domain.StatusDisputed,
	},
	domain.StatusPackageDelivered: {
		domain.StatusPaymentReleased,
	},
	domain.StatusDisputed: {
		domain.StatusRefunded,
		domain.StatusPaymentReleased,
	},
	domain.StatusPaymentReleased: {},
	domain.StatusCancelled:       {},
	domain.StatusRefunded:        {},
}

// CanTransition reports whether a status write from -> to is allowed.
func CanTransition(from, to domain.TransactionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validateTransition(from, to domain.TransactionStatus, action string) error {
	if !CanTransition(from, to) {
		return domain.Errorf(domain.ErrInvalidState, "cannot %s a booking in status %s", action, from)
	}
	return nil
}
