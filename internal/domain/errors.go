package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the database.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. description too short, non-positive weight).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrCapacity is returned when a trip cannot absorb the requested weight at
// commit time. It is an expected outcome; the caller may resubmit a smaller booking.
var ErrCapacity = errors.New("insufficient capacity")

// ErrInvalidState is returned when an operation is not allowed in the
// current status of a trip or transaction (e.g. cancelling a released payment).
var ErrInvalidState = errors.New("invalid state")

// ErrCodeMismatch is returned when a submitted pickup or delivery code does
// not match. It never carries the expected code.
var ErrCodeMismatch = errors.New("code mismatch")

// ErrGateway is returned when the payment provider call failed or timed out.
var ErrGateway = errors.New("payment gateway error")

// ErrForbidden is returned when the acting user is not a party allowed to
// perform the operation.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned by repos when a uniqueness guard fires, e.g. a
// second wallet credit for the same transaction.
var ErrConflict = errors.New("conflict")

// Error pairs a sentinel kind with a message that is safe to show to the
// end user. errors.Is(err, domain.ErrCapacity) keeps working through it.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Kind.Error() + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Errorf builds a *Error of the given kind with a formatted user message.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Message returns the user-facing message carried by err, or the fallback
// when err does not wrap a *Error.
func Message(err error, fallback string) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return fallback
}
