package payment

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"

	"github.com/Cokilo-Deploy/cokilo-backend-prod-sub001/internal/domain"
)

// ProviderError is a failed provider call. It matches domain.ErrGateway with
// errors.Is and keeps the provider's own error for logs.
type ProviderError struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment %s: %s (%d): %v", e.Op, e.Code, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("payment %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error {
	return []error{domain.ErrGateway, e.Err}
}

// Temporary reports whether repeating the call could succeed: network
// failures, rate limiting and provider-side errors.
func (e *ProviderError) Temporary() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func providerError(op string, err error) error {
	pe := &ProviderError{Op: op, Err: err}
	var se *stripe.Error
	if errors.As(err, &se) {
		pe.StatusCode = se.HTTPStatusCode
		pe.Code = string(se.Code)
		if pe.Code == "" {
			pe.Code = string(se.Type)
		}
	}
	return pe
}
