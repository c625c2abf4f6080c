package entity

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is.
var (
	// Input errors. Rejected before any network call and never retried.
	ErrValidation     = errors.New("validation failed")
	ErrAddressMissing = errors.New("delivery address is missing")
	ErrNotInCart      = errors.New("product is not in the cart")

	// Gateway errors.
	ErrNetwork = errors.New("gateway request failed")
	ErrTimeout = errors.New("gateway request timed out")

	// Event errors. Logged only, never surfaced to callers.
	ErrStaleEvent      = errors.New("stale event")
	ErrSessionMismatch = errors.New("event belongs to a previous session")
	ErrMalformedEvent  = errors.New("malformed event")

	// State errors.
	ErrNoSession            = errors.New("no active session")
	ErrOrderNotFound        = errors.New("order not found")
	ErrInvalidTransition    = errors.New("invalid order status transition")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrTokenExpired         = errors.New("session token expired")
	ErrNotConnected         = errors.New("transport not connected")
)

// ValidationError describes malformed user input.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // optional, more specific sentinel such as ErrAddressMissing
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Is reports every ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError creates a ValidationError, optionally tagged with a sentinel.
func NewValidationError(field, reason string, err error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}

// NetworkError is returned when the gateway is unreachable or answers with a non-2xx status.
type NetworkError struct {
	Op         string // e.g. "retailer.update-cart"
	StatusCode int    // 0 when no response was received
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: request failed", e.Op)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool {
	if target == ErrNetwork {
		return true
	}
	return target == ErrTimeout && errors.Is(e.Err, context.DeadlineExceeded)
}

// Temporary reports whether retrying the request may succeed.
func (e *NetworkError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// AsNetworkError wraps err in a NetworkError unless it already is one.
// Validation errors and nil pass through untouched.
func AsNetworkError(op string, err error) error {
	if err == nil || errors.Is(err, ErrValidation) {
		return err
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	return &NetworkError{Op: op, Err: err}
}
