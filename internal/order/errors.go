package order

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrStatusConflict    = errors.New("order status changed concurrently")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrDuplicateKey      = errors.New("idempotency key already used")
	ErrOutboxNotFound    = errors.New("outbox entry not found")
	// ErrClaimHeld means another worker holds an unexpired claim.
	ErrClaimHeld         = errors.New("order claimed by another worker")
	// ErrClaimLost means the caller no longer owns the processing order.
	ErrClaimLost         = errors.New("order claim lost")
)

// ValidationError rejects an order payload before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
