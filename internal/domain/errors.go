package domain

import (
	"errors"
	"fmt"
)

// ValidationError is a locally detected violation of a ledger or lifecycle
// guard. It is never retried and its message is shown to the user as is.
type ValidationError struct {
	OrderID string
	Message string

	// Limit is the bound that was violated, when there is one.
	Limit *Money
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewLimitError reports a refund amount above the refundable balance.
func NewLimitError(orderID string, limit Money) *ValidationError {
	return &ValidationError{
		OrderID: orderID,
		Message: fmt.Sprintf("maximum refundable amount is %s", limit.Display()),
		Limit:   &limit,
	}
}

// ConflictError means the service rejected a request because the
// authoritative order had already changed. The order must be reloaded before
// the user retries.
type ConflictError struct {
	OrderID string
	Message string
}

func (e *ConflictError) Error() string {
	if e.OrderID == "" {
		return fmt.Sprintf("conflict: %s", e.Message)
	}
	return fmt.Sprintf("conflict on order %s: %s", e.OrderID, e.Message)
}

// TransientError wraps a network or infrastructure failure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NotFoundError means the order id no longer resolves.
type NotFoundError struct {
	OrderID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("order %s not found", e.OrderID)
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// Retryable reports whether the user may try the same action again, after a
// reload in the conflict case.
func Retryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// RequiresReload reports whether the local copy of the order must be
// refreshed before anything else is attempted.
func RequiresReload(err error) bool {
	return IsConflict(err)
}
