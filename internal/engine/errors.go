// Package engine drives bookings through the canonical status state
// machine, orchestrating the slot capacity manager, the credit ledger
// and the policy evaluator inside a single store transaction per
// operation.
package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the engine's error taxonomy.  Every failure
// surfaced by a public operation is exactly one of these kinds (or a
// *ValidationError / *policy.DenyError); callers translate each kind
// into one HTTP status.
var (
	// ErrSlotFull is returned when a slot has no remaining capacity.
	ErrSlotFull = errors.New("slot full")
	// ErrSlotBlocked is returned when a slot is administratively
	// unavailable.
	ErrSlotBlocked = errors.New("slot blocked")
	// ErrInsufficientBalance is returned when a debit would drive an
	// account's available balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidQuantity is returned for ledger operations with a
	// non-positive quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrInvalidTransition is returned when the requested status change
	// is not permitted from the booking's current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyTerminal is returned when the booking is already
	// CANCELED or DONE.
	ErrAlreadyTerminal = errors.New("booking already terminal")
	// ErrNotFound is returned when the referenced booking, slot or
	// account does not exist.
	ErrNotFound = errors.New("not found")
	// ErrTimeout is returned when the underlying store did not respond
	// within the operation deadline.  No partial effect survives a
	// timeout, so retrying is safe.
	ErrTimeout = errors.New("operation timed out")
	// ErrInternal marks unexpected failures and detected invariant
	// violations.  All effects of the failed operation are rolled back.
	ErrInternal = errors.New("internal error")
)

// ValidationError reports malformed input.  It is surfaced immediately
// and never retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Detail: fmt.Sprintf(format, args...)}
}
