/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Product packages (savings, kyc) wrap these errors with additional context
  but callers always classify with errors.Is against the sentinels here.

ERROR CATEGORIES:
  1. Validation   - Malformed input, rejected before any state change
  2. Funds/limits - InsufficientFunds, LimitExceeded (never retried)
  3. Concurrency  - Conflict after bounded optimistic retries
  4. Lifecycle    - InvalidStateTransition, AlreadyPaidOut
  5. Store        - NotFound, version conflicts, duplicate references

USAGE:
  if errors.Is(err, generic.ErrInsufficientFunds) {
      ...
  }

SEE ALSO:
  - ledger.go: Produces transfer errors
  - store.go: Store-level sentinels
  - api/handlers.go: Maps errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed input (non-positive amount, bad currency...).
	ErrValidation = errors.New("validation failed")

	// ErrCurrencyMismatch is returned by Money operations across currencies.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrInsufficientFunds is returned when a debit would overdraw a
	// non-settlement account.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrLimitExceeded is returned when a verification-tier limit rejects a movement.
	ErrLimitExceeded = errors.New("tier limit exceeded")

	// ErrConflict is returned after optimistic concurrency retries are exhausted.
	ErrConflict = errors.New("concurrent modification conflict")

	// ErrAlreadyApplied is not a failure: the reference was already applied
	// and the prior result was returned.
	ErrAlreadyApplied = errors.New("already applied")

	// ErrInvalidStateTransition is returned when a lifecycle operation is not
	// allowed from the current state.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrAlreadyPaidOut is a specific invalid transition: the account is terminal.
	ErrAlreadyPaidOut = errors.New("already paid out")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when creating a record whose key exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionConflict is returned by stores when an update's expected
	// version no longer matches. The ledger retries on it.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicateReference is returned by stores when an entry reference is
	// already taken. The ledger turns it into a replay of the prior result.
	ErrDuplicateReference = errors.New("duplicate reference")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes rejected input.
type ValidationError struct {
	Field   string
	Message string
	Err     error // optional more specific sentinel, e.g. ErrCurrencyMismatch
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// Invalid is shorthand for a field-level ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InsufficientFundsError provides details about a balance shortage.
type InsufficientFundsError struct {
	AccountID AccountID
	Available Money
	Requested Money
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// LimitExceededError carries the guard's reason.
type LimitExceededError struct {
	OwnerID OwnerID
	Reason  string
	Limit   Money
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("tier limit exceeded for %s: %s (limit %s)", e.OwnerID, e.Reason, e.Limit)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// ConflictError is surfaced once the retry budget is spent.
type ConflictError struct {
	Reference string
	Attempts  int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict applying %q after %d attempts", e.Reference, e.Attempts)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// StateTransitionError describes a rejected lifecycle transition.
type StateTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
	Err    error // ErrAlreadyPaidOut for the terminal case
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("%s %s: cannot transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidStateTransition, e.Err}
	}
	return []error{ErrInvalidStateTransition}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrDuplicateReference)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrInvalidStateTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
