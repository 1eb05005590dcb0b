/*
errors.go - Centralized error kinds for the engine

PURPOSE:
  All error kinds in one place. Domain packages return these (usually
  wrapped with context via fmt.Errorf("...: %w", err)) and the transport
  maps them to status codes with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Client errors - NotFound, InvalidAmount, InsufficientBalance,
     PlanExceedsOwed, AlreadyPaid. Rejected before any write.
  2. Retryable errors - TransientStore (network, busy database) and
     ConcurrentModification (compare-and-swap lost). Retried with backoff.
  3. Consistency violations - a prior operation left the ledger in a state
     that does not reconstruct. Fatal; needs manual reconciliation and is
     never corrected by overwriting the balance.

SEE ALSO:
  - retry.go: uses IsRetryable
  - api/handlers.go: maps kinds to HTTP status
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount covers negative amounts, zero where disallowed and
	// amounts exceeding a bound (discount above fare, adjustment above original).
	ErrInvalidAmount = errors.New("invalid amount")

	ErrInsufficientBalance = errors.New("insufficient balance")

	ErrPlanExceedsOwed = errors.New("installment plan exceeds owed amount")

	// ErrConsistencyViolation means the credit ledger does not reconstruct the
	// stored balance. Requires manual intervention.
	ErrConsistencyViolation = errors.New("ledger consistency violation")

	ErrTransientStore = errors.New("transient store error")

	// ErrConcurrentModification is returned when a compare-and-swap update
	// loses against a concurrent writer.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrAlreadyPaid = errors.New("already paid")

	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "credit", "charge", "installment", ...
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func NotFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	CreditID  string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on credit %s: available %s, requested %s, shortfall %s",
		e.CreditID, e.Available, e.Requested, e.Requested.Sub(e.Available))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// ValidationError is a rejected input. Kind is the sentinel it unwraps to.
type ValidationError struct {
	Kind    error
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Kind }

func InvalidAmount(field, format string, args ...any) error {
	return &ValidationError{Kind: ErrInvalidAmount, Field: field, Message: fmt.Sprintf(format, args...)}
}

func InvalidInput(field, format string, args ...any) error {
	return &ValidationError{Kind: ErrInvalidInput, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConsistencyError describes a ledger that does not reconstruct.
type ConsistencyError struct {
	CreditID string
	Stored   decimal.Decimal // balance on the credit record
	Derived  decimal.Decimal // balance reconstructed from the entry chain
	Detail   string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("ledger consistency violation on credit %s: stored balance %s, ledger says %s (%s)",
		e.CreditID, e.Stored, e.Derived, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistencyViolation }

// TransientError wraps a retryable store failure.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *TransientError) Unwrap() []error { return []error{ErrTransientStore, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrPlanExceedsOwed) ||
		errors.Is(err, ErrAlreadyPaid)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
