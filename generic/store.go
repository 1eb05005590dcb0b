/*
store.go - Persistence contract for engine records

PURPOSE:
  Defines the interface between the engine and the record store. The engine
  treats the store as the single source of truth: nothing is cached beyond
  the current call, every operation re-reads what it validates.

KEY INTERFACES:
  CreditStore:      credits, their append-only entries and trip links
  ChargeStore:      charges, tour selections and payment records
  InstallmentStore: installment plans and alert flags
  BillStore:        payables and their regenerated successors
  TxStore:          all of the above plus WithTx for atomic multi-step writes

APPEND-ONLY CONTRACT:
  Credit entries have no update or delete. Credit links are only ever marked
  reversed. Corrections are new entries.

CONCURRENCY:
  UpdateCredit is a compare-and-swap on Credit.Version. ClaimAlert is a
  conditional update that reports whether this caller set the flag. Both
  return ErrConcurrentModification / false instead of silently overwriting.

IMPLEMENTATIONS:
  - generic/store/memory.go: in-memory, for tests and development
  - store/sqlite: SQLite via database/sql
  - store/postgres: PostgreSQL via pgx

SEE ALSO:
  - errors.go: NotFound, TransientStore, ConcurrentModification
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// STORE - record families
// =============================================================================

type CreditStore interface {
	// GetCredit returns a *NotFoundError when the credit does not exist.
	GetCredit(ctx context.Context, id string) (Credit, error)
	ListCreditsByCustomer(ctx context.Context, customerID string) ([]Credit, error)
	InsertCredit(ctx context.Context, c Credit) error

	// UpdateCredit persists balance and status when the stored version equals
	// c.Version, storing c.Version+1. Otherwise ErrConcurrentModification.
	UpdateCredit(ctx context.Context, c Credit) error

	// AppendCreditEntry is the ONLY write on entries. A duplicate
	// (CreditID, Sequence) returns ErrConcurrentModification.
	AppendCreditEntry(ctx context.Context, e CreditEntry) error
	// ListCreditEntries returns the chain ordered by Sequence.
	ListCreditEntries(ctx context.Context, creditID string) ([]CreditEntry, error)

	InsertCreditLink(ctx context.Context, l CreditLink) error
	GetCreditLink(ctx context.Context, id string) (CreditLink, error)
	ListCreditLinks(ctx context.Context, creditID string) ([]CreditLink, error)
	// MarkCreditLinkReversed returns ErrConcurrentModification when the link
	// is already reversed.
	MarkCreditLinkReversed(ctx context.Context, id string, at time.Time) error
}

type ChargeStore interface {
	GetCharge(ctx context.Context, id string) (Charge, error)
	InsertCharge(ctx context.Context, c Charge) error
	UpdateCharge(ctx context.Context, c Charge) error

	ListTourSelections(ctx context.Context, chargeID string) ([]TourSelection, error)
	InsertTourSelection(ctx context.Context, t TourSelection) error
	DeleteTourSelection(ctx context.Context, id string) error

	GetPayment(ctx context.Context, id string) (Payment, error)
	// ListPayments returns payments ordered by (Date, ID).
	ListPayments(ctx context.Context, chargeID string) ([]Payment, error)
	InsertPayment(ctx context.Context, p Payment) error
	UpdatePayment(ctx context.Context, p Payment) error
	DeletePayment(ctx context.Context, id string) error
}

type InstallmentStore interface {
	GetInstallment(ctx context.Context, id string) (Installment, error)
	// ListInstallments returns a charge's plan ordered by Sequence.
	ListInstallments(ctx context.Context, chargeID string) ([]Installment, error)
	DeleteInstallments(ctx context.Context, chargeID string) error
	InsertInstallment(ctx context.Context, i Installment) error
	// UpdateInstallment persists status, method, paid amount and paid date.
	UpdateInstallment(ctx context.Context, i Installment) error
	// ListPendingDueBy returns pending installments due on or before day,
	// ordered by due date then charge and sequence.
	ListPendingDueBy(ctx context.Context, day Date) ([]Installment, error)

	// ClaimAlert sets the flag for alert type t if it is unset and reports
	// whether this call set it.
	ClaimAlert(ctx context.Context, id string, t AlertType) (bool, error)
	ReleaseAlert(ctx context.Context, id string, t AlertType) error
}

type BillStore interface {
	GetBill(ctx context.Context, id string) (Bill, error)
	ListBills(ctx context.Context, status BillStatus) ([]Bill, error)
	InsertBill(ctx context.Context, b Bill) error
	// UpdateBill persists status and paid date.
	UpdateBill(ctx context.Context, b Bill) error
	// FindSuccessor returns the bill regenerated from previousID, or nil.
	FindSuccessor(ctx context.Context, previousID string) (*Bill, error)
}

// Store is the full record store the engine runs against.
type Store interface {
	CreditStore
	ChargeStore
	InstallmentStore
	BillStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	// fn must only use the Store it is given.
	WithTx(ctx context.Context, fn func(Store) error) error
}
