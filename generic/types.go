/*
Package generic provides the core records and primitives of the trip finance engine.

PURPOSE:
  This package contains the types shared by every engine component: money,
  calendar dates, the persisted record shapes, error kinds, the store
  contract and the retry policy. Domain packages (credit, charge,
  installment, billing) build their rules on top of these types; storage
  packages (generic/store, store/sqlite, store/postgres) persist them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Credit: prepaid customer balance, consumed against trips
  - CreditEntry: immutable ledger movement on a credit
  - CreditLink: application of a credit to one trip
  - Charge / TourSelection / Payment: one passenger's obligation for a trip
  - Installment: one scheduled slice of a charge
  - Bill: a payable, optionally recurring

DESIGN PRINCIPLES:
  1. Immutability: ledger entries and links are never modified or deleted
  2. Precision: all money is decimal.Decimal, never float64
  3. Derived state: credit status and charge status are functions of source
     records, recomputed on every mutation

SEE ALSO:
  - store.go: persistence contract
  - errors.go: error kinds
  - credit/ledger.go: the only writer of credit balances
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CREDITS
// =============================================================================

type CreditStatus string

const (
	CreditAvailable     CreditStatus = "available"
	CreditPartiallyUsed CreditStatus = "partially_used"
	CreditFullyUsed     CreditStatus = "fully_used"
	CreditRefunded      CreditStatus = "refunded" // terminal, set by explicit refund only
)

// UseType restricts what a credit may pay for.
type UseType string

const (
	UseAny    UseType = "any"
	UseTrip   UseType = "trip"
	UseAddOns UseType = "add_ons"
)

type Credit struct {
	ID               string
	CustomerID       string
	OriginalAmount   decimal.Decimal
	AvailableBalance decimal.Decimal
	Status           CreditStatus
	UseType          UseType
	ExpiresAt        *Date
	Note             string

	// Version is bumped on every update; writers compare-and-swap on it.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StatusFor derives the non-terminal credit status from balance vs original.
func StatusFor(balance, original decimal.Decimal) CreditStatus {
	switch {
	case balance.LessThanOrEqual(decimal.Zero):
		return CreditFullyUsed
	case balance.Equal(original):
		return CreditAvailable
	default:
		return CreditPartiallyUsed
	}
}

// Covers reports whether a credit with this use type may pay for category c.
func (u UseType) Covers(c PaymentCategory) bool {
	switch u {
	case UseAny, "":
		return true
	case UseTrip:
		return c == CategoryTrip
	case UseAddOns:
		return c == CategoryAddOns
	}
	return false
}

type EntryType string

const (
	EntryConsumption EntryType = "consumption"
	EntryRefund      EntryType = "refund"
	EntryAdjustment  EntryType = "adjustment"
)

// CreditEntry is an append-only movement on a credit.
// INVARIANT: BalanceAfter = BalanceBefore + Delta.
type CreditEntry struct {
	ID            string
	CreditID      string
	Sequence      int64 // 1-based position in the credit's chain, unique per credit
	Type          EntryType
	BalanceBefore decimal.Decimal
	Delta         decimal.Decimal
	BalanceAfter  decimal.Decimal
	Note          string
	TripID        string // optional
	LinkID        string // optional, set for consumption and reversal entries
	CreatedBy     string
	CreatedAt     time.Time
}

// CreditLink records a credit applied to a trip. Reversed, never deleted.
type CreditLink struct {
	ID            string
	CreditID      string
	TripID        string
	AmountApplied decimal.Decimal
	Note          string
	CreatedAt     time.Time
	ReversedAt    *time.Time
}

func (l CreditLink) Reversed() bool { return l.ReversedAt != nil }

// =============================================================================
// CHARGES
// =============================================================================

type PaymentCategory string

const (
	CategoryTrip   PaymentCategory = "trip"
	CategoryAddOns PaymentCategory = "add_ons"
	CategoryBoth   PaymentCategory = "both"
)

func (c PaymentCategory) Valid() bool {
	return c == CategoryTrip || c == CategoryAddOns || c == CategoryBoth
}

// Charge is one passenger's financial obligation for one trip.
// Status is a cache of the breakdown engine's output; readers recompute it.
type Charge struct {
	ID            string
	TripID        string
	CustomerID    string
	Fare          decimal.Decimal
	Discount      decimal.Decimal
	Complimentary bool
	Cancelled     bool
	Status        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type TourSelection struct {
	ID           string
	ChargeID     string
	TourID       string
	ChargedPrice decimal.Decimal
}

type Payment struct {
	ID        string
	ChargeID  string
	Category  PaymentCategory
	Amount    decimal.Decimal
	Date      Date
	Method    string
	Note      string
	CreatedAt time.Time
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
)

type AlertType string

const (
	AlertUpcoming AlertType = "upcoming"
	AlertOverdue  AlertType = "overdue"
)

// AlertFlags records which alert types were already sent for an installment.
type AlertFlags struct {
	Upcoming bool
	Overdue  bool
}

func (f AlertFlags) Sent(t AlertType) bool {
	switch t {
	case AlertUpcoming:
		return f.Upcoming
	case AlertOverdue:
		return f.Overdue
	}
	return false
}

type Installment struct {
	ID         string
	ChargeID   string
	Sequence   int
	Total      int
	Amount     decimal.Decimal
	DueDate    Date
	Status     InstallmentStatus
	Method     string
	PaidAmount decimal.Decimal
	PaidAt     *Date
	Alerts     AlertFlags
	CreatedAt  time.Time
}

// =============================================================================
// BILLS
// =============================================================================

type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
)

// Months returns the recurrence interval in calendar months, 0 if unknown.
func (f Frequency) Months() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencySemiannual:
		return 6
	case FrequencyAnnual:
		return 12
	}
	return 0
}

type BillStatus string

const (
	BillPending BillStatus = "pending"
	BillPaid    BillStatus = "paid"
)

type Bill struct {
	ID             string
	Payee          string
	Category       string
	Amount         decimal.Decimal
	DueDate        Date
	Recurring      bool
	Frequency      Frequency
	Status         BillStatus
	PaidAt         *Date
	PreviousBillID string // set on successors created by regeneration
	CreatedAt      time.Time
}
