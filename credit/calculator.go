/*
calculator.go - Credit vs charge comparison

PURPOSE:
  Pure functions comparing an available credit balance against a target
  charge. Used for previews before anything is committed.

RECONCILIATION:
  For balance >= 0 and charge >= 0:
    Applied + Shortfall = charge
    Applied + Surplus   = balance
    Applied <= balance
  Exactly one of Surplus and Shortfall can be non-zero.

SEE ALSO:
  - ledger.go: Preview wraps Calculate with credit eligibility checks
*/
package credit

import (
	"github.com/shopspring/decimal"

	"github.com/warp/trip-ledger/generic"
)

type Outcome string

const (
	OutcomeComplete  Outcome = "complete"
	OutcomeSurplus   Outcome = "surplus"
	OutcomeShortfall Outcome = "shortfall"
)

// Calculation is the result of comparing a balance against a charge.
type Calculation struct {
	Applied   decimal.Decimal
	Surplus   decimal.Decimal
	Shortfall decimal.Decimal
	Outcome   Outcome
}

// Calculate compares balance against charge. Both must be non-negative;
// callers validate before calling (see CheckedCalculate).
func Calculate(balance, charge decimal.Decimal) Calculation {
	c := Calculation{
		Applied:   generic.MinDecimal(balance, charge),
		Surplus:   generic.NonNegative(balance.Sub(charge)),
		Shortfall: generic.NonNegative(charge.Sub(balance)),
	}
	switch {
	case c.Surplus.IsPositive():
		c.Outcome = OutcomeSurplus
	case c.Shortfall.IsPositive():
		c.Outcome = OutcomeShortfall
	default:
		c.Outcome = OutcomeComplete
	}
	return c
}

// CheckedCalculate rejects negative or sub-cent inputs with ErrInvalidAmount.
func CheckedCalculate(balance, charge decimal.Decimal) (Calculation, error) {
	if balance.IsNegative() {
		return Calculation{}, generic.InvalidAmount("balance", "must not be negative, got %s", balance)
	}
	if charge.IsNegative() {
		return Calculation{}, generic.InvalidAmount("charge", "must not be negative, got %s", charge)
	}
	if err := generic.ValidMoney("balance", balance); err != nil {
		return Calculation{}, err
	}
	if err := generic.ValidMoney("charge", charge); err != nil {
		return Calculation{}, err
	}
	return Calculate(balance, charge), nil
}
