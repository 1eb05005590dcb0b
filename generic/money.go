package generic

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - decimal helpers
// =============================================================================

// Tolerance absorbs rounding when comparing paid vs owed amounts.
var Tolerance = decimal.New(1, -2)

// MoneyScale is the number of decimal places every store keeps.
const MoneyScale = 2

// ValidMoney rejects amounts finer than a cent with ErrInvalidAmount. Sign
// and zero checks stay with the caller.
func ValidMoney(field string, d decimal.Decimal) error {
	if !d.Equal(d.Round(MoneyScale)) {
		return InvalidAmount(field, "at most %d decimal places, got %s", MoneyScale, d)
	}
	return nil
}

func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// NewID returns a fresh record identifier.
func NewID() string { return uuid.NewString() }
