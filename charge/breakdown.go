/*
Package charge derives owed and paid amounts and one payment status for a
passenger's trip charge.

PURPOSE:
  A charge owes two categories: the trip fare (fare - discount) and the
  selected add-on tours (sum of charged prices). Payments are tagged trip,
  add_ons or both. Compute turns the source records into a Breakdown; the
  status stored on the charge is only a cache of Compute's output.

ATTRIBUTION OF "both" PAYMENTS:
  Payments are attributed in (Date, ID) order. A "both" payment is split
  across the categories in proportion to what each still owes at that
  moment, rounded to cents with the remainder on add-ons. Whatever exceeds
  the total still owed is split in proportion to the owed amounts (all to
  trip when nothing is owed at all).

STATUS PRECEDENCE (first match wins):
  Complimentary > Cancelled > Fully Paid > Trip Paid / Add-ons Pending >
  Add-ons Paid / Trip Pending > Partial > Pending.
  The two split statuses need something owed in both categories.

SEE ALSO:
  - status.go: the closed Status set
  - service.go: mutations that refresh the cached status
*/
package charge

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-ledger/generic"
)

// Breakdown is the computed financial position of one charge.
type Breakdown struct {
	ChargeID     string
	OwedTrip     decimal.Decimal
	OwedAddOns   decimal.Decimal
	OwedTotal    decimal.Decimal
	PaidTrip     decimal.Decimal
	PaidAddOns   decimal.Decimal
	PaidTotal    decimal.Decimal
	Outstanding  decimal.Decimal // max(owed - paid, 0)
	Status       Status
	Attributions []Attribution
}

// Attribution is how one payment was credited to the categories.
type Attribution struct {
	PaymentID string
	Trip      decimal.Decimal
	AddOns    decimal.Decimal
}

// Compute derives the breakdown of c from its tour selections and payments.
// It is pure: the same records always yield the same Breakdown.
func Compute(c generic.Charge, tours []generic.TourSelection, payments []generic.Payment) (Breakdown, error) {
	b := Breakdown{
		ChargeID:   c.ID,
		OwedTrip:   decimal.Zero,
		OwedAddOns: decimal.Zero,
		PaidTrip:   decimal.Zero,
		PaidAddOns: decimal.Zero,
	}

	if !c.Complimentary {
		owedTrip, err := tripOwed(c)
		if err != nil {
			return Breakdown{}, err
		}
		b.OwedTrip = owedTrip
		for _, t := range tours {
			if t.ChargedPrice.IsNegative() {
				return Breakdown{}, generic.InvalidAmount("charged_price", "tour %s has negative price %s", t.TourID, t.ChargedPrice)
			}
			b.OwedAddOns = b.OwedAddOns.Add(t.ChargedPrice)
		}
	}
	b.OwedTotal = b.OwedTrip.Add(b.OwedAddOns)

	ordered := append([]generic.Payment(nil), payments...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	for _, p := range ordered {
		if p.Amount.IsNegative() {
			return Breakdown{}, generic.InvalidAmount("amount", "payment %s has negative amount %s", p.ID, p.Amount)
		}
		a := Attribution{PaymentID: p.ID, Trip: decimal.Zero, AddOns: decimal.Zero}
		switch p.Category {
		case generic.CategoryTrip:
			a.Trip = p.Amount
		case generic.CategoryAddOns:
			a.AddOns = p.Amount
		case generic.CategoryBoth:
			a.Trip, a.AddOns = splitBoth(p.Amount, b)
		default:
			return Breakdown{}, generic.InvalidInput("category", "payment %s has unknown category %q", p.ID, p.Category)
		}
		b.PaidTrip = b.PaidTrip.Add(a.Trip)
		b.PaidAddOns = b.PaidAddOns.Add(a.AddOns)
		b.Attributions = append(b.Attributions, a)
	}

	b.PaidTotal = b.PaidTrip.Add(b.PaidAddOns)
	b.Outstanding = generic.NonNegative(b.OwedTotal.Sub(b.PaidTotal))
	b.Status = derive(c, b)
	return b, nil
}

// tripOwed validates the fare and discount of a non-complimentary charge.
func tripOwed(c generic.Charge) (decimal.Decimal, error) {
	switch {
	case c.Fare.IsNegative():
		return decimal.Zero, generic.InvalidAmount("fare", "must not be negative, got %s", c.Fare)
	case c.Discount.IsNegative():
		return decimal.Zero, generic.InvalidAmount("discount", "must not be negative, got %s", c.Discount)
	case c.Discount.GreaterThan(c.Fare):
		return decimal.Zero, generic.InvalidAmount("discount", "discount %s exceeds fare %s", c.Discount, c.Fare)
	}
	return c.Fare.Sub(c.Discount), nil
}

// splitBoth attributes amount given what b has accumulated so far.
func splitBoth(amount decimal.Decimal, b Breakdown) (trip, addOns decimal.Decimal) {
	remTrip := generic.NonNegative(b.OwedTrip.Sub(b.PaidTrip))
	remAddOns := generic.NonNegative(b.OwedAddOns.Sub(b.PaidAddOns))
	remaining := remTrip.Add(remAddOns)

	covered := generic.MinDecimal(amount, remaining)
	trip = decimal.Zero
	if remaining.IsPositive() {
		trip = covered.Mul(remTrip).Div(remaining).Round(2)
	}

	if excess := amount.Sub(covered); excess.IsPositive() {
		if b.OwedTotal.IsPositive() {
			trip = trip.Add(excess.Mul(b.OwedTrip).Div(b.OwedTotal).Round(2))
		} else {
			trip = trip.Add(excess)
		}
	}
	return trip, amount.Sub(trip)
}

func derive(c generic.Charge, b Breakdown) Status {
	eps := generic.Tolerance
	bothOwed := b.OwedTrip.IsPositive() && b.OwedAddOns.IsPositive()
	tripPaid := b.PaidTrip.GreaterThanOrEqual(b.OwedTrip.Sub(eps))
	addOnsPaid := b.PaidAddOns.GreaterThanOrEqual(b.OwedAddOns.Sub(eps))

	switch {
	case c.Complimentary:
		return StatusComplimentary
	case c.Cancelled:
		return StatusCancelled
	case b.PaidTotal.GreaterThanOrEqual(b.OwedTotal.Sub(eps)):
		return StatusFullyPaid
	case bothOwed && tripPaid && b.PaidAddOns.LessThan(b.OwedAddOns):
		return StatusTripPaidAddOnsPending
	case bothOwed && addOnsPaid && b.PaidTrip.LessThan(b.OwedTrip):
		return StatusAddOnsPaidTripPending
	case b.PaidTotal.IsPositive():
		return StatusPartial
	}
	return StatusPending
}
