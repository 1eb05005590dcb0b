package credit

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/metrics"
)

// VerifyReport summarizes a full reconstruction of a credit's ledger.
type VerifyReport struct {
	CreditID string
	Original decimal.Decimal
	Stored   decimal.Decimal
	Derived  decimal.Decimal // original + sum of deltas
	Entries  int
}

// Verify rebuilds the balance from the entry chain and compares it to the
// stored balance. Any break returns a *generic.ConsistencyError alongside the
// report. Nothing is corrected.
func (m *Manager) Verify(ctx context.Context, creditID string) (VerifyReport, error) {
	c, err := m.store.GetCredit(ctx, creditID)
	if err != nil {
		return VerifyReport{}, err
	}
	entries, err := m.store.ListCreditEntries(ctx, creditID)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("list entries: %w", err)
	}

	report, err := Reconstruct(c, entries)
	metrics.CreditOp("verify", err, false)
	if err != nil {
		m.reportConsistency(ctx, "verify", err)
		return report, err
	}
	m.logger.DebugContext(ctx, "credit ledger verified", "credit_id", c.ID, "entries", report.Entries)
	return report, nil
}

// Reconstruct checks the chain of entries against the credit:
//   - sequences run 1..n without gaps
//   - each entry satisfies after = before + delta
//   - each entry starts where the previous one ended (the first at original)
//   - original + sum(delta) equals the stored balance, within [0, original]
func Reconstruct(c generic.Credit, entries []generic.CreditEntry) (VerifyReport, error) {
	report := VerifyReport{
		CreditID: c.ID,
		Original: c.OriginalAmount,
		Stored:   c.AvailableBalance,
		Entries:  len(entries),
	}
	fail := func(derived decimal.Decimal, format string, args ...any) (VerifyReport, error) {
		report.Derived = derived
		return report, &generic.ConsistencyError{
			CreditID: c.ID,
			Stored:   c.AvailableBalance,
			Derived:  derived,
			Detail:   fmt.Sprintf(format, args...),
		}
	}

	running := c.OriginalAmount
	for i, e := range entries {
		if e.Sequence != int64(i+1) {
			return fail(running, "entry %s has sequence %d, expected %d", e.ID, e.Sequence, i+1)
		}
		if !e.BalanceBefore.Equal(running) {
			return fail(running, "entry %d starts at %s, previous balance %s", e.Sequence, e.BalanceBefore, running)
		}
		if !e.BalanceBefore.Add(e.Delta).Equal(e.BalanceAfter) {
			return fail(running, "entry %d: %s + %s != %s", e.Sequence, e.BalanceBefore, e.Delta, e.BalanceAfter)
		}
		running = running.Add(e.Delta)
	}

	if running.IsNegative() || running.GreaterThan(c.OriginalAmount) {
		return fail(running, "derived balance outside [0, %s]", c.OriginalAmount)
	}
	if !running.Equal(c.AvailableBalance) {
		return fail(running, "entries do not reconstruct stored balance")
	}
	report.Derived = running
	return report, nil
}
