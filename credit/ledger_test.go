package credit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-ledger/credit"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/generic/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T) (*credit.Manager, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	m := credit.NewManager(mem,
		credit.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		credit.WithClock(func() time.Time { return testNow }),
		credit.WithRetryPolicy(generic.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}),
	)
	return m, mem
}

func issue(t *testing.T, m *credit.Manager, amount string) generic.Credit {
	t.Helper()
	c, err := m.Issue(context.Background(), credit.IssueRequest{CustomerID: "cust-1", Amount: d(amount)})
	require.NoError(t, err)
	return c
}

func apply(m *credit.Manager, creditID, trip, amount string) (credit.Movement, error) {
	return m.Apply(context.Background(), credit.ApplyRequest{
		CreditID: creditID, TripID: trip, Amount: d(amount), Actor: "agent-1",
	})
}

func requireVerified(t *testing.T, m *credit.Manager, creditID string) credit.VerifyReport {
	t.Helper()
	report, err := m.Verify(context.Background(), creditID)
	require.NoError(t, err)
	return report
}

// =============================================================================
// ISSUE / PREVIEW
// =============================================================================

func TestIssue_CreatesAvailableCredit(t *testing.T) {
	m, _ := newTestManager(t)

	c := issue(t, m, "300")

	assert.Equal(t, generic.CreditAvailable, c.Status)
	assertMoney(t, "300", c.AvailableBalance)
	assert.Equal(t, generic.UseAny, c.UseType)

	history, err := m.History(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, history, "issuance writes no entry; the chain starts at original")
}

func TestIssue_RejectsNonPositiveAmount(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Issue(context.Background(), credit.IssueRequest{CustomerID: "cust-1", Amount: d("0")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = m.Issue(context.Background(), credit.IssueRequest{CustomerID: "cust-1", Amount: d("-5")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestPreview_DoesNotMutate(t *testing.T) {
	// GIVEN: Credit of 300
	// WHEN: Previewing a 450 charge
	// THEN: Permitted with a 150 shortfall, balance untouched

	m, _ := newTestManager(t)
	c := issue(t, m, "300")

	res, err := m.Preview(context.Background(), c.ID, d("450"), generic.CategoryTrip)
	require.NoError(t, err)

	assert.True(t, res.Permitted)
	assertMoney(t, "300", res.Calculation.Applied)
	assertMoney(t, "150", res.Calculation.Shortfall)

	after, err := m.Credit(context.Background(), c.ID)
	require.NoError(t, err)
	assertMoney(t, "300", after.AvailableBalance)
	assert.Equal(t, c.Version, after.Version)
}

func TestPreview_UseTypeRestriction(t *testing.T) {
	m, _ := newTestManager(t)
	c, err := m.Issue(context.Background(), credit.IssueRequest{
		CustomerID: "cust-1", Amount: d("100"), UseType: generic.UseTrip,
	})
	require.NoError(t, err)

	res, err := m.Preview(context.Background(), c.ID, d("50"), generic.CategoryAddOns)
	require.NoError(t, err)
	assert.False(t, res.Permitted)
	assert.Contains(t, res.Reason, "restricted")

	res, err = m.Preview(context.Background(), c.ID, d("50"), generic.CategoryTrip)
	require.NoError(t, err)
	assert.True(t, res.Permitted)
}

func TestPreview_ExpiredCredit(t *testing.T) {
	m, _ := newTestManager(t)
	expired := generic.NewDate(2025, time.March, 9)
	c, err := m.Issue(context.Background(), credit.IssueRequest{
		CustomerID: "cust-1", Amount: d("100"), ExpiresAt: &expired,
	})
	require.NoError(t, err)

	res, err := m.Preview(context.Background(), c.ID, d("10"), generic.CategoryTrip)
	require.NoError(t, err)
	assert.False(t, res.Permitted)
	assert.Contains(t, res.Reason, "expired")

	_, err = apply(m, c.ID, "trip-1", "10")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestPreview_NotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Preview(context.Background(), "missing", d("10"), generic.CategoryTrip)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// APPLY
// =============================================================================

func TestApply_PartialThenFull(t *testing.T) {
	// GIVEN: Credit of 300
	// WHEN: Applying 120 then 180
	// THEN: partially_used then fully_used, two consumption entries

	m, _ := newTestManager(t)
	c := issue(t, m, "300")

	mv, err := apply(m, c.ID, "trip-1", "120")
	require.NoError(t, err)
	assertMoney(t, "180", mv.Credit.AvailableBalance)
	assert.Equal(t, generic.CreditPartiallyUsed, mv.Credit.Status)
	require.NotNil(t, mv.Link)
	assert.Equal(t, "trip-1", mv.Link.TripID)
	assert.Equal(t, generic.EntryConsumption, mv.Entry.Type)
	assertMoney(t, "-120", mv.Entry.Delta)
	assertMoney(t, "300", mv.Entry.BalanceBefore)
	assertMoney(t, "180", mv.Entry.BalanceAfter)
	assert.Equal(t, mv.Link.ID, mv.Entry.LinkID)
	assert.Equal(t, "agent-1", mv.Entry.CreatedBy)

	mv, err = apply(m, c.ID, "trip-2", "180")
	require.NoError(t, err)
	assert.True(t, mv.Credit.AvailableBalance.IsZero())
	assert.Equal(t, generic.CreditFullyUsed, mv.Credit.Status)
	assert.Equal(t, int64(2), mv.Entry.Sequence)

	links, err := m.Links(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Len(t, links, 2)

	report := requireVerified(t, m, c.ID)
	assert.Equal(t, 2, report.Entries)
}

func TestApply_InsufficientBalance_NoWrites(t *testing.T) {
	m, mem := newTestManager(t)
	c := issue(t, m, "100")

	_, err := apply(m, c.ID, "trip-1", "100.01")

	var ib *generic.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assertMoney(t, "100", ib.Available)
	assertMoney(t, "100.01", ib.Requested)

	links, _ := mem.ListCreditLinks(context.Background(), c.ID)
	assert.Empty(t, links, "rejected apply must not leave a link behind")
	entries, _ := mem.ListCreditEntries(context.Background(), c.ID)
	assert.Empty(t, entries)
}

func TestApply_InvalidAmount(t *testing.T) {
	m, _ := newTestManager(t)
	c := issue(t, m, "100")

	_, err := apply(m, c.ID, "trip-1", "0")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = apply(m, c.ID, "trip-1", "-10")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestLedger_RejectsSubCentAmounts(t *testing.T) {
	// GIVEN: A credit of 100
	ctx := context.Background()
	m, mem := newTestManager(t)
	c := issue(t, m, "100")

	// WHEN: Amounts finer than a cent are submitted
	_, err := apply(m, c.ID, "trip-1", "0.005")
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
	_, err = m.Refund(ctx, credit.RefundRequest{CreditID: c.ID, Amount: d("10.001")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
	_, err = m.Adjust(ctx, credit.AdjustRequest{CreditID: c.ID, Delta: d("-0.004"), Reason: "rounding"})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
	_, err = m.Issue(ctx, credit.IssueRequest{CustomerID: "cust-1", Amount: d("50.125")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
	_, err = m.Preview(ctx, c.ID, d("9.999"), generic.CategoryTrip)
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	// THEN: Nothing was written and the balance is unchanged
	after, err := mem.GetCredit(ctx, c.ID)
	require.NoError(t, err)
	assertMoney(t, "100", after.AvailableBalance)
	entries, _ := mem.ListCreditEntries(ctx, c.ID)
	assert.Empty(t, entries)
	credits, _ := mem.ListCreditsByCustomer(ctx, "cust-1")
	assert.Len(t, credits, 1)

	// Trailing zeros are still whole cents.
	_, err = apply(m, c.ID, "trip-1", "12.500")
	require.NoError(t, err)
	requireVerified(t, m, c.ID)
}

func TestApply_CreditNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := apply(m, "missing", "trip-1", "10")
	var nf *generic.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "credit", nf.Kind)
}

func TestApply_ConcurrentCallsNeverOverdraw(t *testing.T) {
	// GIVEN: Credit of 100
	// WHEN: 10 concurrent applies of 20 each
	// THEN: Exactly 5 succeed and the ledger reconstructs 0

	m, _ := newTestManager(t)
	c := issue(t, m, "100")

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := apply(m, c.ID, "trip-x", "20")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, generic.ErrInsufficientBalance):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 5, rejected)
	report := requireVerified(t, m, c.ID)
	assert.True(t, report.Derived.IsZero())
}

func TestApply_StoreFailureRollsBack(t *testing.T) {
	// GIVEN: The store fails once, non-retryably, mid-transaction
	// WHEN: Applying
	// THEN: The error surfaces and no link or entry is left behind

	m, mem := newTestManager(t)
	c := issue(t, m, "100")

	mem.FailNext = errors.New("disk full")
	_, err := apply(m, c.ID, "trip-1", "40")
	require.Error(t, err)

	links, _ := mem.ListCreditLinks(context.Background(), c.ID)
	assert.Empty(t, links)
	after, _ := m.Credit(context.Background(), c.ID)
	assertMoney(t, "100", after.AvailableBalance)
	requireVerified(t, m, c.ID)
}

func TestApply_TransientFailureIsRetried(t *testing.T) {
	m, mem := newTestManager(t)
	c := issue(t, m, "100")

	mem.FailNext = &generic.TransientError{Op: "insert link", Err: errors.New("database is locked")}
	mv, err := apply(m, c.ID, "trip-1", "40")
	require.NoError(t, err)
	assertMoney(t, "60", mv.Credit.AvailableBalance)

	links, _ := mem.ListCreditLinks(context.Background(), c.ID)
	assert.Len(t, links, 1, "the failed attempt was rolled back before the retry")
}

func TestApply_DetectsPriorPartialFailure(t *testing.T) {
	// GIVEN: A credit whose stored balance disagrees with its (empty) chain
	// WHEN: Applying
	// THEN: ConsistencyViolation, and the balance is not overwritten

	m, mem := newTestManager(t)
	broken := generic.Credit{
		ID: "broken", CustomerID: "cust-1",
		OriginalAmount: d("100"), AvailableBalance: d("80"),
		Status: generic.CreditPartiallyUsed, Version: 1,
	}
	require.NoError(t, mem.InsertCredit(context.Background(), broken))

	_, err := apply(m, "broken", "trip-1", "10")

	var ce *generic.ConsistencyError
	require.ErrorAs(t, err, &ce)
	assertMoney(t, "80", ce.Stored)
	assertMoney(t, "100", ce.Derived)

	after, _ := m.Credit(context.Background(), "broken")
	assertMoney(t, "80", after.AvailableBalance)
}

// =============================================================================
// REFUND / REVERSE / ADJUST
// =============================================================================

func TestRefund_PartialKeepsNormalStatus(t *testing.T) {
	m, _ := newTestManager(t)
	c := issue(t, m, "300")

	mv, err := m.Refund(context.Background(), credit.RefundRequest{CreditID: c.ID, Amount: d("100"), Reason: "cash out"})
	require.NoError(t, err)

	assertMoney(t, "200", mv.Credit.AvailableBalance)
	assert.Equal(t, generic.CreditPartiallyUsed, mv.Credit.Status)
	assert.Equal(t, generic.EntryRefund, mv.Entry.Type)
	assertMoney(t, "-100", mv.Entry.Delta)
}

func TestRefund_FullIsTerminal(t *testing.T) {
	// GIVEN: Credit of 300 with 100 applied
	// WHEN: Refunding the remaining 200
	// THEN: Status refunded, and further writes are rejected

	m, _ := newTestManager(t)
	c := issue(t, m, "300")
	applied, err := apply(m, c.ID, "trip-1", "100")
	require.NoError(t, err)

	mv, err := m.Refund(context.Background(), credit.RefundRequest{CreditID: c.ID, Amount: d("200"), Reason: "customer left"})
	require.NoError(t, err)
	assert.Equal(t, generic.CreditRefunded, mv.Credit.Status)
	assert.True(t, mv.Credit.AvailableBalance.IsZero())

	_, err = m.ReverseApplication(context.Background(), credit.ReverseRequest{LinkID: applied.Link.ID})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	requireVerified(t, m, c.ID)
}

func TestRefund_ExceedsBalance(t *testing.T) {
	m, _ := newTestManager(t)
	c := issue(t, m, "50")

	_, err := m.Refund(context.Background(), credit.RefundRequest{CreditID: c.ID, Amount: d("60")})
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)
}

func TestApplyThenReverse_RestoresBalanceAndStatus(t *testing.T) {
	// GIVEN: A fresh credit of 300 (available)
	// WHEN: Applying 300 then reversing that application
	// THEN: Balance and status return exactly to 300 / available

	m, _ := newTestManager(t)
	c := issue(t, m, "300")

	applied, err := apply(m, c.ID, "trip-1", "300")
	require.NoError(t, err)
	assert.Equal(t, generic.CreditFullyUsed, applied.Credit.Status)

	reversed, err := m.ReverseApplication(context.Background(), credit.ReverseRequest{
		LinkID: applied.Link.ID, Reason: "trip cancelled", Actor: "agent-1",
	})
	require.NoError(t, err)

	assertMoney(t, "300", reversed.Credit.AvailableBalance)
	assert.Equal(t, generic.CreditAvailable, reversed.Credit.Status)
	assert.Equal(t, generic.EntryRefund, reversed.Entry.Type)
	assertMoney(t, "300", reversed.Entry.Delta)
	require.NotNil(t, reversed.Link)
	assert.True(t, reversed.Link.Reversed())

	report := requireVerified(t, m, c.ID)
	assertMoney(t, "300", report.Derived)
}

func TestReverse_Twice(t *testing.T) {
	m, _ := newTestManager(t)
	c := issue(t, m, "100")
	applied, err := apply(m, c.ID, "trip-1", "30")
	require.NoError(t, err)

	_, err = m.ReverseApplication(context.Background(), credit.ReverseRequest{LinkID: applied.Link.ID})
	require.NoError(t, err)

	_, err = m.ReverseApplication(context.Background(), credit.ReverseRequest{LinkID: applied.Link.ID})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	after, _ := m.Credit(context.Background(), c.ID)
	assertMoney(t, "100", after.AvailableBalance)
}

func TestAdjust_Bounds(t *testing.T) {
	m, _ := newTestManager(t)
	c := issue(t, m, "100")
	_, err := apply(m, c.ID, "trip-1", "40")
	require.NoError(t, err)

	mv, err := m.Adjust(context.Background(), credit.AdjustRequest{CreditID: c.ID, Delta: d("15"), Reason: "goodwill"})
	require.NoError(t, err)
	assertMoney(t, "75", mv.Credit.AvailableBalance)
	assert.Equal(t, generic.EntryAdjustment, mv.Entry.Type)

	_, err = m.Adjust(context.Background(), credit.AdjustRequest{CreditID: c.ID, Delta: d("30"), Reason: "too much"})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = m.Adjust(context.Background(), credit.AdjustRequest{CreditID: c.ID, Delta: d("-80"), Reason: "too much"})
	assert.ErrorIs(t, err, generic.ErrInsufficientBalance)

	_, err = m.Adjust(context.Background(), credit.AdjustRequest{CreditID: c.ID, Delta: d("5")})
	assert.ErrorIs(t, err, generic.ErrInvalidInput, "reason is required")

	requireVerified(t, m, c.ID)
}

func TestLedger_DeltasReconstructBalance(t *testing.T) {
	// GIVEN: A mixed sequence of operations
	// THEN: original + sum(delta) = available after every step

	m, _ := newTestManager(t)
	c := issue(t, m, "500")
	ctx := context.Background()

	a1, err := apply(m, c.ID, "trip-1", "120")
	require.NoError(t, err)
	_, err = apply(m, c.ID, "trip-2", "80.50")
	require.NoError(t, err)
	_, err = m.ReverseApplication(ctx, credit.ReverseRequest{LinkID: a1.Link.ID})
	require.NoError(t, err)
	_, err = m.Adjust(ctx, credit.AdjustRequest{CreditID: c.ID, Delta: d("-19.50"), Reason: "fee"})
	require.NoError(t, err)
	_, err = m.Refund(ctx, credit.RefundRequest{CreditID: c.ID, Amount: d("100"), Reason: "partial cash out"})
	require.NoError(t, err)

	entries, err := m.History(ctx, c.ID)
	require.NoError(t, err)
	sum := d("0")
	for _, e := range entries {
		sum = sum.Add(e.Delta)
	}
	after, err := m.Credit(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(after.AvailableBalance.Sub(after.OriginalAmount)))
	assertMoney(t, "300", after.AvailableBalance)

	requireVerified(t, m, c.ID)
}

func TestCustomerCredits(t *testing.T) {
	m, _ := newTestManager(t)
	issue(t, m, "10")
	issue(t, m, "20")
	_, err := m.Issue(context.Background(), credit.IssueRequest{CustomerID: "cust-2", Amount: d("5")})
	require.NoError(t, err)

	credits, err := m.CustomerCredits(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Len(t, credits, 2)
}
