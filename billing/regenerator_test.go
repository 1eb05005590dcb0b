package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-ledger/billing"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/generic/store"
)

func newTestRegenerator(t *testing.T, opts ...billing.Option) (*billing.Regenerator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	base := []billing.Option{
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		billing.WithClock(func() time.Time { return time.Date(2024, time.February, 1, 10, 0, 0, 0, time.UTC) }),
		billing.WithRetryPolicy(generic.RetryPolicy{Attempts: 1}),
	}
	return billing.NewRegenerator(mem, append(base, opts...)...), mem
}

func monthlyRent(t *testing.T, r *billing.Regenerator, due generic.Date) generic.Bill {
	t.Helper()
	b, err := r.CreateBill(context.Background(), billing.CreateBillRequest{
		Payee: "Bus Depot", Category: "rent", Amount: decimal.NewFromInt(1000),
		DueDate: due, Recurring: true, Frequency: generic.FrequencyMonthly,
	})
	require.NoError(t, err)
	return b
}

// =============================================================================
// NEXT DUE
// =============================================================================

func TestNextDue_CalendarAware(t *testing.T) {
	cases := []struct {
		name string
		due  generic.Date
		freq generic.Frequency
		want generic.Date
	}{
		{"monthly leap year end", generic.NewDate(2024, 1, 31), generic.FrequencyMonthly, generic.NewDate(2024, 2, 29)},
		{"monthly non-leap end", generic.NewDate(2025, 1, 31), generic.FrequencyMonthly, generic.NewDate(2025, 2, 28)},
		{"monthly mid month", generic.NewDate(2025, 3, 15), generic.FrequencyMonthly, generic.NewDate(2025, 4, 15)},
		{"quarterly to shorter month", generic.NewDate(2025, 5, 31), generic.FrequencyQuarterly, generic.NewDate(2025, 8, 31)},
		{"quarterly clamps", generic.NewDate(2025, 11, 30), generic.FrequencyQuarterly, generic.NewDate(2026, 2, 28)},
		{"semiannual", generic.NewDate(2025, 8, 31), generic.FrequencySemiannual, generic.NewDate(2026, 2, 28)},
		{"annual from leap day", generic.NewDate(2024, 2, 29), generic.FrequencyAnnual, generic.NewDate(2025, 2, 28)},
		{"monthly over year end", generic.NewDate(2025, 12, 31), generic.FrequencyMonthly, generic.NewDate(2026, 1, 31)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := billing.NextDue(tc.due, tc.freq)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := billing.NextDue(generic.NewDate(2025, 1, 1), "weekly")
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// =============================================================================
// MARK PAID / REGENERATE
// =============================================================================

func TestMarkPaid_RecurringCreatesSuccessor(t *testing.T) {
	// GIVEN: Monthly bill of 1000 due 2024-01-31
	// WHEN: Marked paid
	// THEN: Successor due 2024-02-29, pending, same payee/category/amount

	r, _ := newTestRegenerator(t)
	bill := monthlyRent(t, r, generic.NewDate(2024, 1, 31))

	res, err := r.MarkPaid(context.Background(), bill.ID, generic.Date{})
	require.NoError(t, err)

	assert.Equal(t, generic.BillPaid, res.Paid.Status)
	require.NotNil(t, res.Paid.PaidAt)
	assert.Equal(t, generic.NewDate(2024, 2, 1), *res.Paid.PaidAt)

	require.NotNil(t, res.Successor)
	next := res.Successor
	assert.Equal(t, generic.NewDate(2024, 2, 29), next.DueDate)
	assert.Equal(t, generic.BillPending, next.Status)
	assert.True(t, next.Recurring)
	assert.Equal(t, "Bus Depot", next.Payee)
	assert.Equal(t, "rent", next.Category)
	assert.True(t, next.Amount.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, bill.ID, next.PreviousBillID)

	stored, err := r.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.BillPaid, stored.Status, "paid instance left as is")
}

func TestMarkPaid_NonRecurringHasNoSuccessor(t *testing.T) {
	r, _ := newTestRegenerator(t)
	b, err := r.CreateBill(context.Background(), billing.CreateBillRequest{
		Payee: "Fuel Co", Amount: decimal.NewFromInt(250), DueDate: generic.NewDate(2024, 3, 1),
	})
	require.NoError(t, err)

	res, err := r.MarkPaid(context.Background(), b.ID, generic.NewDate(2024, 3, 1))
	require.NoError(t, err)
	assert.Nil(t, res.Successor)

	_, err = r.Regenerate(context.Background(), b.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

func TestMarkPaid_Twice(t *testing.T) {
	r, _ := newTestRegenerator(t)
	bill := monthlyRent(t, r, generic.NewDate(2024, 1, 31))

	_, err := r.MarkPaid(context.Background(), bill.ID, generic.Date{})
	require.NoError(t, err)
	_, err = r.MarkPaid(context.Background(), bill.ID, generic.Date{})
	assert.ErrorIs(t, err, generic.ErrAlreadyPaid)
}

func TestRegenerate_Idempotent(t *testing.T) {
	r, mem := newTestRegenerator(t)
	bill := monthlyRent(t, r, generic.NewDate(2024, 1, 31))
	res, err := r.MarkPaid(context.Background(), bill.ID, generic.Date{})
	require.NoError(t, err)

	again, err := r.Regenerate(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Successor.ID, again.ID)

	pending, err := mem.ListBills(context.Background(), generic.BillPending)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestRegenerate_RequiresPaid(t *testing.T) {
	r, _ := newTestRegenerator(t)
	bill := monthlyRent(t, r, generic.NewDate(2024, 1, 31))

	_, err := r.Regenerate(context.Background(), bill.ID)
	assert.ErrorIs(t, err, generic.ErrInvalidInput)
}

// recordingQueue captures enqueued regenerations.
type recordingQueue struct{ ids []string }

func (q *recordingQueue) EnqueueRegeneration(_ context.Context, billID string) error {
	q.ids = append(q.ids, billID)
	return nil
}

func TestMarkPaid_SuccessorFailureKeepsPaidAndQueuesRetry(t *testing.T) {
	// GIVEN: A store that fails the successor insert
	// WHEN: Marking a recurring bill paid
	// THEN: RegenerationError, bill stays paid, retry queued; a later
	//       Regenerate succeeds

	queue := &recordingQueue{}
	r, mem := newTestRegenerator(t, billing.WithRetryQueue(queue))
	bill := monthlyRent(t, r, generic.NewDate(2024, 1, 31))

	failing := &failSuccessorInsert{TxStore: mem}
	fr := billing.NewRegenerator(failing,
		billing.WithRetryQueue(queue),
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		billing.WithRetryPolicy(generic.RetryPolicy{Attempts: 1}),
	)

	res, err := fr.MarkPaid(context.Background(), bill.ID, generic.NewDate(2024, 2, 1))

	var regErr *billing.RegenerationError
	require.ErrorAs(t, err, &regErr)
	assert.True(t, regErr.Queued)
	assert.Equal(t, bill.ID, regErr.BillID)
	assert.Equal(t, generic.BillPaid, res.Paid.Status)
	assert.Nil(t, res.Successor)
	assert.Equal(t, []string{bill.ID}, queue.ids)

	stored, err := mem.GetBill(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.BillPaid, stored.Status)

	next, err := r.Regenerate(context.Background(), bill.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.NewDate(2024, 2, 29), next.DueDate)
}

func TestCreateBill_Validation(t *testing.T) {
	r, _ := newTestRegenerator(t)
	ctx := context.Background()

	_, err := r.CreateBill(ctx, billing.CreateBillRequest{Payee: "x", Amount: decimal.NewFromInt(1), DueDate: generic.NewDate(2024, 1, 1), Recurring: true})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, err = r.CreateBill(ctx, billing.CreateBillRequest{Payee: "x", Amount: decimal.Zero, DueDate: generic.NewDate(2024, 1, 1)})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = r.CreateBill(ctx, billing.CreateBillRequest{Payee: "x", Amount: decimal.RequireFromString("12.345"), DueDate: generic.NewDate(2024, 1, 1)})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

type failSuccessorInsert struct{ generic.TxStore }

func (f *failSuccessorInsert) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	return f.TxStore.WithTx(ctx, func(tx generic.Store) error {
		return fn(&noInsertTx{Store: tx})
	})
}

type noInsertTx struct{ generic.Store }

func (noInsertTx) InsertBill(context.Context, generic.Bill) error {
	return errors.New("insert refused")
}
