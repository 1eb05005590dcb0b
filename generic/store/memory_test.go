package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/generic/store"
)

func TestMemory_UpdateCreditCompareAndSwap(t *testing.T) {
	// GIVEN: A stored credit at version 1
	// WHEN: Two writers both based on version 1 update it
	// THEN: The first wins, the second gets ErrConcurrentModification

	ctx := context.Background()
	mem := store.NewMemory()
	c := generic.Credit{ID: "c1", OriginalAmount: decimal.NewFromInt(100), AvailableBalance: decimal.NewFromInt(100), Version: 1}
	require.NoError(t, mem.InsertCredit(ctx, c))

	first := c
	first.AvailableBalance = decimal.NewFromInt(60)
	require.NoError(t, mem.UpdateCredit(ctx, first))

	second := c
	second.AvailableBalance = decimal.NewFromInt(10)
	err := mem.UpdateCredit(ctx, second)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.True(t, generic.IsRetryable(err))

	stored, err := mem.GetCredit(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, stored.AvailableBalance.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, int64(2), stored.Version)
}

func TestMemory_EntrySequenceIsUnique(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.AppendCreditEntry(ctx, generic.CreditEntry{ID: "e1", CreditID: "c1", Sequence: 1}))
	err := mem.AppendCreditEntry(ctx, generic.CreditEntry{ID: "e2", CreditID: "c1", Sequence: 1})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	require.NoError(t, mem.AppendCreditEntry(ctx, generic.CreditEntry{ID: "e3", CreditID: "c2", Sequence: 1}))
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	err := mem.WithTx(ctx, func(tx generic.Store) error {
		require.NoError(t, tx.InsertCharge(ctx, generic.Charge{ID: "ch1"}))
		return errors.New("abort")
	})
	require.Error(t, err)

	_, err = mem.GetCharge(ctx, "ch1")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestMemory_ClaimAlertOnce(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.InsertInstallment(ctx, generic.Installment{ID: "i1", ChargeID: "ch1", Status: generic.InstallmentPending}))

	claimed, err := mem.ClaimAlert(ctx, "i1", generic.AlertOverdue)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = mem.ClaimAlert(ctx, "i1", generic.AlertOverdue)
	require.NoError(t, err)
	assert.False(t, claimed, "second claim of the same type must lose")

	claimed, err = mem.ClaimAlert(ctx, "i1", generic.AlertUpcoming)
	require.NoError(t, err)
	assert.True(t, claimed, "alert types are independent")

	require.NoError(t, mem.ReleaseAlert(ctx, "i1", generic.AlertOverdue))
	claimed, err = mem.ClaimAlert(ctx, "i1", generic.AlertOverdue)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestMemory_ListPendingDueBy(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	day := func(d int) generic.Date { return generic.NewDate(2025, time.June, d) }

	require.NoError(t, mem.InsertInstallment(ctx, generic.Installment{ID: "late", ChargeID: "a", Sequence: 1, DueDate: day(1), Status: generic.InstallmentPending}))
	require.NoError(t, mem.InsertInstallment(ctx, generic.Installment{ID: "paid", ChargeID: "a", Sequence: 2, DueDate: day(2), Status: generic.InstallmentPaid}))
	require.NoError(t, mem.InsertInstallment(ctx, generic.Installment{ID: "soon", ChargeID: "a", Sequence: 3, DueDate: day(10), Status: generic.InstallmentPending}))
	require.NoError(t, mem.InsertInstallment(ctx, generic.Installment{ID: "far", ChargeID: "a", Sequence: 4, DueDate: day(30), Status: generic.InstallmentPending}))

	got, err := mem.ListPendingDueBy(ctx, day(10))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "late", got[0].ID)
	assert.Equal(t, "soon", got[1].ID)
}

func TestMemory_SingleSuccessorPerBill(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.InsertBill(ctx, generic.Bill{ID: "b2", PreviousBillID: "b1"}))
	err := mem.InsertBill(ctx, generic.Bill{ID: "b3", PreviousBillID: "b1"})
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	succ, err := mem.FindSuccessor(ctx, "b1")
	require.NoError(t, err)
	require.NotNil(t, succ)
	assert.Equal(t, "b2", succ.ID)

	none, err := mem.FindSuccessor(ctx, "b2")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestMemory_PaymentsOrderedByDateThenID(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.InsertPayment(ctx, generic.Payment{ID: "p-b", ChargeID: "ch", Date: generic.NewDate(2025, 1, 2)}))
	require.NoError(t, mem.InsertPayment(ctx, generic.Payment{ID: "p-a", ChargeID: "ch", Date: generic.NewDate(2025, 1, 2)}))
	require.NoError(t, mem.InsertPayment(ctx, generic.Payment{ID: "p-z", ChargeID: "ch", Date: generic.NewDate(2025, 1, 1)}))

	got, err := mem.ListPayments(ctx, "ch")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"p-z", "p-a", "p-b"}, []string{got[0].ID, got[1].ID, got[2].ID})
}
