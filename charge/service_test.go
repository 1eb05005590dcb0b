package charge_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-ledger/charge"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/generic/store"
)

func newTestService(t *testing.T) (*charge.Service, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	svc := charge.NewService(mem,
		charge.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		charge.WithClock(func() time.Time { return time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC) }),
	)
	return svc, mem
}

func createCharge(t *testing.T, svc *charge.Service, fare, discount string) generic.Charge {
	t.Helper()
	c, _, err := svc.CreateCharge(context.Background(), charge.CreateChargeRequest{
		TripID: "trip-1", CustomerID: "cust-1", Fare: d(fare), Discount: d(discount),
	})
	require.NoError(t, err)
	return c
}

func storedStatus(t *testing.T, mem *store.Memory, chargeID string) string {
	t.Helper()
	c, err := mem.GetCharge(context.Background(), chargeID)
	require.NoError(t, err)
	return c.Status
}

func TestService_CreateChargeValidatesBeforeWrite(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.CreateCharge(context.Background(), charge.CreateChargeRequest{
		TripID: "trip-1", CustomerID: "cust-1", Fare: d("50"), Discount: d("60"),
	})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
}

func TestService_PaymentEventsRefreshStoredStatus(t *testing.T) {
	// GIVEN: fare 200, discount 50, one add-on at 80
	// WHEN: Recording, updating and deleting payments
	// THEN: The stored status follows every change

	ctx := context.Background()
	svc, mem := newTestService(t)
	c := createCharge(t, svc, "200", "50")
	assert.Equal(t, "Pending", storedStatus(t, mem, c.ID))

	_, b, err := svc.AddTourSelection(ctx, c.ID, "tour-volcano", d("80"))
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, b.Status)

	p, b, err := svc.RecordPayment(ctx, charge.PaymentRequest{
		ChargeID: c.ID, Category: generic.CategoryTrip, Amount: d("150"), Method: "transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, charge.StatusTripPaidAddOnsPending, b.Status)
	assert.Equal(t, "Trip Paid / Add-ons Pending", storedStatus(t, mem, c.ID))
	assert.False(t, p.Date.IsZero(), "date defaults to today")

	_, b, err = svc.RecordPayment(ctx, charge.PaymentRequest{
		ChargeID: c.ID, Category: generic.CategoryAddOns, Amount: d("80"), Method: "cash",
	})
	require.NoError(t, err)
	assert.Equal(t, charge.StatusFullyPaid, b.Status)
	assert.Equal(t, "Fully Paid", storedStatus(t, mem, c.ID))

	_, b, err = svc.UpdatePayment(ctx, p.ID, charge.PaymentRequest{
		Category: generic.CategoryTrip, Amount: d("100"), Method: "transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, charge.StatusAddOnsPaidTripPending, b.Status)
	assert.Equal(t, "Add-ons Paid / Trip Pending", storedStatus(t, mem, c.ID))

	b, err = svc.DeletePayment(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusAddOnsPaidTripPending, b.Status)

	payments, err := svc.Payments(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestService_RemoveTourSelection(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)
	c := createCharge(t, svc, "100", "0")

	sel, _, err := svc.AddTourSelection(ctx, c.ID, "tour-1", d("40"))
	require.NoError(t, err)
	_, _, err = svc.RecordPayment(ctx, charge.PaymentRequest{ChargeID: c.ID, Category: generic.CategoryTrip, Amount: d("100")})
	require.NoError(t, err)
	assert.Equal(t, "Trip Paid / Add-ons Pending", storedStatus(t, mem, c.ID))

	b, err := svc.RemoveTourSelection(ctx, c.ID, sel.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusFullyPaid, b.Status)

	_, err = svc.RemoveTourSelection(ctx, c.ID, sel.ID)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestService_SetCancelled(t *testing.T) {
	ctx := context.Background()
	svc, mem := newTestService(t)
	c := createCharge(t, svc, "100", "0")

	b, err := svc.SetCancelled(ctx, c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusCancelled, b.Status)
	assert.Equal(t, "Cancelled", storedStatus(t, mem, c.ID))

	b, err = svc.SetCancelled(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, b.Status)
}

func TestService_BreakdownIgnoresStaleStoredStatus(t *testing.T) {
	// GIVEN: A stored status that was written by something else
	// WHEN: Reading the breakdown
	// THEN: It is recomputed from the records

	ctx := context.Background()
	svc, mem := newTestService(t)
	c := createCharge(t, svc, "100", "0")

	stale, err := mem.GetCharge(ctx, c.ID)
	require.NoError(t, err)
	stale.Status = "Fully Paid"
	require.NoError(t, mem.UpdateCharge(ctx, stale))

	b, err := svc.Breakdown(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, charge.StatusPending, b.Status)
}

func TestService_RecordPaymentValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	c := createCharge(t, svc, "100", "0")

	_, _, err := svc.RecordPayment(ctx, charge.PaymentRequest{ChargeID: c.ID, Category: generic.CategoryTrip, Amount: d("0")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, _, err = svc.RecordPayment(ctx, charge.PaymentRequest{ChargeID: c.ID, Category: "tips", Amount: d("10")})
	assert.ErrorIs(t, err, generic.ErrInvalidInput)

	_, _, err = svc.RecordPayment(ctx, charge.PaymentRequest{ChargeID: "missing", Category: generic.CategoryTrip, Amount: d("10")})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestService_RejectsSubCentAmounts(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, _, err := svc.CreateCharge(ctx, charge.CreateChargeRequest{TripID: "trip-1", CustomerID: "cust-1", Fare: d("100.001")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)
	_, _, err = svc.CreateCharge(ctx, charge.CreateChargeRequest{TripID: "trip-1", CustomerID: "cust-1", Fare: d("100"), Discount: d("0.005")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	c := createCharge(t, svc, "100", "0")
	_, _, err = svc.AddTourSelection(ctx, c.ID, "tour-1", d("19.999"))
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, _, err = svc.RecordPayment(ctx, charge.PaymentRequest{ChargeID: c.ID, Category: generic.CategoryTrip, Amount: d("33.333")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	p, _, err := svc.RecordPayment(ctx, charge.PaymentRequest{ChargeID: c.ID, Category: generic.CategoryTrip, Amount: d("40")})
	require.NoError(t, err)
	_, _, err = svc.UpdatePayment(ctx, p.ID, charge.PaymentRequest{Category: generic.CategoryTrip, Amount: d("40.004")})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	payments, err := svc.Payments(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assertMoney(t, "40", payments[0].Amount)
	tours, err := svc.TourSelections(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, tours)
}
