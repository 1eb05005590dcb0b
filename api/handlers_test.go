/*
handlers_test.go - Tests for the HTTP API

Tests for:
- Credit lifecycle over HTTP (issue, apply, reverse, refund, verify)
- Charge breakdown, installment plan and due scan endpoints
- Bill payment with recurrence
- Error to status mapping
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-ledger/billing"
	"github.com/warp/trip-ledger/charge"
	"github.com/warp/trip-ledger/credit"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/generic/store"
	"github.com/warp/trip-ledger/installment"
)

func newTestRouter(t *testing.T) (http.Handler, *Handler) {
	t.Helper()
	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC) }
	retry := generic.RetryPolicy{Attempts: 1}

	h := NewHandler(
		credit.NewManager(mem, credit.WithLogger(logger), credit.WithClock(clock), credit.WithRetryPolicy(retry)),
		charge.NewService(mem, charge.WithLogger(logger), charge.WithClock(clock), charge.WithRetryPolicy(retry)),
		installment.NewScheduler(mem, installment.WithLogger(logger), installment.WithClock(clock), installment.WithRetryPolicy(retry)),
		billing.NewRegenerator(mem, billing.WithLogger(logger), billing.WithClock(clock), billing.WithRetryPolicy(retry)),
		logger,
	)
	return NewRouter(h, RouterOptions{AllowedOrigins: []string{"http://localhost:5173"}, Logger: logger}), h
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// CREDITS
// =============================================================================

func TestCreditLifecycle(t *testing.T) {
	router, _ := newTestRouter(t)

	// GIVEN: A credit of 300
	rec := do(t, router, "POST", "/api/credits", `{"customer_id":"cust-1","amount":"300.00","note":"cancelled trip"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decodeBody[CreditDTO](t, rec)
	assert.Equal(t, "available", c.Status)
	assert.Equal(t, "any", c.UseType)

	// WHEN: 120 is applied to a trip
	rec = do(t, router, "POST", "/api/credits/"+c.ID+"/apply", `{"trip_id":"trip-9","amount":120,"actor":"ops"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	applied := decodeBody[MovementDTO](t, rec)

	// THEN: Balance drops and a link is created
	assert.True(t, dec("180").Equal(applied.Credit.AvailableBalance))
	assert.Equal(t, "partially_used", applied.Credit.Status)
	require.NotNil(t, applied.Link)
	assert.Equal(t, "trip-9", applied.Link.TripID)
	assert.Equal(t, int64(1), applied.Entry.Sequence)

	// WHEN: The application is reversed, then the full credit refunded
	rec = do(t, router, "POST", "/api/credit-links/"+applied.Link.ID+"/reverse", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, dec("300").Equal(decodeBody[MovementDTO](t, rec).Credit.AvailableBalance))

	rec = do(t, router, "POST", "/api/credits/"+c.ID+"/refund", `{"amount":"300","reason":"customer request"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "refunded", decodeBody[MovementDTO](t, rec).Credit.Status)

	// THEN: The ledger reconstructs
	rec = do(t, router, "GET", "/api/credits/"+c.ID+"/verify", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decodeBody[VerifyDTO](t, rec)
	assert.True(t, report.Consistent)
	assert.Equal(t, 3, report.Entries)
	assert.True(t, report.Derived.IsZero())

	rec = do(t, router, "GET", "/api/credits/"+c.ID+"/entries", "")
	entries := decodeBody[[]CreditEntryDTO](t, rec)
	require.Len(t, entries, 3)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Sequence)
	}

	rec = do(t, router, "GET", "/api/customers/cust-1/credits", "")
	assert.Len(t, decodeBody[[]CreditDTO](t, rec), 1)
}

func TestApplyCredit_Rejections(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, "POST", "/api/credits", `{"customer_id":"cust-1","amount":"50"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[CreditDTO](t, rec).ID

	t.Run("insufficient balance", func(t *testing.T) {
		rec := do(t, router, "POST", "/api/credits/"+id+"/apply", `{"trip_id":"trip-1","amount":"80"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "insufficient_balance", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		rec := do(t, router, "POST", "/api/credits/"+id+"/apply", `{"trip_id":"trip-1","amount":"0"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "invalid_amount", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("sub-cent amount", func(t *testing.T) {
		rec := do(t, router, "POST", "/api/credits/"+id+"/apply", `{"trip_id":"trip-1","amount":"0.005"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "invalid_amount", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("unknown credit", func(t *testing.T) {
		rec := do(t, router, "POST", "/api/credits/nope/apply", `{"trip_id":"trip-1","amount":"10"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(t, router, "POST", "/api/credits/"+id+"/apply", `{"trip_id":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_json", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := do(t, router, "POST", "/api/credits/"+id+"/apply", `{"trip":"trip-1","amount":"10"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	// Nothing above changed the credit.
	rec = do(t, router, "GET", "/api/credits/"+id, "")
	assert.True(t, dec("50").Equal(decodeBody[CreditDTO](t, rec).AvailableBalance))
}

func TestPreviewCredit_Restricted(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, "POST", "/api/credits", `{"customer_id":"cust-1","amount":"100","use_type":"add_ons"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[CreditDTO](t, rec).ID

	rec = do(t, router, "POST", "/api/credits/"+id+"/preview", `{"amount":"150","category":"trip"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	preview := decodeBody[PreviewDTO](t, rec)
	assert.False(t, preview.Permitted)
	assert.NotEmpty(t, preview.Reason)

	rec = do(t, router, "POST", "/api/credits/"+id+"/preview", `{"amount":"150","category":"add_ons"}`)
	preview = decodeBody[PreviewDTO](t, rec)
	assert.True(t, preview.Permitted)
	assert.Equal(t, "shortfall", preview.Calculation.Outcome)
	assert.True(t, dec("50").Equal(preview.Calculation.Shortfall))
}

func TestCalculate(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, "POST", "/api/calculator", `{"balance":"100","charge":"150"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	calc := decodeBody[CalculationDTO](t, rec)
	assert.True(t, dec("100").Equal(calc.Applied))
	assert.True(t, dec("50").Equal(calc.Shortfall))
	assert.True(t, calc.Surplus.IsZero())
	assert.Equal(t, "shortfall", calc.Outcome)

	rec = do(t, router, "POST", "/api/calculator", `{"balance":"-1","charge":"150"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// CHARGES AND INSTALLMENTS
// =============================================================================

func TestChargeBreakdownAndInstallments(t *testing.T) {
	router, _ := newTestRouter(t)

	// GIVEN: Fare 200 with 50 discount and an 80 tour
	rec := do(t, router, "POST", "/api/charges", `{"trip_id":"trip-1","customer_id":"cust-1","fare":"200","discount":"50"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[ChargeDetailDTO](t, rec)
	id := created.Charge.ID
	assert.Equal(t, charge.StatusPending, created.Breakdown.Status)

	rec = do(t, router, "POST", "/api/charges/"+id+"/tours", `{"tour_id":"tour-volcano","price":"80"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// WHEN: The trip portion is paid
	rec = do(t, router, "POST", "/api/charges/"+id+"/payments", `{"category":"trip","amount":"150","date":"2025-05-20","method":"card"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	paid := decodeBody[PaymentResultDTO](t, rec)

	// THEN: Trip is settled, add-ons are not
	assert.Equal(t, charge.StatusTripPaidAddOnsPending, paid.Breakdown.Status)
	assert.True(t, dec("80").Equal(paid.Breakdown.Outstanding))

	rec = do(t, router, "GET", "/api/charges/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[ChargeDetailDTO](t, rec)
	assert.Equal(t, "Trip Paid / Add-ons Pending", detail.Charge.Status)
	assert.Contains(t, rec.Body.String(), `"status":"Trip Paid / Add-ons Pending"`)

	// WHEN: A plan exceeding the owed total is submitted
	rec = do(t, router, "PUT", "/api/charges/"+id+"/installments",
		`{"installments":[{"amount":"131","due_date":"2025-06-03"},{"amount":"100","due_date":"2025-07-01"}]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "plan_exceeds_owed", decodeBody[ErrorResponse](t, rec).Code)

	rec = do(t, router, "PUT", "/api/charges/"+id+"/installments",
		`{"installments":[{"amount":"115","due_date":"2025-06-03"},{"amount":"115","due_date":"2025-07-01"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	plan := decodeBody[[]InstallmentDTO](t, rec)
	require.Len(t, plan, 2)
	assert.Equal(t, 2, plan[0].Total)

	// THEN: A scan on June 4 finds the first installment overdue, once
	rec = do(t, router, "POST", "/api/installments/scan", `{"today":"2025-06-04","window":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeBody[DueReportDTO](t, rec)
	assert.Len(t, report.Overdue, 1)
	assert.Empty(t, report.DueSoon)
	assert.Equal(t, 1, report.AlertsFired)

	rec = do(t, router, "POST", "/api/installments/scan", `{"today":"2025-06-04","window":5}`)
	assert.Equal(t, 0, decodeBody[DueReportDTO](t, rec).AlertsFired)

	// Paying twice is rejected.
	rec = do(t, router, "POST", "/api/installments/"+plan[0].ID+"/pay", `{"amount":"115","method":"transfer","paid_on":"2025-06-05"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "paid", decodeBody[InstallmentDTO](t, rec).Status)

	rec = do(t, router, "POST", "/api/installments/"+plan[0].ID+"/pay", `{"amount":"115"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "already_paid", decodeBody[ErrorResponse](t, rec).Code)
}

func TestCancelCharge(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := do(t, router, "POST", "/api/charges", `{"trip_id":"trip-1","customer_id":"cust-1","fare":"200"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[ChargeDetailDTO](t, rec).Charge.ID

	rec = do(t, router, "POST", "/api/charges/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, charge.StatusCancelled, decodeBody[BreakdownDTO](t, rec).Status)

	rec = do(t, router, "POST", "/api/charges/"+id+"/cancel", `{"cancelled":false}`)
	assert.Equal(t, charge.StatusPending, decodeBody[BreakdownDTO](t, rec).Status)
}

// =============================================================================
// BILLS
// =============================================================================

func TestPayBill_RegeneratesRecurring(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, "POST", "/api/bills",
		`{"payee":"Bus Depot","category":"rent","amount":"1000","due_date":"2024-01-31","recurring":true,"frequency":"monthly"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bill := decodeBody[BillDTO](t, rec)

	rec = do(t, router, "POST", "/api/bills/"+bill.ID+"/pay", `{"paid_on":"2024-02-01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[PayBillDTO](t, rec)
	assert.Equal(t, "paid", res.Paid.Status)
	require.NotNil(t, res.Successor)
	assert.Equal(t, generic.NewDate(2024, time.February, 29), res.Successor.DueDate)
	assert.Equal(t, bill.ID, res.Successor.PreviousBillID)
	assert.Nil(t, res.Regeneration)

	rec = do(t, router, "POST", "/api/bills/"+bill.ID+"/pay", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, router, "GET", "/api/bills?status=pending", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]BillDTO](t, rec), 1)

	rec = do(t, router, "GET", "/api/bills?status=overdue", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

// =============================================================================
// INFRASTRUCTURE
// =============================================================================

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{generic.NotFound("credit", "c1"), http.StatusNotFound, "not_found"},
		{fmt.Errorf("apply: %w", generic.InvalidAmount("amount", "bad")), http.StatusUnprocessableEntity, "invalid_amount"},
		{generic.InvalidInput("trip_id", "is required"), http.StatusUnprocessableEntity, "invalid_input"},
		{&generic.InsufficientBalanceError{}, http.StatusUnprocessableEntity, "insufficient_balance"},
		{generic.ErrPlanExceedsOwed, http.StatusUnprocessableEntity, "plan_exceeds_owed"},
		{fmt.Errorf("bill b1: %w", generic.ErrAlreadyPaid), http.StatusUnprocessableEntity, "already_paid"},
		{fmt.Errorf("apply: %w", generic.ErrConcurrentModification), http.StatusConflict, "conflict"},
		{&generic.TransientError{Op: "update credit", Err: errors.New("database is locked")}, http.StatusServiceUnavailable, "unavailable"},
		{&generic.ConsistencyError{CreditID: "c1"}, http.StatusInternalServerError, "consistency_violation"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		status, code := StatusFor(tc.err)
		assert.Equal(t, tc.status, status, tc.err.Error())
		assert.Equal(t, tc.code, code, tc.err.Error())
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	router, h := newTestRouter(t)

	rec := do(t, router, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	h.Health = func(context.Context) error { return errors.New("connection refused") }
	rec = do(t, router, "GET", "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, router, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tripledger_http_request_duration_seconds")
	assert.Contains(t, rec.Body.String(), `route="/healthz"`)
}
