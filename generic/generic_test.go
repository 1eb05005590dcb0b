package generic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// RETRY
// =============================================================================

func TestRetry_TransientThenSuccess(t *testing.T) {
	// GIVEN: An operation failing twice with a transient error
	calls, retries := 0, 0
	fn := func(context.Context) error {
		calls++
		if calls < 3 {
			return &TransientError{Op: "update credit", Err: errors.New("database is locked")}
		}
		return nil
	}

	// WHEN: Retried with three attempts
	err := Retry(context.Background(), RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}, func(int, error) { retries++ }, fn)

	// THEN: The third attempt succeeds
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
}

func TestRetry_BusinessErrorsAreNotRetried(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 5}, nil, func(context.Context) error {
		calls++
		return InvalidAmount("amount", "must be positive")
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, 1, calls)
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{Attempts: 2, BaseDelay: time.Millisecond}, nil, func(context.Context) error {
		calls++
		return fmt.Errorf("apply: %w", ErrConcurrentModification)
	})
	assert.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, DefaultRetryPolicy(), nil, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestErrorClassification(t *testing.T) {
	transient := &TransientError{Op: "insert entry", Err: errors.New("busy")}
	assert.True(t, IsRetryable(transient))
	assert.ErrorIs(t, transient, ErrTransientStore)
	assert.True(t, IsRetryable(fmt.Errorf("wrap: %w", ErrConcurrentModification)))
	assert.False(t, IsRetryable(ErrInsufficientBalance))

	assert.True(t, IsClientError(&InsufficientBalanceError{}))
	assert.True(t, IsClientError(InvalidInput("trip_id", "is required")))
	assert.True(t, IsClientError(fmt.Errorf("bill b1: %w", ErrAlreadyPaid)))
	assert.False(t, IsClientError(&ConsistencyError{CreditID: "c1"}))

	assert.True(t, IsNotFound(fmt.Errorf("get: %w", NotFound("credit", "c1"))))
	assert.EqualError(t, NotFound("bill", "b9"), "bill b9 not found")
}

func TestValidMoney(t *testing.T) {
	for _, ok := range []string{"0", "1", "0.01", "-12.5", "100.00", "7.100"} {
		assert.NoError(t, ValidMoney("amount", decimal.RequireFromString(ok)), ok)
	}
	for _, bad := range []string{"0.001", "-0.005", "99.999"} {
		err := ValidMoney("amount", decimal.RequireFromString(bad))
		assert.ErrorIs(t, err, ErrInvalidAmount, bad)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "amount", ve.Field)
	}
}

// =============================================================================
// DATES
// =============================================================================

func TestDate_AddMonthsClampsMonthEnd(t *testing.T) {
	assert.Equal(t, NewDate(2024, 2, 29), NewDate(2024, 1, 31).AddMonths(1))
	assert.Equal(t, NewDate(2025, 2, 28), NewDate(2025, 1, 31).AddMonths(1))
	assert.Equal(t, NewDate(2026, 1, 31), NewDate(2025, 12, 31).AddMonths(1))
	assert.Equal(t, NewDate(2025, 2, 28), NewDate(2024, 2, 29).AddMonths(12))
	assert.Equal(t, NewDate(2025, 4, 15), NewDate(2025, 3, 15).AddMonths(1))
}

func TestDate_DaysBetween(t *testing.T) {
	assert.Equal(t, 3, DaysBetween(NewDate(2025, 6, 1), NewDate(2025, 6, 4)))
	assert.Equal(t, -3, DaysBetween(NewDate(2025, 6, 4), NewDate(2025, 6, 1)))
	assert.Equal(t, 1, DaysBetween(NewDate(2024, 2, 28), NewDate(2024, 2, 29)))
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		Due  Date  `json:"due"`
		Paid *Date `json:"paid,omitempty"`
	}

	b, err := json.Marshal(wrapper{Due: NewDate(2025, 6, 3)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2025-06-03"}`, string(b))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"due":"","paid":"2025-06-05"}`), &w))
	assert.True(t, w.Due.IsZero())
	require.NotNil(t, w.Paid)
	assert.Equal(t, NewDate(2025, 6, 5), *w.Paid)

	assert.Error(t, json.Unmarshal([]byte(`{"due":"06/03/2025"}`), &w))
}
