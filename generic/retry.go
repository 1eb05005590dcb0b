package generic

import (
	"context"
	"time"
)

// RetryPolicy bounds retries of transient store failures.
type RetryPolicy struct {
	Attempts  int           // total attempts including the first
	BaseDelay time.Duration // doubled after every failed attempt
	MaxDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Retry runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. onRetry, if set, is called before each sleep.
// Business-rule and validation errors are returned immediately.
func Retry(ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error), fn func(context.Context) error) error {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt >= p.Attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
