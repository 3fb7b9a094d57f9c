package utils

import (
	"context"
	"fmt"
	"time"
)

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *Logger

	// Sleep defaults to a context-aware timer; tests replace it.
	Sleep SleepFunc
}

// Delay returns the wait before the given retry (1-based). The delay doubles
// with every attempt, so each retry waits strictly longer than the last.
func (r *RetryConfig) Delay(retry int) time.Duration {
	d := r.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < retry; i++ {
		d *= 2
	}
	return d
}

// Attempts returns how many times Do calls fn before giving up.
func (r *RetryConfig) Attempts() int {
	if r.MaxAttempts < 1 {
		return 1
	}
	return r.MaxAttempts
}

// Do executes fn with exponential back-off retry logic. fn receives the
// 1-based attempt number. The last error is wrapped in the returned error.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(attempt int) error) error {
	attempts := r.Attempts()
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if attempt < attempts {
			delay := r.Delay(attempt)
			if r.Logger != nil {
				r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
					operationName, attempt, attempts, lastErr, delay)
			}
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, lastErr)
			}
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// SleepContext blocks for d unless ctx finishes first.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
