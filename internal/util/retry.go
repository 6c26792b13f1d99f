package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times, doubling the wait after each
// failure starting from baseDelay. An error for which retryable returns false
// is returned at once; a nil retryable retries everything. Cancellation of
// ctx ends the wait between attempts.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	return err
}
