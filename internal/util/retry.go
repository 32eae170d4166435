package util

import (
	"context"
	"time"
)

// Retry runs fn until it succeeds, up to maxAttempts times, doubling the
// wait between attempts from baseDelay. A cancelled ctx aborts the backoff
// wait and returns ctx.Err(); otherwise the last attempt's error comes back.
// Gather jobs wrap provider calls in this to ride out transient API errors.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}

	return lastErr
}
