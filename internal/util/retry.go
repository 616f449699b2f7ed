package util

import (
	"context"
	"time"
)

// Retry runs fn up to maxAttempts times, doubling the delay between
// attempts from baseDelay. It returns nil on the first success, the last
// error otherwise, and ctx.Err() if the context ends during a backoff
// sleep.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		// No sleep after the final attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}
