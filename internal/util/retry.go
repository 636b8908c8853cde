package util

import (
	"context"
	"time"
)

// RetryIf calls fn up to maxAttempts times with exponential backoff starting
// at baseDelay. It returns nil on the first successful call, gives up
// immediately when retryable reports false for the returned error, and
// otherwise returns the last error. The function respects context
// cancellation between retries.
func RetryIf(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error, retryable func(error) bool) error {
	var err error
	delay := baseDelay

	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
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
