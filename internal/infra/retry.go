package infra

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times, sleeping backoff between attempts.
// It stops early when fn succeeds, when retryable reports false for the
// returned error, or when ctx is done. The last error is returned.
func Retry(ctx context.Context, attempts int, backoff time.Duration, retryable func(error) bool, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
