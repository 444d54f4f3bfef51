package adapter

import (
	"context"
	"fmt"
	"time"
)

// RetryBase is the delay before the first retry. It doubles per retry.
const RetryBase = 500 * time.Millisecond

// Retry runs fn up to 1+retries times with exponential backoff between
// attempts. It stops early when permanent(err) is true. name prefixes the
// returned errors.
func Retry(ctx context.Context, name string, retries int, permanent func(error) bool, fn func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * RetryBase
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if permanent != nil && permanent(lastErr) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
