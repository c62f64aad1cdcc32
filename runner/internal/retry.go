package internal

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff
// (100ms, 200ms, 400ms, ...). Returns the last error if all attempts fail,
// or ctx.Err() if ctx is done while waiting for the next attempt.
//
// Only Docker API calls go through Retry: a failed task is never retried.
func Retry(ctx context.Context, maxAttempts int, fn func() error) error {
	_, err := RetryResult(ctx, maxAttempts, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryResult is like Retry but for functions that return a value.
func RetryResult[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var result T
	var err error
	for i := 0; i < maxAttempts; i++ {
		if result, err = fn(); err == nil {
			return result, nil
		}
		if i < maxAttempts-1 {
			select {
			case <-time.After(time.Duration(100*(1<<i)) * time.Millisecond):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}
	}
	return result, err
}
