package auth

import (
	"context"
	"time"
)

const (
	retryAttempts = 3
	retryBaseWait = 100 * time.Millisecond
)

// RetryWithBackoff runs fn up to three times with exponential backoff.
// Only upstream auth failures are retried; config and credential errors
// fail immediately since retrying cannot fix them.
func RetryWithBackoff(ctx context.Context, fn func() (Result, error)) (Result, error) {
	var lastErr error
	wait := retryBaseWait
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result{}, WrapError(KindUpstreamAuth, "retry aborted", ctx.Err())
			case <-timer.C:
			}
			wait *= 2
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !Retryable(err) {
			return Result{}, err
		}
		lastErr = err
	}
	return Result{}, lastErr
}
