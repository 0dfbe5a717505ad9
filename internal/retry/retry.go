// Package retry implements bounded retries with exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// maxDelay caps the backoff between attempts regardless of how far the
// exponential schedule has grown.
const maxDelay = 30 * time.Second

// PermanentError marks an error that must not be retried. Do unwraps it
// before returning so callers match on the underlying error.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do stops immediately instead of retrying.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do invokes fn until it succeeds, returns a permanent error, the context
// is cancelled, or maxAttempts calls have been made. The delay before the
// n-th retry is baseDelay doubled n times with ±25% jitter, capped at
// maxDelay. The error from the last attempt is returned when all attempts
// fail.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		var perm *PermanentError
		if errors.As(lastErr, &perm) {
			return perm.Err
		}
		if attempt >= maxAttempts {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(baseDelay, attempt)):
		}
	}
}

// backoff computes the jittered delay before the given retry attempt
// (attempt 1 = first retry).
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	// Spread the delay across [0.75d, 1.25d] so synchronized callers
	// don't hammer the upstream in lockstep.
	jitter := d / 4
	if jitter > 0 {
		d = d - jitter + rand.N(2*jitter)
	}
	return d
}
