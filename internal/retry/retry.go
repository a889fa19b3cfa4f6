// Package retry runs operations with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"
)

// MaxDelay caps every computed backoff.
const MaxDelay = 60 * time.Second

// Delay returns base * 2^attempt, capped at MaxDelay. A negative attempt
// returns base.
func Delay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		return base
	}
	// 2^30 seconds is far past MaxDelay; stop shifting before overflow.
	if attempt > 30 {
		return MaxDelay
	}
	d := base * time.Duration(1<<attempt)
	if d > MaxDelay || d <= 0 {
		return MaxDelay
	}
	return d
}

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn up to attempts times, sleeping Delay(base, n) between calls.
// It stops early on success, on a Permanent error, or when ctx is done, and
// returns the last error seen.
func Do(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for n := 0; n < attempts; n++ {
		if n > 0 {
			timer := time.NewTimer(Delay(base, n-1))
			select {
			case <-ctx.Done():
				timer.Stop()
				if err != nil {
					return err
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		var p permanentError
		if errors.As(err, &p) {
			return p.err
		}
	}
	return err
}
