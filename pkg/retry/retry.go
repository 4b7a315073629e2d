// Package retry re-runs an operation with capped exponential backoff.
//
// Two policies are used by the service: Conflicts redoes an optimistic
// read-modify-write cycle after a version conflict, and Startup waits for a
// database or Redis that is still coming up.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as final: Do returns it (unwrapped) without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Policy decides how often and how long to wait between attempts.
type Policy struct {
	// Attempts is the total number of calls, the first one included.
	Attempts int
	// Base is the wait before the second attempt; each later wait doubles
	// up to Cap.
	Base time.Duration
	Cap  time.Duration
	// Jitter spreads each wait by up to ±Jitter of its length (0..1).
	Jitter float64
	// Retry selects the errors worth another attempt. Nil retries every
	// error that is not Permanent.
	Retry func(error) bool
	// OnRetry is called before sleeping.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx ends. attempt starts at 1. When ctx ends while
// waiting, the last error from fn is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		last = err

		if p.Retry != nil && !p.Retry(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
	return last
}

// Backoff is the wait after the given failed attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	wait := p.Base
	for i := 1; i < attempt && (p.Cap <= 0 || wait < p.Cap); i++ {
		wait *= 2
	}
	if p.Cap > 0 && wait > p.Cap {
		wait = p.Cap
	}
	if p.Jitter > 0 && wait > 0 {
		spread := float64(wait) * p.Jitter
		wait += time.Duration(spread * (2*rand.Float64() - 1))
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// Conflicts retries only errors accepted by isConflict, with short waits:
// the competing writer has already committed by the time we see the conflict.
func Conflicts(attempts int, isConflict func(error) bool) Policy {
	return Policy{
		Attempts: attempts,
		Base:     5 * time.Millisecond,
		Cap:      200 * time.Millisecond,
		Jitter:   0.5,
		Retry:    isConflict,
	}
}

// Startup waits for a dependency for roughly half a minute in total.
func Startup(onRetry func(attempt int, err error, wait time.Duration)) Policy {
	return Policy{
		Attempts: 6,
		Base:     500 * time.Millisecond,
		Cap:      8 * time.Second,
		Jitter:   0.1,
		OnRetry:  onRetry,
	}
}
