// Package retry decides how a failed task attempt is retried: exponential
// backoff with jitter, capped delay, bounded attempt count.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Jitter spread applied to every delay, as a fraction of the raw interval
const randomizationFactor = 0.25

// Policy holds the retry tuning for one source
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// NewBackOff returns a fresh backoff schedule for a single task: exponential
// with factor 2 starting at BaseDelay, jittered, capped at MaxDelay. The
// attempt bound is enforced by the caller counting attempts, not by the
// schedule, so MaxElapsedTime is disabled.
func (p Policy) NewBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = randomizationFactor
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// WithMaxAttempts returns a copy of the policy with a per-source attempt
// override. Non-positive values keep the policy's own bound.
func (p Policy) WithMaxAttempts(maxAttempts int) Policy {
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	return p
}

// Wait blocks for the given delay or until the context is done, whichever
// comes first. Returns the context error on cancellation.
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
