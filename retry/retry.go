// Package retry re-runs a failing operation with exponential backoff.
//
// It composes over any call; endpoints never retry on their own.
//
//	attempt 1 ──fail──► wait InitialDelay
//	attempt 2 ──fail──► wait min(InitialDelay×Multiplier, MaxDelay)
//	attempt 3 ──fail──► wait min(InitialDelay×Multiplier², MaxDelay) ...
package retry

import (
	"context"
	"time"
)

// Options controls the retry schedule. Zero fields take the defaults.
type Options struct {
	MaxRetries        int           // retries after the first attempt, default 3, negative for none
	InitialDelay      time.Duration // default 1s
	MaxDelay          time.Duration // default 10s
	BackoffMultiplier float64       // default 2
	// ShouldRetry decides whether the failure of the given attempt (1-based) is worth
	// another try. Nil retries every error.
	ShouldRetry func(err error, attempt int) bool
}

const (
	DefaultMaxRetries        = 3
	DefaultInitialDelay      = time.Second
	DefaultMaxDelay          = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
)

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialDelay == 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.BackoffMultiplier == 0 {
		o.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return o
}

// Delays returns the waits between attempts for these options, in order. The sequence is
// non-decreasing and never exceeds MaxDelay.
func (o Options) Delays() []time.Duration {
	o = o.withDefaults()
	if o.MaxRetries < 0 {
		return nil
	}
	delays := make([]time.Duration, o.MaxRetries)
	delay := o.InitialDelay
	for i := range delays {
		if delay > o.MaxDelay {
			delay = o.MaxDelay
		}
		delays[i] = delay
		delay = time.Duration(float64(delay) * o.BackoffMultiplier)
	}
	return delays
}

// Do runs op until it succeeds, the retries are exhausted, ShouldRetry refuses, or ctx is
// done. On failure the last error observed from op is returned; if ctx ends while waiting,
// ctx.Err() is returned instead.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()
	delays := opts.Delays()

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}

		if attempt > len(delays) {
			return result, err
		}
		if opts.ShouldRetry != nil && !opts.ShouldRetry(err, attempt) {
			return result, err
		}

		timer := time.NewTimer(delays[attempt-1])
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	_, err := Do(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	}, opts)
	return err
}
