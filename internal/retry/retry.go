// Package retry provides a deadline-bounded executor with exponential
// backoff. Every upstream RPC and the session start/stop paths run through
// it.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults and floors for the backoff parameters.
const (
	DefaultTimeout     = 120 * time.Second
	DefaultMaxAttempts = 5

	minInitialBackoff = 100 * time.Millisecond
	minMaxBackoff     = time.Second
)

// HookArgs describes a failed attempt to the attempt hook. The record is
// valid only for the duration of the hook invocation.
type HookArgs struct {
	Attempt  int
	Backoff  time.Duration
	Err      error
	Deadline time.Time
}

// Hook runs after a failed attempt and before the backoff sleep, bounded by
// the remaining deadline. Hook errors propagate to the caller like any other
// failure of the current attempt.
type Hook func(ctx context.Context, args HookArgs) error

// Options configures one executor run.
type Options struct {
	// Timeout is the total budget across all attempts. Zero means
	// DefaultTimeout; the absolute deadline is computed once at entry.
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// Retryable reports whether an error is worth another attempt. Nil
	// retries every error. Non-retryable errors surface immediately,
	// bypassing the hook and the sleep.
	Retryable func(error) bool

	// AttemptHook is invoked between a failed attempt and its backoff
	// sleep.
	AttemptHook Hook

	// Now and Sleep exist so tests can drive a fake clock. Sleep must
	// honor ctx cancellation.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) normalized() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.InitialBackoff < minInitialBackoff {
		o.InitialBackoff = minInitialBackoff
	}
	if o.MaxBackoff < minMaxBackoff {
		o.MaxBackoff = minMaxBackoff
	}
	if o.Multiplier < 1.0 {
		o.Multiplier = 1.0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
	return o
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get invokes fn until it succeeds, the attempts are exhausted, or the
// deadline expires. Each attempt receives a context bounded by the remaining
// budget. On exhaustion, or when the deadline expires right after a failed
// attempt, that attempt's error is returned rather than a synthesized
// timeout. An attempt that cannot start because the budget is spent fails
// with a wrapped context.DeadlineExceeded, and that error is what the
// caller then sees.
func Get[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	opts = opts.normalized()
	deadline := opts.Now().Add(opts.Timeout)
	backoff := opts.InitialBackoff

	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		var result T
		var err error
		if remaining := deadline.Sub(opts.Now()); remaining <= 0 {
			// The attempt itself times out before it can run.
			err = fmt.Errorf("timeout before executing attempt %d/%d: %w", attempt, opts.MaxAttempts, context.DeadlineExceeded)
		} else {
			log.Debug().Int("attempt", attempt).Int("max_attempts", opts.MaxAttempts).Msg("Executing attempt")
			attemptCtx, cancel := context.WithDeadline(ctx, deadline)
			result, err = fn(attemptCtx)
			cancel()
		}
		if err == nil {
			return result, nil
		}

		if opts.Retryable != nil && !opts.Retryable(err) {
			log.Error().Err(err).Int("attempt", attempt).Msg("Non-retryable error")
			return zero, err
		}
		lastErr = err

		if attempt >= opts.MaxAttempts {
			log.Error().Err(lastErr).Int("attempts", opts.MaxAttempts).Msg("Exhausted attempts")
			return zero, lastErr
		}

		remaining := deadline.Sub(opts.Now())
		if remaining <= 0 {
			log.Error().Err(lastErr).Int("attempt", attempt).Msg("Timeout after attempt")
			return zero, lastErr
		}

		log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", backoff).Msg("Attempt failed, backing off")

		if opts.AttemptHook != nil {
			hookCtx, cancel := context.WithDeadline(ctx, deadline)
			err := opts.AttemptHook(hookCtx, HookArgs{Attempt: attempt, Backoff: backoff, Err: lastErr, Deadline: deadline})
			cancel()
			if err != nil {
				return zero, err
			}
			remaining = deadline.Sub(opts.Now())
		}

		sleepFor := backoff
		if remaining < sleepFor {
			sleepFor = remaining
		}
		if sleepFor <= 0 {
			log.Error().Err(lastErr).Int("attempt", attempt).Msg("Timeout during backoff")
			return zero, lastErr
		}
		if err := opts.Sleep(ctx, sleepFor); err != nil {
			return zero, err
		}

		backoff = time.Duration(float64(backoff) * opts.Multiplier)
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}

	if lastErr != nil {
		return zero, lastErr
	}
	return zero, fmt.Errorf("deadline exceeded without executing any attempt: %w", context.DeadlineExceeded)
}

// Execute is Get for callables that return no value.
func Execute(ctx context.Context, opts Options, fn func(ctx context.Context) error) error {
	_, err := Get(ctx, opts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
