// Package retry wraps fallible operations with bounded attempts and
// exponential backoff.
//
// The executor is reused at two levels: per-phase (e.g. a service start
// action, 3 attempts) and per-trial (the whole phase sequence, bounded by
// the configured retry budget). Operations must be idempotent-safe to
// re-invoke; trial-level callers discharge that by running full cleanup
// between attempts.
package retry

import (
	"context"
	"time"

	"github.com/oranbench/gridrunner/trialerr"
)

// Operation is a fallible unit of work. It is re-invoked on failure and
// must tolerate a half-completed prior attempt.
type Operation func(ctx context.Context) error

// Result reports the outcome of an Execute call.
type Result struct {
	// Attempts is the number of times the operation was invoked.
	Attempts int
	// Err is the last error on exhaustion, nil on success.
	Err error
}

// Succeeded reports whether some attempt completed without error.
func (r Result) Succeeded() bool { return r.Err == nil }

// Sleeper abstracts backoff sleeping for tests.
// The default implementation waits on a timer or context cancellation.
type Sleeper func(ctx context.Context, d time.Duration) error

// WallClockSleep is the production Sleeper.
func WallClockSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Executor runs operations with bounded attempts and doubling backoff.
// The zero value is not usable; construct with New.
type Executor struct {
	sleep Sleeper
	// OnRetry, when set, is called before each re-attempt with the
	// upcoming attempt number and the previous error.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// New creates an Executor with the production sleeper.
func New() *Executor {
	return &Executor{sleep: WallClockSleep}
}

// NewWithSleeper creates an Executor with a custom sleeper (for testing).
func NewWithSleeper(sleep Sleeper) *Executor {
	return &Executor{sleep: sleep}
}

// Execute runs op up to maxAttempts times. On failure it sleeps the current
// delay, doubles it, and retries. Unbounded delay growth is acceptable since
// maxAttempts bounds total attempts. Non-retriable failures (preflight,
// cancellation) stop immediately.
func (e *Executor) Execute(ctx context.Context, op Operation, maxAttempts int, initialDelay time.Duration) Result {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := initialDelay
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return Result{Attempts: attempt}
		}
		if !trialerr.IsRetriable(lastErr) {
			return Result{Attempts: attempt, Err: lastErr}
		}
		if attempt == maxAttempts {
			break
		}

		if e.OnRetry != nil {
			e.OnRetry(attempt+1, delay, lastErr)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return Result{
				Attempts: attempt,
				Err:      trialerr.Wrap(trialerr.ErrCanceled, "backoff", err),
			}
		}
		delay *= 2
	}

	return Result{Attempts: maxAttempts, Err: lastErr}
}

// ExecuteFixed runs op up to maxAttempts times with a fixed delay between
// attempts (no doubling). Used for trial-level retries where cleanup between
// attempts dominates the cadence.
func (e *Executor) ExecuteFixed(ctx context.Context, op Operation, maxAttempts int, delay time.Duration) Result {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return Result{Attempts: attempt}
		}
		if !trialerr.IsRetriable(lastErr) {
			return Result{Attempts: attempt, Err: lastErr}
		}
		if attempt == maxAttempts {
			break
		}

		if e.OnRetry != nil {
			e.OnRetry(attempt+1, delay, lastErr)
		}
		if err := e.sleep(ctx, delay); err != nil {
			return Result{
				Attempts: attempt,
				Err:      trialerr.Wrap(trialerr.ErrCanceled, "backoff", err),
			}
		}
	}

	return Result{Attempts: maxAttempts, Err: lastErr}
}
