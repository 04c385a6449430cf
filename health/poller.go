// Package health provides a bounded-time polling primitive for readiness
// predicates.
//
// Poll evaluates a side-effect-free boolean predicate until it succeeds or a
// timeout elapses. Retry policy deliberately lives elsewhere (the retry
// package): Poll never retries a failed wait, keeping polling and retry
// orthogonal.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/oranbench/gridrunner/trialerr"
)

// Predicate is a side-effect-free readiness check.
// It reports whether the awaited condition currently holds. A non-nil error
// is treated as "not ready yet" and remembered for timeout diagnostics.
type Predicate func(ctx context.Context) (bool, error)

// Poll evaluates pred immediately, then every interval, until it returns
// true or elapsed time reaches timeout. On timeout it fails with ErrTimeout
// carrying the last predicate error, if any. Cancellation of ctx returns
// promptly with ErrCanceled; the full timeout is never waited out.
func Poll(ctx context.Context, pred Predicate, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return trialerr.Wrap(trialerr.ErrCanceled, "poll", err)
		}

		ok, err := pred(ctx)
		if ok {
			return nil
		}
		if err != nil {
			lastErr = err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		wait := interval
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return trialerr.Wrap(trialerr.ErrCanceled, "poll", ctx.Err())
		case <-time.After(wait):
		}
	}

	if lastErr != nil {
		return trialerr.Wrap(trialerr.ErrTimeout, "poll",
			fmt.Errorf("condition not met within %s (last error: %v)", timeout, lastErr))
	}
	return trialerr.Wrap(trialerr.ErrTimeout, "poll",
		fmt.Errorf("condition not met within %s", timeout))
}

// All returns a predicate that holds only when every given predicate holds.
// Predicates are checked in order during the same evaluation; a partial
// match is not ready. Used for two-condition readiness gates.
func All(preds ...Predicate) Predicate {
	return func(ctx context.Context) (bool, error) {
		for _, p := range preds {
			ok, err := p(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}
}
