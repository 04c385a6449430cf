// Package trialerr provides failure classification for the orchestrator.
//
// This package defines sentinel errors and an error wrapper for classifying
// trial failures. These enable callers to use errors.Is/errors.As for typed
// assertions rather than string matching.
package trialerr

import (
	"errors"
	"fmt"

	"github.com/oranbench/gridrunner/types"
)

// Sentinel errors for trial failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrResourceBusy indicates a needed port/namespace/session is held
	// and could not be reclaimed.
	ErrResourceBusy = errors.New("resource busy")

	// ErrTimeout indicates a readiness predicate never became true
	// within its budget.
	ErrTimeout = errors.New("readiness timeout")

	// ErrStartFailure indicates a start action returned non-zero or
	// failed to spawn.
	ErrStartFailure = errors.New("start failure")

	// ErrValidationFailure indicates the output artifact is missing,
	// malformed, or out of duration tolerance.
	ErrValidationFailure = errors.New("validation failure")

	// ErrPreflightFailure indicates a required input file or directory
	// is absent at startup. Fatal: no retry.
	ErrPreflightFailure = errors.New("preflight failure")

	// ErrCanceled indicates the run was interrupted externally.
	ErrCanceled = errors.New("run canceled")
)

// Error wraps an underlying error with trial failure classification.
// It preserves the original error in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel error for classification (e.g. ErrTimeout).
	Kind error
	// Op is the operation that failed (e.g. "start", "poll", "acquire").
	Op string
	// Phase is the phase in progress when the failure occurred, if any.
	Phase types.PhaseName
	// Err is the underlying error.
	Err error
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Phase, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// New creates a classified trial error.
func New(kind error, op string, phase types.PhaseName, err error) *Error {
	return &Error{Kind: kind, Op: op, Phase: phase, Err: err}
}

// Wrap classifies err under kind for the given operation, with no phase
// context. Returns nil if err is nil.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WrapPhase classifies err under kind with phase context.
// Returns nil if err is nil.
func WrapPhase(kind error, op string, phase types.PhaseName, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Phase: phase, Err: err}
}

// IsRetriable reports whether the failure should consume a trial attempt
// and be retried. Preflight failures and cancellation are not retriable.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrPreflightFailure) && !errors.Is(err, ErrCanceled)
}

// PhaseOf returns the phase recorded in the error chain, if any.
func PhaseOf(err error) types.PhaseName {
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Phase
	}
	return ""
}

// OutcomeOf maps an attempt error to its attempt outcome classification.
func OutcomeOf(err error) types.AttemptOutcome {
	switch {
	case err == nil:
		return types.AttemptSuccess
	case errors.Is(err, ErrCanceled):
		return types.AttemptCanceled
	case errors.Is(err, ErrTimeout):
		return types.AttemptTimedOut
	default:
		return types.AttemptFailedPhase
	}
}
