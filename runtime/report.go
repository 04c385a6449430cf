package runtime

import (
	"fmt"
	"strings"

	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/types"
)

// Failure describes one cell that did not succeed.
type Failure struct {
	Key      types.TrialKey
	Outcome  types.TrialOutcome
	Attempts int
	Phase    types.PhaseName
	Reason   string
}

// Summary aggregates trial results for end-of-run reporting.
type Summary struct {
	Total             int
	Succeeded         int
	PermanentlyFailed int
	Canceled          int
	Failures          []Failure

	// Metrics is the end-of-run counter snapshot, attached by the scheduler
	// when a collector is wired.
	Metrics *metrics.Snapshot
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	return &Summary{}
}

// Record folds one trial result into the summary.
func (s *Summary) Record(result *types.TrialResult) {
	s.Total++
	switch result.Outcome {
	case types.TrialSucceeded:
		s.Succeeded++
		return
	case types.TrialPermanentlyFailed:
		s.PermanentlyFailed++
	case types.TrialCanceled:
		s.Canceled++
	}
	s.Failures = append(s.Failures, Failure{
		Key:      result.Key,
		Outcome:  result.Outcome,
		Attempts: result.Attempts,
		Phase:    result.FailedPhase,
		Reason:   result.Reason,
	})
}

// AllSucceeded reports whether every recorded trial succeeded.
func (s *Summary) AllSucceeded() bool {
	return s.Total > 0 && s.Succeeded == s.Total
}

// String renders a human-readable run report.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "trials: %d  succeeded: %d  permanently failed: %d  canceled: %d\n",
		s.Total, s.Succeeded, s.PermanentlyFailed, s.Canceled)
	if m := s.Metrics; m != nil {
		fmt.Fprintf(&b, "attempts: %d  retries: %d  reclaims: %d/%d  cleanup step failures: %d\n",
			m.AttemptsStarted, m.AttemptsRetried, m.ReclaimSuccesses, m.ReclaimAttempts, m.CleanupStepFailures)
	}
	for _, f := range s.Failures {
		fmt.Fprintf(&b, "  %s: %s after %d attempt(s)", f.Key.String(), f.Outcome, f.Attempts)
		if f.Phase != "" {
			fmt.Fprintf(&b, " in %s", f.Phase)
		}
		if f.Reason != "" {
			fmt.Fprintf(&b, ": %s", f.Reason)
		}
		b.WriteString("\n")
	}
	return b.String()
}
