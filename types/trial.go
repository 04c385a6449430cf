// Package types defines core domain types for the gridrunner orchestrator.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// TrialKey identifies one cell in the (trial-set x experiment) grid.
type TrialKey struct {
	// TrialSet is the trial-set index, non-negative.
	TrialSet int `json:"trial_set"`
	// Experiment is the experiment index within the trial-set, non-negative.
	Experiment int `json:"experiment"`
}

// String renders the key as its directory-relative form, e.g. "trialset3/exp2".
func (k TrialKey) String() string {
	return fmt.Sprintf("trialset%d/exp%d", k.TrialSet, k.Experiment)
}

// Validate checks that both indices are non-negative.
func (k TrialKey) Validate() error {
	if k.TrialSet < 0 {
		return fmt.Errorf("trial set index must be non-negative, got %d", k.TrialSet)
	}
	if k.Experiment < 0 {
		return fmt.Errorf("experiment index must be non-negative, got %d", k.Experiment)
	}
	return nil
}

// Well-known paths within a trial directory per the trial directory contract.
const (
	// ConditionsFile is the conditions manifest file name.
	ConditionsFile = "conditions.csv"
	// ScenarioScript is the scenario-launch script file name.
	ScenarioScript = "run_scenario.sh"
	// MetricsRelPath is the produced metrics table, relative to the trial dir.
	MetricsRelPath = "metrics/ue_metrics.csv"
)

// Trial is one immutable cell of the experiment grid, mapped to a directory.
// The orchestrator treats the directory as read-only except for the metrics
// output area and per-attempt logs.
type Trial struct {
	// Key identifies the grid cell.
	Key TrialKey
	// Dir is the absolute path of the trial directory.
	Dir string
}

// ConditionsPath returns the absolute path of the conditions manifest.
func (t *Trial) ConditionsPath() string {
	return filepath.Join(t.Dir, ConditionsFile)
}

// ScriptPath returns the absolute path of the scenario-launch script.
func (t *Trial) ScriptPath() string {
	return filepath.Join(t.Dir, ScenarioScript)
}

// MetricsPath returns the absolute path of the produced metrics table.
func (t *Trial) MetricsPath() string {
	return filepath.Join(t.Dir, MetricsRelPath)
}

// AttemptOutcome classifies how one trial attempt ended.
type AttemptOutcome string

const (
	// AttemptSuccess indicates the attempt reached Validated.
	AttemptSuccess AttemptOutcome = "success"
	// AttemptFailedPhase indicates a phase start action or check failed.
	AttemptFailedPhase AttemptOutcome = "failed_phase"
	// AttemptTimedOut indicates a readiness predicate never became true.
	AttemptTimedOut AttemptOutcome = "timed_out"
	// AttemptCanceled indicates the attempt was interrupted externally.
	AttemptCanceled AttemptOutcome = "canceled"
)

// TrialOutcome classifies the final result of a trial across all attempts.
type TrialOutcome string

const (
	// TrialSucceeded indicates some attempt reached Validated.
	TrialSucceeded TrialOutcome = "succeeded"
	// TrialPermanentlyFailed indicates the retry budget was exhausted.
	TrialPermanentlyFailed TrialOutcome = "permanently_failed"
	// TrialCanceled indicates the run was interrupted before resolution.
	TrialCanceled TrialOutcome = "canceled"
)

// TrialAttempt records one execution of a trial. Created per retry and
// discarded after the trial outcome is recorded; the journal keeps the
// durable copy.
type TrialAttempt struct {
	// AttemptID is a unique identifier for this attempt.
	AttemptID string `json:"attempt_id"`
	// Number is the 1-based attempt number.
	Number int `json:"number"`
	// StartedAt is the attempt start time.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is the attempt end time, zero while running.
	EndedAt time.Time `json:"ended_at,omitempty"`
	// FinalPhase is the last phase this attempt entered.
	FinalPhase PhaseName `json:"final_phase"`
	// Outcome classifies how the attempt ended.
	Outcome AttemptOutcome `json:"outcome"`
	// Reason is a human-readable failure description, empty on success.
	Reason string `json:"reason,omitempty"`
}

// TrialResult is the final result of a trial across all attempts.
type TrialResult struct {
	// Key identifies the grid cell.
	Key TrialKey `json:"key"`
	// Outcome is the final trial outcome.
	Outcome TrialOutcome `json:"outcome"`
	// Attempts is the number of attempts consumed.
	Attempts int `json:"attempts"`
	// FailedPhase is the phase the last attempt failed in, empty on success.
	FailedPhase PhaseName `json:"failed_phase,omitempty"`
	// Reason is the last failure description, empty on success.
	Reason string `json:"reason,omitempty"`
	// Duration is the total wall time across attempts, including cleanup.
	Duration time.Duration `json:"duration"`
}
