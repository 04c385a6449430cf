package types

import "time"

// RetryState tracks retry progress for one trial. Persisted into the
// checkpoint so an interrupted run can report which trials were mid-retry.
type RetryState struct {
	// Attempts is the number of attempts consumed so far.
	Attempts int `json:"attempts"`
	// LastFailure is the most recent failure description, empty if none.
	LastFailure string `json:"last_failure,omitempty"`
	// NextDelay is the delay before the next attempt, if one is pending.
	NextDelay time.Duration `json:"next_delay_ns,omitempty"`
}

// RunCheckpoint is the process-wide progress record, overwritten on every
// phase transition. It exists for operator visibility and resume hints only;
// the grid can always be restarted from any explicit starting point, so
// correctness never depends on this file.
type RunCheckpoint struct {
	// TrialSet is the trial-set index currently being driven.
	TrialSet int `json:"trial_set"`
	// Experiment is the experiment index currently being driven.
	Experiment int `json:"experiment"`
	// Phase is the phase the current attempt most recently entered.
	Phase PhaseName `json:"phase,omitempty"`
	// Attempt is the 1-based attempt number for the current trial.
	Attempt int `json:"attempt,omitempty"`
	// Retries maps TrialKey.String() to retry state for attempted trials.
	Retries map[string]RetryState `json:"retries,omitempty"`
	// LastCompleted is the most recently resolved cell, if any.
	LastCompleted *TrialKey `json:"last_completed,omitempty"`
	// UpdatedAt is the write time of this snapshot.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRunCheckpoint returns an empty checkpoint positioned at the given cell.
func NewRunCheckpoint(trialSet, experiment int) *RunCheckpoint {
	return &RunCheckpoint{
		TrialSet:   trialSet,
		Experiment: experiment,
		Retries:    make(map[string]RetryState),
	}
}

// RecordRetry updates the retry state for a trial key.
func (c *RunCheckpoint) RecordRetry(key TrialKey, state RetryState) {
	if c.Retries == nil {
		c.Retries = make(map[string]RetryState)
	}
	c.Retries[key.String()] = state
}
