package types

// RecordType is the journal record type discriminator.
type RecordType string

// Journal record types.
const (
	RecordAttemptStarted  RecordType = "attempt_started"
	RecordPhaseTransition RecordType = "phase_transition"
	RecordAttemptFinished RecordType = "attempt_finished"
	RecordTrialFinished   RecordType = "trial_finished"
)

// JournalRecord is the envelope for all attempt-journal records.
// Fields use msgpack tags; the journal is a stream of length-prefixed
// msgpack frames appended as the run progresses.
type JournalRecord struct {
	// Type is the record type discriminator.
	Type RecordType `msgpack:"type"`
	// Seq is the monotonic sequence number within the journal, starts at 1.
	Seq int64 `msgpack:"seq"`
	// TrialSet is the trial-set index of the subject cell.
	TrialSet int `msgpack:"trial_set"`
	// Experiment is the experiment index of the subject cell.
	Experiment int `msgpack:"experiment"`
	// Attempt is the 1-based attempt number, 0 for trial_finished records.
	Attempt int `msgpack:"attempt,omitempty"`
	// AttemptID is the unique attempt identifier, when applicable.
	AttemptID string `msgpack:"attempt_id,omitempty"`
	// Phase is the phase entered, for phase_transition records.
	Phase PhaseName `msgpack:"phase,omitempty"`
	// Outcome carries AttemptOutcome or TrialOutcome values depending on type.
	Outcome string `msgpack:"outcome,omitempty"`
	// Reason is a human-readable failure description, empty on success.
	Reason string `msgpack:"reason,omitempty"`
	// Ts is the record timestamp in ISO 8601 UTC format.
	Ts string `msgpack:"ts"`
}

// Key returns the TrialKey of the subject cell.
func (r *JournalRecord) Key() TrialKey {
	return TrialKey{TrialSet: r.TrialSet, Experiment: r.Experiment}
}
