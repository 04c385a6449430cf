package types

import (
	"path/filepath"
	"testing"
)

func TestTrialKeyString(t *testing.T) {
	key := TrialKey{TrialSet: 3, Experiment: 2}
	if got := key.String(); got != "trialset3/exp2" {
		t.Errorf("String() = %q, want %q", got, "trialset3/exp2")
	}
}

func TestTrialKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     TrialKey
		wantErr bool
	}{
		{"valid", TrialKey{TrialSet: 0, Experiment: 1}, false},
		{"negative trial set", TrialKey{TrialSet: -1, Experiment: 1}, true},
		{"negative experiment", TrialKey{TrialSet: 0, Experiment: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrialPaths(t *testing.T) {
	trial := &Trial{
		Key: TrialKey{TrialSet: 0, Experiment: 1},
		Dir: "/experiments/trialset0/exp1",
	}
	if got := trial.ConditionsPath(); got != filepath.Join(trial.Dir, "conditions.csv") {
		t.Errorf("ConditionsPath() = %q", got)
	}
	if got := trial.MetricsPath(); got != filepath.Join(trial.Dir, "metrics", "ue_metrics.csv") {
		t.Errorf("MetricsPath() = %q", got)
	}
}

func TestPhaseIndexOrdering(t *testing.T) {
	if len(PhaseSequence) != 9 {
		t.Fatalf("PhaseSequence has %d phases, want 9", len(PhaseSequence))
	}
	for i, name := range PhaseSequence {
		if got := PhaseIndex(name); got != i {
			t.Errorf("PhaseIndex(%s) = %d, want %d", name, got, i)
		}
	}
	if got := PhaseIndex("NoSuchPhase"); got != -1 {
		t.Errorf("PhaseIndex(unknown) = %d, want -1", got)
	}
}

func TestRunCheckpointRecordRetry(t *testing.T) {
	cp := &RunCheckpoint{}
	key := TrialKey{TrialSet: 1, Experiment: 4}
	cp.RecordRetry(key, RetryState{Attempts: 2, LastFailure: "failed_phase: CoreUp"})

	state, ok := cp.Retries[key.String()]
	if !ok {
		t.Fatal("retry state not recorded")
	}
	if state.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", state.Attempts)
	}
}
