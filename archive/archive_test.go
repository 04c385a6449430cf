package archive

import (
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/oranbench/gridrunner/types"
)

func testConfig() Config {
	return Config{
		Dataset: "gridrunner",
		RunID:   "run-123",
		Day:     "2026-08-30",
	}
}

func TestWriteResult(t *testing.T) {
	a, err := NewWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewWithFactory failed: %v", err)
	}
	defer func() { _ = a.Close() }()

	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	result := &types.TrialResult{
		Key:      types.TrialKey{TrialSet: 3, Experiment: 2},
		Outcome:  types.TrialSucceeded,
		Attempts: 2,
		Duration: 15 * time.Minute,
	}
	attempts := []types.TrialAttempt{
		{
			AttemptID:  "att-1",
			Number:     1,
			StartedAt:  started,
			EndedAt:    started.Add(90 * time.Second),
			FinalPhase: types.PhaseCoreUp,
			Outcome:    types.AttemptFailedPhase,
			Reason:     "core emulator exited during startup",
		},
		{
			AttemptID:  "att-2",
			Number:     2,
			StartedAt:  started.Add(2 * time.Minute),
			EndedAt:    started.Add(15 * time.Minute),
			FinalPhase: types.PhaseValidated,
			Outcome:    types.AttemptSuccess,
		},
	}

	if err := a.WriteResult(t.Context(), result, attempts); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}
}

func TestWriteResultPermanentFailure(t *testing.T) {
	a, err := NewWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewWithFactory failed: %v", err)
	}

	result := &types.TrialResult{
		Key:         types.TrialKey{TrialSet: 0, Experiment: 7},
		Outcome:     types.TrialPermanentlyFailed,
		Attempts:    4,
		FailedPhase: types.PhaseClientsAttached,
		Reason:      "timed out waiting for PDU session",
		Duration:    22 * time.Minute,
	}

	if err := a.WriteResult(t.Context(), result, nil); err != nil {
		t.Fatalf("WriteResult failed: %v", err)
	}
}

func TestWriteResultNil(t *testing.T) {
	a, err := NewWithFactory(testConfig(), lode.NewMemoryFactory())
	if err != nil {
		t.Fatalf("NewWithFactory failed: %v", err)
	}
	if err := a.WriteResult(t.Context(), nil, nil); err == nil {
		t.Error("expected error for nil result")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{Dataset: "gridrunner", RunID: "r", Day: "2026-08-30"}, false},
		{"missing dataset", Config{RunID: "r", Day: "2026-08-30"}, true},
		{"missing run_id", Config{Dataset: "gridrunner", Day: "2026-08-30"}, true},
		{"missing day", Config{Dataset: "gridrunner", RunID: "r"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewWithFactoryRejectsInvalidConfig(t *testing.T) {
	_, err := NewWithFactory(Config{}, lode.NewMemoryFactory())
	if err == nil {
		t.Error("expected error for empty config")
	}
}

func TestDeriveDay(t *testing.T) {
	// Local time past midnight UTC should still produce the UTC day
	loc := time.FixedZone("UTC+5", 5*3600)
	start := time.Date(2026, 8, 31, 2, 30, 0, 0, loc)
	if got := DeriveDay(start); got != "2026-08-30" {
		t.Errorf("DeriveDay = %q, want %q", got, "2026-08-30")
	}
}

func TestParseS3Path(t *testing.T) {
	tests := []struct {
		path   string
		bucket string
		prefix string
	}{
		{"results", "results", ""},
		{"results/grid", "results", "grid"},
		{"results/grid/2026", "results", "grid/2026"},
	}
	for _, tt := range tests {
		bucket, prefix := ParseS3Path(tt.path)
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseS3Path(%q) = (%q, %q), want (%q, %q)", tt.path, bucket, prefix, tt.bucket, tt.prefix)
		}
	}
}

func TestS3ConfigValidate(t *testing.T) {
	if err := (&S3Config{}).Validate(); err == nil {
		t.Error("expected error for missing bucket")
	}
	if err := (&S3Config{Bucket: "results"}).Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
}
