// Package archive persists trial results to Lode storage.
//
// Results are written as JSONL records under a Hive-partitioned layout with
// partition keys: day/run_id/trial_set. One trial produces one trial_result
// record plus one trial_attempt record per attempt, so downstream analysis
// can reconstruct the full retry history of a grid run.
package archive

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/oranbench/gridrunner/types"
)

// Record kind discriminator values.
const (
	RecordKindTrialResult  = "trial_result"
	RecordKindTrialAttempt = "trial_attempt"
)

// DeriveDay computes the partition day from run start time.
// Format: YYYY-MM-DD in UTC.
func DeriveDay(startTime time.Time) string {
	return startTime.UTC().Format("2006-01-02")
}

// Config holds archive configuration. All partition keys are required.
type Config struct {
	// Dataset is the Lode dataset ID (normally "gridrunner").
	Dataset string
	// RunID is the partition key for the grid run identifier.
	RunID string
	// Day is the partition key derived from run start time (YYYY-MM-DD UTC).
	Day string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Dataset == "" {
		return fmt.Errorf("archive dataset is required")
	}
	if c.RunID == "" {
		return fmt.Errorf("archive run_id is required")
	}
	if c.Day == "" {
		return fmt.Errorf("archive day is required")
	}
	return nil
}

// Archive writes trial results to a Lode dataset.
type Archive struct {
	mu      sync.Mutex
	dataset lode.Dataset
	config  Config
}

// NewFS creates an archive with filesystem storage rooted at root.
func NewFS(cfg Config, root string) (*Archive, error) {
	return NewWithFactory(cfg, lode.NewFSFactory(root))
}

// NewWithFactory creates an archive with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewWithFactory(cfg Config, factory lode.StoreFactory) (*Archive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := lode.NewDataset(
		lode.DatasetID(cfg.Dataset),
		factory,
		lode.WithHiveLayout("day", "run_id", "trial_set"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, err
	}
	return &Archive{dataset: ds, config: cfg}, nil
}

// WriteResult writes a resolved trial and its attempt history.
// Safe for concurrent use, though the grid resolves trials sequentially.
func (a *Archive) WriteResult(ctx context.Context, result *types.TrialResult, attempts []types.TrialAttempt) error {
	if result == nil {
		return fmt.Errorf("archive: nil trial result")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	records := make([]any, 0, 1+len(attempts))
	records = append(records, a.toResultRecord(result))
	for i := range attempts {
		records = append(records, a.toAttemptRecord(result.Key, &attempts[i]))
	}

	if _, err := a.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return fmt.Errorf("archive: write %s: %w", result.Key, err)
	}
	return nil
}

// Close releases archive resources.
func (a *Archive) Close() error {
	// Dataset doesn't require explicit close in current Lode API
	return nil
}

func (a *Archive) toResultRecord(result *types.TrialResult) map[string]any {
	return map[string]any{
		"record_kind":  RecordKindTrialResult,
		"trial_set":    strconv.Itoa(result.Key.TrialSet),
		"experiment":   result.Key.Experiment,
		"outcome":      string(result.Outcome),
		"attempts":     result.Attempts,
		"failed_phase": string(result.FailedPhase),
		"reason":       result.Reason,
		"duration_ms":  result.Duration.Milliseconds(),
		"run_id":       a.config.RunID,
		"day":          a.config.Day,
	}
}

func (a *Archive) toAttemptRecord(key types.TrialKey, attempt *types.TrialAttempt) map[string]any {
	rec := map[string]any{
		"record_kind": RecordKindTrialAttempt,
		"trial_set":   strconv.Itoa(key.TrialSet),
		"experiment":  key.Experiment,
		"attempt_id":  attempt.AttemptID,
		"number":      attempt.Number,
		"final_phase": string(attempt.FinalPhase),
		"outcome":     string(attempt.Outcome),
		"reason":      attempt.Reason,
		"started_at":  attempt.StartedAt.UTC().Format(time.RFC3339Nano),
		"run_id":      a.config.RunID,
		"day":         a.config.Day,
	}
	if !attempt.EndedAt.IsZero() {
		rec["ended_at"] = attempt.EndedAt.UTC().Format(time.RFC3339Nano)
	}
	return rec
}
