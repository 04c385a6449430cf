// Package adapter defines the notification adapter boundary.
//
// Adapters publish trial completion notifications to downstream systems
// (dashboards, result collectors). The runtime owns adapter lifecycle;
// users provide configuration only.
package adapter

import "context"

// TrialCompletedEvent is the payload published when a trial resolves.
type TrialCompletedEvent struct {
	EventType   string `json:"event_type"` // always "trial_completed"
	RunID       string `json:"run_id"`
	TrialSet    int    `json:"trial_set"`
	Experiment  int    `json:"experiment"`
	Outcome     string `json:"outcome"` // succeeded, permanently_failed, canceled
	Attempts    int    `json:"attempts"`
	FailedPhase string `json:"failed_phase,omitempty"`
	MetricsPath string `json:"metrics_path,omitempty"`
	ArchivePath string `json:"archive_path,omitempty"`
	Timestamp   string `json:"timestamp"` // ISO 8601
	DurationMs  int64  `json:"duration_ms"`
}

// Adapter publishes trial completion events to a downstream system.
// Implementations must be safe for reuse across trials within one run.
type Adapter interface {
	// Publish sends a trial completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *TrialCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
