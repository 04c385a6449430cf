// Package metrics provides per-run metrics collection.
//
// The Collector accumulates counters while the grid executes. It is a leaf
// package with no internal dependencies. All increment methods are safe on a
// nil receiver so callers that run without metrics need no guards.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Trial lifecycle
	TrialsStarted           int64
	TrialsSucceeded         int64
	TrialsPermanentlyFailed int64
	TrialsCanceled          int64
	AttemptsStarted         int64
	AttemptsRetried         int64

	// Phase failures by phase name
	PhaseFailures map[string]int64

	// Resource guard
	ReclaimAttempts  int64
	ReclaimSuccesses int64

	// Cleanup
	CleanupsRun         int64
	CleanupStepFailures int64

	// Validation
	ValidationFailures int64

	// Archive
	ArchiveWriteSuccess int64
	ArchiveWriteFailure int64

	// Dimensions (informational, set at construction)
	StorageBackend string
	RunID          string
	GridSpec       string
}

// Collector accumulates metrics during a single grid run.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	trialsStarted           int64
	trialsSucceeded         int64
	trialsPermanentlyFailed int64
	trialsCanceled          int64
	attemptsStarted         int64
	attemptsRetried         int64

	phaseFailures map[string]int64

	reclaimAttempts  int64
	reclaimSuccesses int64

	cleanupsRun         int64
	cleanupStepFailures int64

	validationFailures int64

	archiveWriteSuccess int64
	archiveWriteFailure int64

	storageBackend string
	runID          string
	gridSpec       string
}

// NewCollector creates a Collector with dimension labels. gridSpec describes
// the grid extent, e.g. "trialset0..3 x exp1..10".
func NewCollector(storageBackend, runID, gridSpec string) *Collector {
	return &Collector{
		phaseFailures:  make(map[string]int64),
		storageBackend: storageBackend,
		runID:          runID,
		gridSpec:       gridSpec,
	}
}

// --- Trial lifecycle ---

// IncTrialStarted records a trial entering execution.
func (c *Collector) IncTrialStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.trialsStarted++
	c.mu.Unlock()
}

// IncTrialSucceeded records a trial that validated successfully.
func (c *Collector) IncTrialSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.trialsSucceeded++
	c.mu.Unlock()
}

// IncTrialPermanentlyFailed records a trial that exhausted its retry budget.
func (c *Collector) IncTrialPermanentlyFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.trialsPermanentlyFailed++
	c.mu.Unlock()
}

// IncTrialCanceled records a trial interrupted by shutdown.
func (c *Collector) IncTrialCanceled() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.trialsCanceled++
	c.mu.Unlock()
}

// IncAttemptStarted records the start of one attempt, including the first.
func (c *Collector) IncAttemptStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.attemptsStarted++
	c.mu.Unlock()
}

// IncAttemptRetried records an attempt started after a prior failure.
func (c *Collector) IncAttemptRetried() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.attemptsRetried++
	c.mu.Unlock()
}

// --- Phases ---

// IncPhaseFailure records a phase failure keyed by phase name.
func (c *Collector) IncPhaseFailure(phase string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	if c.phaseFailures == nil {
		c.phaseFailures = make(map[string]int64)
	}
	c.phaseFailures[phase]++
	c.mu.Unlock()
}

// --- Resource guard ---

// IncReclaimAttempt records a forced reclaim attempt on a busy resource.
func (c *Collector) IncReclaimAttempt() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reclaimAttempts++
	c.mu.Unlock()
}

// IncReclaimSuccess records a reclaim that freed the resource.
func (c *Collector) IncReclaimSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.reclaimSuccesses++
	c.mu.Unlock()
}

// --- Cleanup ---

// IncCleanupRun records one full cleanup pass.
func (c *Collector) IncCleanupRun() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cleanupsRun++
	c.mu.Unlock()
}

// IncCleanupStepFailure records a cleanup step that reported an error.
// Cleanup always continues past failures, so these are counted, not fatal.
func (c *Collector) IncCleanupStepFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.cleanupStepFailures++
	c.mu.Unlock()
}

// --- Validation ---

// IncValidationFailure records a metrics artifact that failed validation.
func (c *Collector) IncValidationFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.validationFailures++
	c.mu.Unlock()
}

// --- Archive ---
// Archive counters are per-call, not per-record. A single Write call with
// N records counts as 1 success.

// IncArchiveWriteSuccess records a successful archive write operation.
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteSuccess++
	c.mu.Unlock()
}

// IncArchiveWriteFailure records a failed archive write operation.
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	phases := make(map[string]int64, len(c.phaseFailures))
	for k, v := range c.phaseFailures {
		phases[k] = v
	}

	return Snapshot{
		TrialsStarted:           c.trialsStarted,
		TrialsSucceeded:         c.trialsSucceeded,
		TrialsPermanentlyFailed: c.trialsPermanentlyFailed,
		TrialsCanceled:          c.trialsCanceled,
		AttemptsStarted:         c.attemptsStarted,
		AttemptsRetried:         c.attemptsRetried,

		PhaseFailures: phases,

		ReclaimAttempts:  c.reclaimAttempts,
		ReclaimSuccesses: c.reclaimSuccesses,

		CleanupsRun:         c.cleanupsRun,
		CleanupStepFailures: c.cleanupStepFailures,

		ValidationFailures: c.validationFailures,

		ArchiveWriteSuccess: c.archiveWriteSuccess,
		ArchiveWriteFailure: c.archiveWriteFailure,

		StorageBackend: c.storageBackend,
		RunID:          c.runID,
		GridSpec:       c.gridSpec,
	}
}
