package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/oranbench/gridrunner/adapter"
	"github.com/oranbench/gridrunner/archive"
	"github.com/oranbench/gridrunner/checkpoint"
	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/retry"
	"github.com/oranbench/gridrunner/trial"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

// trialRunner is the grid's view of the trial controller, injectable for
// scheduler tests.
type trialRunner interface {
	Run(ctx context.Context, cp *types.RunCheckpoint, t *types.Trial) (*types.TrialResult, []types.TrialAttempt, error)
}

// GridOptions select which cells of the grid to drive.
type GridOptions struct {
	// StartTrialSet is the first trial-set index to run. Grid indices are
	// non-negative; the generator emits trialset0 as the first set.
	StartTrialSet int
	// StartExperiment is the first experiment index within StartTrialSet.
	// Subsequent trial sets begin at their lowest on-disk experiment.
	StartExperiment int
	// OnlyExperiment, when positive, runs the single cell
	// (StartTrialSet, OnlyExperiment) and stops.
	OnlyExperiment int
}

// Validate checks option sanity.
func (o GridOptions) Validate() error {
	if o.StartTrialSet < 0 {
		return fmt.Errorf("start trial set must be >= 0, got %d", o.StartTrialSet)
	}
	if o.StartExperiment < 0 {
		return fmt.Errorf("start experiment must be >= 0, got %d", o.StartExperiment)
	}
	if o.OnlyExperiment < 0 {
		return fmt.Errorf("only experiment must be >= 1 when set, got %d", o.OnlyExperiment)
	}
	return nil
}

// GridScheduler walks the (trial-set x experiment) grid in order, driving
// each cell through the trial controller. A permanently failed cell is
// recorded and the walk continues; only cancellation and preflight
// failures stop the run.
type GridScheduler struct {
	cfg      Config
	logger   *log.Logger
	runner   trialRunner
	ckpt     *checkpoint.Store
	metrics  *metrics.Collector
	archive  *archive.Archive
	notifier adapter.Adapter
	sleep    retry.Sleeper
}

// NewGridScheduler wires a scheduler. archive and notifier may be nil.
func NewGridScheduler(cfg Config, logger *log.Logger, runner trialRunner,
	ckpt *checkpoint.Store, m *metrics.Collector,
	arch *archive.Archive, notifier adapter.Adapter) *GridScheduler {
	return &GridScheduler{
		cfg:      cfg,
		logger:   logger,
		runner:   runner,
		ckpt:     ckpt,
		metrics:  m,
		archive:  arch,
		notifier: notifier,
		sleep:    retry.WallClockSleep,
	}
}

// Run drives the grid and returns the run summary. The error is non-nil for
// preflight failures and cancellation; permanently failed cells are in the
// summary, not the error.
func (s *GridScheduler) Run(ctx context.Context, opts GridOptions) (*Summary, error) {
	if err := opts.Validate(); err != nil {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "options", err)
	}
	if err := trial.PreflightBase(s.cfg.BaseDir); err != nil {
		return nil, err
	}

	minSet, err := trial.MinTrialSet(s.cfg.BaseDir)
	if err != nil {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "enumerate", err)
	}
	maxSet, err := trial.MaxTrialSet(s.cfg.BaseDir)
	if err != nil {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "enumerate", err)
	}
	if maxSet < 0 {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "enumerate",
			fmt.Errorf("no trialset directories under %s", s.cfg.BaseDir))
	}
	if opts.StartTrialSet > maxSet {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "options",
			fmt.Errorf("start trial set %d beyond grid maximum %d", opts.StartTrialSet, maxSet))
	}

	// A grid generated from a higher first index: begin at the on-disk
	// minimum rather than failing on the absent lower sets.
	startSet := opts.StartTrialSet
	if startSet < minSet {
		startSet = minSet
	}

	cp := types.NewRunCheckpoint(startSet, opts.StartExperiment)
	summary := NewSummary()
	if s.metrics != nil {
		defer func() {
			snap := s.metrics.Snapshot()
			summary.Metrics = &snap
		}()
	}

	for set := startSet; set <= maxSet; set++ {
		firstExp, err := trial.MinExperiment(s.cfg.BaseDir, set)
		if err != nil {
			return summary, trialerr.Wrap(trialerr.ErrPreflightFailure, "enumerate", err)
		}
		if set == startSet && opts.StartExperiment > firstExp {
			firstExp = opts.StartExperiment
		}
		lastExp, err := trial.MaxExperiment(s.cfg.BaseDir, set)
		if err != nil {
			return summary, trialerr.Wrap(trialerr.ErrPreflightFailure, "enumerate", err)
		}

		if opts.OnlyExperiment > 0 {
			firstExp, lastExp = opts.OnlyExperiment, opts.OnlyExperiment
		}

		for exp := firstExp; exp <= lastExp; exp++ {
			key := types.TrialKey{TrialSet: set, Experiment: exp}
			if err := s.runCell(ctx, cp, key, summary); err != nil {
				return summary, err
			}
			if !(set == maxSet && exp == lastExp) {
				if err := s.sleep(ctx, s.cfg.GridPause); err != nil {
					return summary, trialerr.Wrap(trialerr.ErrCanceled, "pause", err)
				}
			}
		}

		if opts.OnlyExperiment > 0 {
			break
		}
	}

	s.logger.Info("grid complete", map[string]any{
		"total":              summary.Total,
		"succeeded":          summary.Succeeded,
		"permanently_failed": summary.PermanentlyFailed,
	})
	return summary, nil
}

func (s *GridScheduler) runCell(ctx context.Context, cp *types.RunCheckpoint, key types.TrialKey, summary *Summary) error {
	t, err := trial.Load(s.cfg.BaseDir, key)
	if err != nil {
		return err
	}
	if err := trial.Preflight(t); err != nil {
		return err
	}

	s.logger.Info("trial starting", map[string]any{"trial": key.String()})
	result, attempts, err := s.runner.Run(ctx, cp, t)
	if result != nil {
		summary.Record(result)
		s.persistResult(ctx, t, result, attempts)
	}
	return err
}

// persistResult archives the result and publishes the completion event.
// Both are best effort: the grid keeps moving when either backend is down.
func (s *GridScheduler) persistResult(ctx context.Context, t *types.Trial, result *types.TrialResult, attempts []types.TrialAttempt) {
	if s.archive != nil {
		if err := s.archive.WriteResult(ctx, result, attempts); err != nil {
			s.metrics.IncArchiveWriteFailure()
			s.logger.Warn("archive write failed", map[string]any{
				"trial": result.Key.String(),
				"error": err.Error(),
			})
		} else {
			s.metrics.IncArchiveWriteSuccess()
		}
	}

	if s.notifier != nil {
		event := &adapter.TrialCompletedEvent{
			EventType:   "trial_completed",
			RunID:       s.cfg.RunID,
			TrialSet:    result.Key.TrialSet,
			Experiment:  result.Key.Experiment,
			Outcome:     string(result.Outcome),
			Attempts:    result.Attempts,
			FailedPhase: string(result.FailedPhase),
			MetricsPath: t.MetricsPath(),
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
			DurationMs:  result.Duration.Milliseconds(),
		}
		if err := s.notifier.Publish(ctx, event); err != nil {
			s.logger.Warn("completion event publish failed", map[string]any{
				"trial": result.Key.String(),
				"error": err.Error(),
			})
		}
	}
}
