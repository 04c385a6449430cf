package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/oranbench/gridrunner/checkpoint"
	"github.com/oranbench/gridrunner/guard"
	"github.com/oranbench/gridrunner/journal"
	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/retry"
	"github.com/oranbench/gridrunner/traffic"
	"github.com/oranbench/gridrunner/trial"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

// phaseBuilder produces the ordered phase list for an attempt. Injectable
// so controller tests can substitute scripted phases for real subsystems.
type phaseBuilder func(a *attempt) []Phase

// cleaner runs teardown after an attempt and reports failed steps.
type cleaner interface {
	Run(ctx context.Context, at *attempt) int
}

// TrialController drives one trial to resolution: the attempt loop with a
// bounded retry budget, full cleanup between attempts, and journal,
// checkpoint, and metrics side effects on every transition.
type TrialController struct {
	cfg     Config
	logger  *log.Logger
	guard   *guard.Guard
	ops     guard.HostOps
	runner  *PhaseRunner
	cleaner cleaner
	journal *journal.Writer
	ckpt    *checkpoint.Store
	metrics *metrics.Collector
	exec    *retry.Executor
	pools   *traffic.Selector

	build phaseBuilder
}

// NewTrialController wires a controller over shared run infrastructure.
func NewTrialController(cfg Config, logger *log.Logger, g *guard.Guard, ops guard.HostOps,
	jw *journal.Writer, ckpt *checkpoint.Store, m *metrics.Collector,
	pools *traffic.Selector) *TrialController {
	return &TrialController{
		cfg:     cfg,
		logger:  logger,
		guard:   g,
		ops:     ops,
		runner:  NewPhaseRunner(logger, cfg).withPhaseFailureHook(m.IncPhaseFailure),
		cleaner: NewCleaner(cfg, logger, g, ops, m),
		journal: jw,
		ckpt:    ckpt,
		metrics: m,
		exec:    retry.New(),
		pools:   pools,
		build:   func(a *attempt) []Phase { return a.buildPhases() },
	}
}

// Run drives the trial through up to MaxRetries+1 attempts and returns the
// final result plus the per-attempt history. The returned error is non-nil
// only for cancellation; an exhausted retry budget is a permanently_failed
// result, not an error.
func (tc *TrialController) Run(ctx context.Context, cp *types.RunCheckpoint, t *types.Trial) (*types.TrialResult, []types.TrialAttempt, error) {
	started := time.Now()

	conds, err := trial.ParseConditions(t.ConditionsPath())
	if err != nil {
		// A malformed manifest can never succeed on retry.
		perr := trialerr.Wrap(trialerr.ErrPreflightFailure, "conditions", err)
		result := &types.TrialResult{
			Key:      t.Key,
			Outcome:  types.TrialPermanentlyFailed,
			Attempts: 0,
			Reason:   perr.Error(),
			Duration: time.Since(started),
		}
		tc.appendJournal(&types.JournalRecord{
			Type:       types.RecordTrialFinished,
			TrialSet:   t.Key.TrialSet,
			Experiment: t.Key.Experiment,
			Outcome:    string(result.Outcome),
			Reason:     result.Reason,
		})
		return result, nil, nil
	}

	tc.metrics.IncTrialStarted()
	maxAttempts := tc.cfg.Retry.MaxRetries + 1

	var attempts []types.TrialAttempt
	var lastAt *attempt
	number := 0

	tc.exec.OnRetry = func(next int, delay time.Duration, err error) {
		tc.metrics.IncAttemptRetried()
		tc.logger.WithTrial(t.Key, next).Warn("attempt failed, retrying", map[string]any{
			"delay": delay.String(),
			"error": err.Error(),
		})
	}
	res := tc.exec.ExecuteFixed(ctx, func(ctx context.Context) error {
		number++
		rec, at := tc.runAttempt(ctx, cp, t, conds, number)
		if at != nil {
			lastAt = at
		}
		attempts = append(attempts, *rec)
		if rec.Outcome == types.AttemptSuccess {
			return nil
		}
		cp.RecordRetry(t.Key, types.RetryState{
			Attempts:    number,
			LastFailure: rec.Reason,
			NextDelay:   tc.cfg.Retry.TrialDelay,
		})
		tc.saveCheckpoint(cp)
		return tc.attemptError(rec)
	}, maxAttempts, tc.cfg.Retry.TrialDelay)

	// Trial-end sweep: one more cleanup pass plus a release of anything
	// still registered with the guard, whatever the outcome. Both are
	// idempotent against the per-attempt cleanup that already ran.
	sweepCtx := context.WithoutCancel(ctx)
	if lastAt != nil {
		tc.cleaner.Run(sweepCtx, lastAt)
	}
	if n := tc.guard.ReleaseAll(sweepCtx, t.Key); n > 0 {
		tc.logger.Warn("trial-end release failures", map[string]any{
			"trial":  t.Key.String(),
			"failed": n,
		})
	}

	result := &types.TrialResult{
		Key:      t.Key,
		Attempts: len(attempts),
		Duration: time.Since(started),
	}
	switch {
	case res.Err == nil:
		result.Outcome = types.TrialSucceeded
		tc.metrics.IncTrialSucceeded()
	case errors.Is(res.Err, trialerr.ErrCanceled):
		result.Outcome = types.TrialCanceled
		result.Reason = res.Err.Error()
		result.FailedPhase = trialerr.PhaseOf(res.Err)
		tc.metrics.IncTrialCanceled()
	default:
		result.Outcome = types.TrialPermanentlyFailed
		result.Reason = res.Err.Error()
		result.FailedPhase = trialerr.PhaseOf(res.Err)
		tc.metrics.IncTrialPermanentlyFailed()
	}

	tc.appendJournal(&types.JournalRecord{
		Type:       types.RecordTrialFinished,
		TrialSet:   t.Key.TrialSet,
		Experiment: t.Key.Experiment,
		Outcome:    string(result.Outcome),
		Reason:     result.Reason,
	})

	cp.LastCompleted = &types.TrialKey{TrialSet: t.Key.TrialSet, Experiment: t.Key.Experiment}
	tc.saveCheckpoint(cp)

	if result.Outcome == types.TrialCanceled {
		return result, attempts, res.Err
	}
	return result, attempts, nil
}

// runAttempt executes one attempt end to end, including its cleanup, and
// returns the attempt record plus the attempt state for the trial-end sweep.
// Never returns early without cleanup.
func (tc *TrialController) runAttempt(ctx context.Context, cp *types.RunCheckpoint,
	t *types.Trial, conds *trial.Conditions, number int) (*types.TrialAttempt, *attempt) {
	tc.metrics.IncAttemptStarted()

	rec := &types.TrialAttempt{
		AttemptID: uuid.NewString(),
		Number:    number,
		StartedAt: time.Now(),
	}
	alog := tc.logger.WithTrial(t.Key, number)

	logDir := filepath.Join(tc.cfg.WorkDir, t.Key.String(), fmt.Sprintf("attempt%d", number))
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		rec.EndedAt = time.Now()
		rec.Outcome = types.AttemptFailedPhase
		rec.Reason = fmt.Sprintf("create attempt log dir: %v", err)
		return rec, nil
	}

	tc.appendJournal(&types.JournalRecord{
		Type:       types.RecordAttemptStarted,
		TrialSet:   t.Key.TrialSet,
		Experiment: t.Key.Experiment,
		Attempt:    number,
		AttemptID:  rec.AttemptID,
	})

	cp.TrialSet = t.Key.TrialSet
	cp.Experiment = t.Key.Experiment
	cp.Attempt = number
	cp.Phase = ""
	tc.saveCheckpoint(cp)

	at := newAttempt(tc.cfg, alog, tc.guard, tc.ops, tc.metrics, t, conds, number, logDir, tc.pools)

	var failure error
	for _, phase := range tc.build(at) {
		rec.FinalPhase = phase.Name
		tc.appendJournal(&types.JournalRecord{
			Type:       types.RecordPhaseTransition,
			TrialSet:   t.Key.TrialSet,
			Experiment: t.Key.Experiment,
			Attempt:    number,
			AttemptID:  rec.AttemptID,
			Phase:      phase.Name,
		})
		cp.Phase = phase.Name
		tc.saveCheckpoint(cp)

		if err := tc.runner.Run(ctx, phase); err != nil {
			failure = err
			break
		}
	}

	rec.EndedAt = time.Now()
	rec.Outcome = trialerr.OutcomeOf(failure)
	if failure != nil {
		rec.Reason = failure.Error()
		alog.Error("attempt failed", map[string]any{
			"phase": string(rec.FinalPhase),
			"error": failure.Error(),
		})
	} else {
		alog.Info("attempt succeeded", map[string]any{
			"elapsed": rec.EndedAt.Sub(rec.StartedAt).String(),
		})
	}

	tc.appendJournal(&types.JournalRecord{
		Type:       types.RecordAttemptFinished,
		TrialSet:   t.Key.TrialSet,
		Experiment: t.Key.Experiment,
		Attempt:    number,
		AttemptID:  rec.AttemptID,
		Outcome:    string(rec.Outcome),
		Reason:     rec.Reason,
	})

	tc.cleaner.Run(ctx, at)
	return rec, at
}

// attemptError reconstructs the classified error for the retry loop from an
// attempt record, preserving retriability.
func (tc *TrialController) attemptError(rec *types.TrialAttempt) error {
	base := errors.New(rec.Reason)
	switch rec.Outcome {
	case types.AttemptCanceled:
		return trialerr.WrapPhase(trialerr.ErrCanceled, "attempt", rec.FinalPhase, base)
	case types.AttemptTimedOut:
		return trialerr.WrapPhase(trialerr.ErrTimeout, "attempt", rec.FinalPhase, base)
	default:
		return trialerr.WrapPhase(trialerr.ErrStartFailure, "attempt", rec.FinalPhase, base)
	}
}

func (tc *TrialController) appendJournal(rec *types.JournalRecord) {
	if tc.journal == nil {
		return
	}
	if err := tc.journal.Append(rec); err != nil {
		tc.logger.Warn("journal append failed", map[string]any{"error": err.Error()})
	}
}

func (tc *TrialController) saveCheckpoint(cp *types.RunCheckpoint) {
	if tc.ckpt == nil || cp == nil {
		return
	}
	if err := tc.ckpt.Save(cp); err != nil {
		tc.logger.Warn("checkpoint save failed", map[string]any{"error": err.Error()})
	}
}
