package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/oranbench/gridrunner/health"
	"github.com/oranbench/gridrunner/iox"
	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/retry"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

// diagnosticTail is how many trailing log lines a readiness timeout reports.
const diagnosticTail = 20

// Phase is one step of the bring-up/run/validate sequence: a start action,
// a readiness predicate, and retry/timeout knobs. Start may be nil for
// phases that only wait on a condition established earlier.
type Phase struct {
	// Name identifies the phase in logs, journal, and errors.
	Name types.PhaseName
	// Start performs the phase's side effect. Nil means check-only.
	Start func(ctx context.Context) error
	// Ready holds once the phase's post-condition is established.
	Ready health.Predicate
	// Interval overrides the engine poll cadence when positive.
	Interval time.Duration
	// Timeout bounds the readiness wait.
	Timeout time.Duration
	// StartAttempts overrides the engine start-retry budget when positive.
	StartAttempts int
	// StartDelay overrides the initial start-retry delay when positive.
	StartDelay time.Duration
	// DiagnosticLog, when set, is tailed into the failure log entry on a
	// readiness timeout.
	DiagnosticLog string
}

// PhaseRunner executes phases: start with bounded retry, then poll readiness.
type PhaseRunner struct {
	logger   *log.Logger
	exec     *retry.Executor
	interval time.Duration
	attempts int
	delay    time.Duration
	metrics  *metricsSink
}

// metricsSink narrows the collector to what the runner records; nil-safe.
type metricsSink struct {
	phaseFailure func(phase string)
}

// NewPhaseRunner creates a runner with the engine's poll and retry defaults.
func NewPhaseRunner(logger *log.Logger, cfg Config) *PhaseRunner {
	return &PhaseRunner{
		logger:   logger,
		exec:     retry.New(),
		interval: cfg.PollInterval,
		attempts: cfg.Retry.StartAttempts,
		delay:    cfg.Retry.StartDelay,
	}
}

// newPhaseRunnerWithSleeper is the test hook: backoff sleeps are injectable.
func newPhaseRunnerWithSleeper(logger *log.Logger, cfg Config, sleep retry.Sleeper) *PhaseRunner {
	r := NewPhaseRunner(logger, cfg)
	r.exec = retry.NewWithSleeper(sleep)
	return r
}

// withPhaseFailureHook registers a callback invoked with the phase name on
// each failed Run.
func (r *PhaseRunner) withPhaseFailureHook(fn func(phase string)) *PhaseRunner {
	r.metrics = &metricsSink{phaseFailure: fn}
	return r
}

// Run executes one phase: the start action under bounded retry with doubling
// backoff, then the readiness poll. Every returned error is classified and
// carries the phase name. A readiness timeout attaches the tail of the
// phase's diagnostic log before returning.
func (r *PhaseRunner) Run(ctx context.Context, p Phase) error {
	plog := r.logger.WithPhase(p.Name)
	began := time.Now()
	plog.Info("phase starting", map[string]any{"timeout": p.Timeout.String()})

	if err := r.runStart(ctx, p, plog); err != nil {
		r.recordFailure(p.Name)
		return err
	}

	interval := p.Interval
	if interval <= 0 {
		interval = r.interval
	}
	if err := health.Poll(ctx, p.Ready, interval, p.Timeout); err != nil {
		r.recordFailure(p.Name)
		if errors.Is(err, trialerr.ErrTimeout) && p.DiagnosticLog != "" {
			if tail, terr := iox.TailLines(p.DiagnosticLog, diagnosticTail); terr == nil && len(tail) > 0 {
				plog.Error("readiness timeout, log tail", map[string]any{
					"log":  p.DiagnosticLog,
					"tail": tail,
				})
			}
		}
		var werr *trialerr.Error
		if errors.As(err, &werr) {
			return trialerr.WrapPhase(werr.Kind, werr.Op, p.Name, werr.Err)
		}
		return trialerr.WrapPhase(trialerr.ErrTimeout, "poll", p.Name, err)
	}

	plog.Info("phase ready", map[string]any{"elapsed": time.Since(began).String()})
	return nil
}

func (r *PhaseRunner) runStart(ctx context.Context, p Phase, plog *log.Logger) error {
	if p.Start == nil {
		return nil
	}

	attempts := p.StartAttempts
	if attempts <= 0 {
		attempts = r.attempts
	}
	delay := p.StartDelay
	if delay <= 0 {
		delay = r.delay
	}

	r.exec.OnRetry = func(attempt int, wait time.Duration, err error) {
		plog.Warn("start action failed, retrying", map[string]any{
			"next_attempt": attempt,
			"delay":        wait.String(),
			"error":        err.Error(),
		})
	}
	res := r.exec.Execute(ctx, func(ctx context.Context) error {
		err := p.Start(ctx)
		if err == nil {
			return nil
		}
		var terr *trialerr.Error
		if errors.As(err, &terr) {
			return err
		}
		return trialerr.WrapPhase(trialerr.ErrStartFailure, "start", p.Name, err)
	}, attempts, delay)
	if res.Err == nil {
		return nil
	}

	var terr *trialerr.Error
	if errors.As(res.Err, &terr) && terr.Phase == "" {
		return trialerr.WrapPhase(terr.Kind, terr.Op, p.Name, terr.Err)
	}
	return res.Err
}

func (r *PhaseRunner) recordFailure(name types.PhaseName) {
	if r.metrics != nil && r.metrics.phaseFailure != nil {
		r.metrics.phaseFailure(string(name))
	}
}
