package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oranbench/gridrunner/guard"
	"github.com/oranbench/gridrunner/health"
	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/proc"
	"github.com/oranbench/gridrunner/service"
	"github.com/oranbench/gridrunner/traffic"
	"github.com/oranbench/gridrunner/trial"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
	"github.com/oranbench/gridrunner/validate"
)

// attachReadyTimeout bounds the wait for spawned clients to stay alive.
const attachReadyTimeout = 30 * time.Second

// namespacesReadyTimeout bounds the namespace existence check.
const namespacesReadyTimeout = 30 * time.Second

// attempt is the mutable state of one trial attempt: the processes it has
// spawned and the resources it owns. A fresh attempt is built per retry;
// cleanup between retries disposes of everything here.
type attempt struct {
	cfg     Config
	logger  *log.Logger
	guard   *guard.Guard
	ops     guard.HostOps
	metrics *metrics.Collector

	trial  *types.Trial
	conds  *trial.Conditions
	number int
	logDir string

	controlPlane *service.Service
	core         *service.Service

	radio   *proc.Process
	clients map[string]*proc.Process
	traffic *traffic.Manager
	pools   *traffic.Selector

	trafficStart time.Time
	trafficStop  sync.Once
}

func newAttempt(cfg Config, logger *log.Logger, g *guard.Guard, ops guard.HostOps,
	m *metrics.Collector, t *types.Trial, conds *trial.Conditions, number int,
	logDir string, pools *traffic.Selector) *attempt {
	return &attempt{
		cfg:     cfg,
		logger:  logger,
		guard:   g,
		ops:     ops,
		metrics: m,
		trial:   t,
		conds:   conds,
		number:  number,
		logDir:  logDir,
		clients: make(map[string]*proc.Process),
		traffic: traffic.NewManager(logger),
		pools:   pools,
	}
}

// expandArgv substitutes {key} placeholders in each argv element.
func expandArgv(argv []string, vars map[string]string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		for k, v := range vars {
			a = strings.ReplaceAll(a, "{"+k+"}", v)
		}
		out[i] = a
	}
	return out
}

// owned reports whether this attempt's trial already holds (kind, id).
// Start actions are re-invoked on retry and must not re-acquire.
func (a *attempt) owned(kind guard.Kind, id string) bool {
	for _, res := range a.guard.Live(a.trial.Key) {
		if res.Kind == kind && res.ID == id {
			return true
		}
	}
	return false
}

func (a *attempt) netnsFor(client string) string {
	if a.cfg.Clients.NetnsPrefix == "" {
		return ""
	}
	return a.cfg.Clients.NetnsPrefix + client
}

func (a *attempt) clientLogPath(client string) string {
	return filepath.Join(a.logDir, client+".log")
}

func (a *attempt) radioLogPath() string {
	if a.cfg.RadioNode.LogPath != "" {
		return a.cfg.RadioNode.LogPath
	}
	return filepath.Join(a.logDir, "radio_node.log")
}

// reap waits for p in the background so exits are observed promptly and
// Alive does not report unreaped children as running.
func reap(p *proc.Process) {
	go func() { _ = p.Wait() }()
}

// buildPhases assembles the ordered phase list for this attempt.
func (a *attempt) buildPhases() []Phase {
	return []Phase{
		a.controlPlaneUp(),
		a.coreUp(),
		a.radioNodeUp(),
		a.namespacesReady(),
		a.clientsAttached(),
		a.scenarioRunning(),
		a.clientsConnected(),
		a.trafficRunning(),
		a.validated(),
	}
}

func (a *attempt) controlPlaneUp() Phase {
	a.controlPlane = service.New(a.cfg.ControlPlane, a.logger)
	return Phase{
		Name:          types.PhaseControlPlaneUp,
		Start:         a.controlPlane.Start,
		Ready:         a.controlPlane.Ready(),
		Timeout:       a.cfg.ControlPlaneTimeout,
		DiagnosticLog: a.controlPlane.LogPath(),
	}
}

func (a *attempt) coreUp() Phase {
	a.core = service.New(a.cfg.Core, a.logger)
	return Phase{
		Name:          types.PhaseCoreUp,
		Start:         a.core.Start,
		Ready:         a.core.Ready(),
		Timeout:       a.cfg.CoreTimeout,
		DiagnosticLog: a.core.LogPath(),
	}
}

func (a *attempt) radioNodeUp() Phase {
	logPath := a.radioLogPath()
	start := func(ctx context.Context) error {
		if a.radio != nil && a.radio.Alive() {
			return nil
		}

		// The radio node cannot bind if a previous run still holds its
		// ports; acquisition force-reclaims holders.
		for _, port := range a.cfg.RadioNode.Ports {
			id := strconv.Itoa(port)
			if a.owned(guard.KindPort, id) {
				continue
			}
			if _, err := a.guard.Acquire(ctx, guard.KindPort, id, a.trial.Key); err != nil {
				return err
			}
		}
		p, err := proc.Start(ctx, proc.Config{
			Name:    "radio_node",
			Command: a.cfg.RadioNode.Command,
			Dir:     a.cfg.RadioNode.Dir,
			LogPath: logPath,
		})
		if err != nil {
			return trialerr.WrapPhase(trialerr.ErrStartFailure, "start", types.PhaseRadioNodeUp, err)
		}
		reap(p)
		a.radio = p
		_, err = a.guard.AcquireProcess(ctx, guard.KindSession, "radio_node", a.trial.Key, p.PID())
		return err
	}
	return Phase{
		Name:  types.PhaseRadioNodeUp,
		Start: start,
		Ready: health.All(
			health.LogMarker(logPath, a.cfg.RadioNode.CoreMarker),
			health.LogMarker(logPath, a.cfg.RadioNode.ControlMarker),
		),
		Timeout:       a.cfg.RadioNode.Timeout,
		DiagnosticLog: logPath,
	}
}

func (a *attempt) namespacesReady() Phase {
	names := a.conds.ClientNames()
	if a.cfg.Clients.NetnsPrefix == "" {
		// Root-namespace deployment: nothing to create.
		return Phase{
			Name:    types.PhaseNamespacesReady,
			Ready:   func(context.Context) (bool, error) { return true, nil },
			Timeout: time.Second,
		}
	}

	start := func(ctx context.Context) error {
		for _, client := range names {
			ns := a.netnsFor(client)
			if a.owned(guard.KindNetns, ns) {
				continue
			}
			if _, err := a.guard.Acquire(ctx, guard.KindNetns, ns, a.trial.Key); err != nil {
				return err
			}
		}
		return nil
	}
	ready := func(ctx context.Context) (bool, error) {
		for _, client := range names {
			exists, err := a.ops.NetnsExists(ctx, a.netnsFor(client))
			if err != nil {
				return false, err
			}
			if !exists {
				return false, nil
			}
		}
		return true, nil
	}
	return Phase{
		Name:    types.PhaseNamespacesReady,
		Start:   start,
		Ready:   ready,
		Timeout: namespacesReadyTimeout,
	}
}

func (a *attempt) clientsAttached() Phase {
	start := func(ctx context.Context) error {
		for _, assign := range a.conds.Clients {
			if p, ok := a.clients[assign.Client]; ok && p.Alive() {
				continue
			}
			logPath := a.clientLogPath(assign.Client)
			vars := map[string]string{
				"client":    assign.Client,
				"netns":     a.netnsFor(assign.Client),
				"profile":   assign.ProfilePath,
				"trial_dir": a.trial.Dir,
				"log":       logPath,
			}
			p, err := proc.Start(ctx, proc.Config{
				Name:    assign.Client,
				Command: expandArgv(a.cfg.Clients.Command, vars),
				Dir:     a.cfg.Clients.Dir,
				LogPath: logPath,
				Netns:   a.netnsFor(assign.Client),
			})
			if err != nil {
				return trialerr.WrapPhase(trialerr.ErrStartFailure, "start", types.PhaseClientsAttached,
					fmt.Errorf("client %s: %w", assign.Client, err))
			}
			reap(p)
			a.clients[assign.Client] = p
			if _, err := a.guard.AcquireProcess(ctx, guard.KindSession, "client:"+assign.Client, a.trial.Key, p.PID()); err != nil {
				return err
			}
		}
		return nil
	}
	ready := func(context.Context) (bool, error) {
		if len(a.clients) < len(a.conds.Clients) {
			return false, nil
		}
		for name, p := range a.clients {
			if !p.Alive() {
				return false, fmt.Errorf("client %s exited", name)
			}
		}
		return true, nil
	}
	return Phase{
		Name:          types.PhaseClientsAttached,
		Start:         start,
		Ready:         ready,
		Timeout:       attachReadyTimeout,
		StartAttempts: a.cfg.Clients.AttachAttempts,
		StartDelay:    a.cfg.Clients.AttachDelay,
	}
}

func (a *attempt) scenarioRunning() Phase {
	pidFile := a.cfg.Scenario.PIDFile
	start := func(ctx context.Context) error {
		if a.owned(guard.KindPIDFile, pidFile) {
			return nil
		}
		p, err := proc.Start(ctx, proc.Config{
			Name:    "scenario",
			Command: []string{a.trial.ScriptPath()},
			Dir:     a.trial.Dir,
			LogPath: filepath.Join(a.logDir, "scenario.log"),
		})
		if err != nil {
			return trialerr.WrapPhase(trialerr.ErrStartFailure, "start", types.PhaseScenarioRunning, err)
		}
		// The script backgrounds the real workload and records its PID,
		// then exits; only the PID file matters from here on.
		reap(p)
		_, err = a.guard.Acquire(ctx, guard.KindPIDFile, pidFile, a.trial.Key)
		return err
	}
	return Phase{
		Name:    types.PhaseScenarioRunning,
		Start:   start,
		Ready:   health.PIDFileAlive(pidFile),
		Timeout: a.cfg.Scenario.Timeout,
	}
}

// clientsConnected waits for every UE to report both registration markers,
// one poll per UE with its own ConnectTimeout. A single UE timing out fails
// the phase; the fan-out runs as the phase start so each wait is bounded
// independently rather than sharing one pooled budget.
func (a *attempt) clientsConnected() Phase {
	var firstLog string
	if len(a.conds.Clients) > 0 {
		firstLog = a.clientLogPath(a.conds.Clients[0].Client)
	}
	start := func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		for _, assign := range a.conds.Clients {
			assign := assign
			g.Go(func() error {
				logPath := a.clientLogPath(assign.Client)
				connected := health.All(
					health.LogMarker(logPath, a.cfg.Clients.PDUMarker),
					health.LogMarker(logPath, a.cfg.Clients.RRCMarker),
				)
				err := health.Poll(ctx, connected, a.cfg.PollInterval, a.cfg.Clients.ConnectTimeout)
				if err == nil {
					return nil
				}
				var terr *trialerr.Error
				if errors.As(err, &terr) {
					return trialerr.WrapPhase(terr.Kind, terr.Op, types.PhaseClientsConnected,
						fmt.Errorf("client %s: %w", assign.Client, terr.Err))
				}
				return fmt.Errorf("client %s: %w", assign.Client, err)
			})
		}
		return g.Wait()
	}
	return Phase{
		Name:          types.PhaseClientsConnected,
		Start:         start,
		Ready:         func(context.Context) (bool, error) { return true, nil },
		Timeout:       time.Second,
		StartAttempts: 1,
		DiagnosticLog: firstLog,
	}
}

func (a *attempt) trafficRunning() Phase {
	start := func(ctx context.Context) error {
		specs := make([]traffic.GeneratorSpec, 0, len(a.conds.Clients))
		for _, assign := range a.conds.Clients {
			target := ""
			if a.pools != nil && a.cfg.Traffic.Pool != "" {
				ep, err := a.pools.Select(a.cfg.Traffic.Pool, assign.Client)
				if err != nil {
					return trialerr.WrapPhase(trialerr.ErrStartFailure, "select", types.PhaseTrafficRunning, err)
				}
				target = ep.Addr()
			}
			logPath := filepath.Join(a.logDir, "traffic_"+assign.Client+".log")
			vars := map[string]string{
				"client":    assign.Client,
				"netns":     a.netnsFor(assign.Client),
				"profile":   assign.ProfilePath,
				"target":    target,
				"trial_dir": a.trial.Dir,
				"log":       logPath,
			}
			specs = append(specs, traffic.GeneratorSpec{
				Client:  assign.Client,
				Command: expandArgv(a.cfg.Traffic.Command, vars),
				Netns:   a.netnsFor(assign.Client),
				LogPath: logPath,
			})
		}
		if err := a.traffic.StartAll(ctx, specs); err != nil {
			return err
		}
		a.trafficStart = time.Now()
		return nil
	}
	// Traffic runs for the full configured window; a generator exiting
	// before the window closes fails the phase at timeout with the exit
	// as the recorded cause.
	ready := func(ctx context.Context) (bool, error) {
		if time.Since(a.trafficStart) >= a.cfg.Traffic.Duration {
			a.trafficStop.Do(func() {
				a.traffic.StopAll(ctx, 5*time.Second)
			})
			return true, nil
		}
		if !a.traffic.AllAlive() {
			return false, fmt.Errorf("traffic generator exited before the %s window closed", a.cfg.Traffic.Duration)
		}
		return false, nil
	}
	return Phase{
		Name:          types.PhaseTrafficRunning,
		Start:         start,
		Ready:         ready,
		Interval:      5 * time.Second,
		Timeout:       a.cfg.Traffic.Duration + 30*time.Second,
		StartAttempts: 1,
	}
}

func (a *attempt) validated() Phase {
	start := func(context.Context) error {
		report, err := validate.MetricsTable(a.trial.MetricsPath(), a.cfg.Traffic.Duration, a.cfg.ValidationTolerance)
		if err != nil {
			a.metrics.IncValidationFailure()
			return trialerr.WrapPhase(trialerr.ErrValidationFailure, "validate", types.PhaseValidated, err)
		}
		a.logger.WithPhase(types.PhaseValidated).Info("metrics validated", map[string]any{
			"rows": report.Rows,
			"span": report.Span.String(),
		})
		return nil
	}
	return Phase{
		Name:          types.PhaseValidated,
		Start:         start,
		Ready:         func(context.Context) (bool, error) { return true, nil },
		Timeout:       time.Second,
		StartAttempts: 1,
	}
}
