package runtime

import (
	"context"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oranbench/gridrunner/guard"
	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/service"
	"github.com/oranbench/gridrunner/types"
)

// trafficStopGrace is the term-to-kill grace for traffic generators.
const trafficStopGrace = 5 * time.Second

// Cleaner runs the teardown protocol after every attempt, successful or not.
// Each step is independent and idempotent: a step failing is logged and
// counted, never aborts the remaining steps, and re-running the whole
// sequence against an already-clean host is harmless.
type Cleaner struct {
	cfg     Config
	logger  *log.Logger
	guard   *guard.Guard
	ops     guard.HostOps
	metrics *metrics.Collector
}

// NewCleaner creates a Cleaner.
func NewCleaner(cfg Config, logger *log.Logger, g *guard.Guard, ops guard.HostOps, m *metrics.Collector) *Cleaner {
	return &Cleaner{cfg: cfg, logger: logger, guard: g, ops: ops, metrics: m}
}

// Run executes the full teardown for the given attempt and returns the
// number of failed steps. Teardown proceeds even when the run context is
// canceled: cancellation is precisely when cleanup matters most.
func (c *Cleaner) Run(ctx context.Context, at *attempt) int {
	ctx = context.WithoutCancel(ctx)
	owner := at.trial.Key
	clog := c.logger.WithTrial(owner, at.number)
	clog.Info("cleanup starting", map[string]any{})
	c.metrics.IncCleanupRun()

	failed := 0
	step := func(name string, fn func() int) {
		n := fn()
		if n > 0 {
			failed += n
			for i := 0; i < n; i++ {
				c.metrics.IncCleanupStepFailure()
			}
			clog.Warn("cleanup step had failures", map[string]any{"step": name, "failures": n})
		} else {
			clog.Debug("cleanup step done", map[string]any{"step": name})
		}
	}

	step("stop_traffic", func() int { return c.stopTraffic(ctx, at) })
	step("stop_scenario", func() int { return c.stopScenario(ctx, owner) })
	step("release_sessions", func() int { return c.guard.ReleaseKind(ctx, owner, guard.KindSession) })
	step("stop_services", func() int { return c.stopServices(ctx, at) })
	step("release_netns", func() int { return c.releaseNetns(ctx, at) })
	step("kill_patterns", func() int { return c.killPatterns(ctx) })
	step("release_ports", func() int { return c.releasePorts(ctx, owner) })
	step("remove_temp", func() int { return c.removeTemp(at) })
	step("delete_route", func() int { return c.deleteRoute(ctx) })

	clog.Info("cleanup finished", map[string]any{"failed_steps": failed})
	return failed
}

func (c *Cleaner) stopTraffic(ctx context.Context, at *attempt) int {
	failed := 0
	if at.traffic != nil {
		failed += at.traffic.StopAll(ctx, trafficStopGrace)
	}
	if c.cfg.Traffic.KillPattern != "" {
		if err := c.ops.KillPattern(ctx, c.cfg.Traffic.KillPattern); err != nil {
			failed++
		}
	}
	return failed
}

func (c *Cleaner) stopScenario(ctx context.Context, owner types.TrialKey) int {
	// Release the tracked PID-file handle; fall back to stopping the
	// configured path directly when nothing was ever registered.
	failed := c.guard.ReleaseKind(ctx, owner, guard.KindPIDFile)
	if err := c.ops.StopPIDFile(ctx, c.cfg.Scenario.PIDFile); err != nil {
		failed++
	}
	return failed
}

func (c *Cleaner) stopServices(ctx context.Context, at *attempt) int {
	var g errgroup.Group
	for _, svc := range []*service.Service{at.controlPlane, at.core} {
		svc := svc
		g.Go(func() error {
			if svc == nil {
				return nil
			}
			return svc.Stop(ctx, c.cfg.Cleanup.StopTimeout)
		})
	}
	if err := g.Wait(); err != nil {
		return 1
	}
	return 0
}

func (c *Cleaner) releaseNetns(ctx context.Context, at *attempt) int {
	failed := c.guard.ReleaseKind(ctx, at.trial.Key, guard.KindNetns)
	if c.cfg.Clients.NetnsPrefix != "" && at.conds != nil {
		// Sweep namespaces that may predate this attempt's registrations.
		for _, client := range at.conds.ClientNames() {
			ns := c.cfg.Clients.NetnsPrefix + client
			exists, err := c.ops.NetnsExists(ctx, ns)
			if err != nil || !exists {
				continue
			}
			if err := c.ops.DeleteNetns(ctx, ns); err != nil {
				failed++
			}
		}
	}
	return failed
}

func (c *Cleaner) killPatterns(ctx context.Context) int {
	failed := 0
	for _, pattern := range c.cfg.Cleanup.KillPatterns {
		if err := c.ops.KillPattern(ctx, pattern); err != nil {
			failed++
		}
	}
	return failed
}

func (c *Cleaner) releasePorts(ctx context.Context, owner types.TrialKey) int {
	failed := c.guard.ReleaseKind(ctx, owner, guard.KindPort)
	// The well-known ports are freed unconditionally so a crashed prior
	// attempt cannot wedge the next one.
	for _, port := range c.cfg.RadioNode.Ports {
		if err := c.ops.FreePort(ctx, strconv.Itoa(port)); err != nil {
			failed++
		}
	}
	return failed
}

func (c *Cleaner) removeTemp(at *attempt) int {
	failed := 0
	vars := map[string]string{
		"trial_dir": at.trial.Dir,
		"work_dir":  c.cfg.WorkDir,
	}
	for _, raw := range c.cfg.Cleanup.TempPaths {
		path := expandArgv([]string{raw}, vars)[0]
		if err := os.RemoveAll(path); err != nil {
			failed++
		}
	}
	return failed
}

func (c *Cleaner) deleteRoute(ctx context.Context) int {
	if c.cfg.Cleanup.Route == "" {
		return 0
	}
	if err := c.ops.DeleteRoute(ctx, c.cfg.Cleanup.Route); err != nil {
		return 1
	}
	return 0
}
