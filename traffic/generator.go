package traffic

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/proc"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

// GeneratorSpec describes one traffic generator process.
type GeneratorSpec struct {
	// Client is the UE this generator drives traffic for.
	Client string
	// Command is the generator argv, already templated with the target
	// endpoint and profile path.
	Command []string
	// Dir is the working directory.
	Dir string
	// Netns is the client network namespace to run inside.
	Netns string
	// LogPath receives combined generator output.
	LogPath string
}

// startFunc launches one generator process. Injectable for tests.
type startFunc func(ctx context.Context, cfg proc.Config) (*proc.Process, error)

// Manager owns the traffic generator processes of one attempt.
// Start is all-or-nothing: if any generator fails to launch, the ones already
// running are stopped and the whole start fails.
type Manager struct {
	logger *log.Logger
	start  startFunc

	mu    sync.Mutex
	procs []*proc.Process
}

// NewManager creates a generator manager.
func NewManager(logger *log.Logger) *Manager {
	return &Manager{logger: logger, start: proc.Start}
}

// newManagerWithStart is the test seam for injecting a start function.
func newManagerWithStart(logger *log.Logger, start startFunc) *Manager {
	return &Manager{logger: logger, start: start}
}

// StartAll launches every generator. On the first failure it stops the
// generators already started and returns ErrStartFailure naming the client.
func (m *Manager) StartAll(ctx context.Context, specs []GeneratorSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.procs) > 0 {
		return trialerr.New(trialerr.ErrStartFailure, "traffic.start", types.PhaseTrafficRunning,
			errors.New("generators already running"))
	}

	started := make([]*proc.Process, 0, len(specs))
	for _, spec := range specs {
		p, err := m.start(ctx, proc.Config{
			Name:    "traffic-" + spec.Client,
			Command: spec.Command,
			Dir:     spec.Dir,
			Netns:   spec.Netns,
			LogPath: spec.LogPath,
		})
		if err != nil {
			m.logger.Error("traffic generator failed to start", map[string]any{
				"client": spec.Client,
				"error":  err.Error(),
			})
			m.stopLocked(ctx, started, 5*time.Second)
			return trialerr.WrapPhase(trialerr.ErrStartFailure, "traffic.start", types.PhaseTrafficRunning,
				fmt.Errorf("generator for %s: %w", spec.Client, err))
		}
		m.logger.Debug("traffic generator started", map[string]any{
			"client": spec.Client,
			"pid":    p.PID(),
		})
		// Reap on exit so AllAlive sees generators that died mid-run.
		go func() { _ = p.Wait() }()
		started = append(started, p)
	}

	m.procs = started
	return nil
}

// AllAlive reports whether every started generator still holds a live process.
// Returns false when nothing was started.
func (m *Manager) AllAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.procs) == 0 {
		return false
	}
	for _, p := range m.procs {
		if !p.Alive() {
			return false
		}
	}
	return true
}

// PIDs returns the PIDs of the started generators.
func (m *Manager) PIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pids := make([]int, 0, len(m.procs))
	for _, p := range m.procs {
		pids = append(pids, p.PID())
	}
	return pids
}

// StopAll stops every generator in reverse start order. Best-effort: stop
// failures are logged and counted, never fatal. Returns the failure count.
func (m *Manager) StopAll(ctx context.Context, grace time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	failed := m.stopLocked(ctx, m.procs, grace)
	m.procs = nil
	return failed
}

func (m *Manager) stopLocked(ctx context.Context, procs []*proc.Process, grace time.Duration) int {
	failed := 0
	for i := len(procs) - 1; i >= 0; i-- {
		p := procs[i]
		if err := p.Stop(ctx, grace); err != nil {
			failed++
			m.logger.Warn("traffic generator stop failed", map[string]any{
				"name":  p.Name(),
				"pid":   p.PID(),
				"error": err.Error(),
			})
		}
	}
	return failed
}
