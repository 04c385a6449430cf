package runtime

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/oranbench/gridrunner/guard"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/trial"
	"github.com/oranbench/gridrunner/types"
)

// recordingOps implements guard.HostOps against in-memory host state.
type recordingOps struct {
	mu    sync.Mutex
	netns map[string]bool
	calls []string

	killPatternErr error
}

func newRecordingOps() *recordingOps {
	return &recordingOps{netns: make(map[string]bool)}
}

func (r *recordingOps) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingOps) recorded(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (r *recordingOps) PortInUse(context.Context, string) (bool, error) { return false, nil }

func (r *recordingOps) FreePort(_ context.Context, port string) error {
	r.record("free_port:" + port)
	return nil
}

func (r *recordingOps) NetnsExists(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.netns[name], nil
}

func (r *recordingOps) CreateNetns(_ context.Context, name string) error {
	r.record("create_netns:" + name)
	r.mu.Lock()
	r.netns[name] = true
	r.mu.Unlock()
	return nil
}

func (r *recordingOps) DeleteNetns(_ context.Context, name string) error {
	r.record("delete_netns:" + name)
	r.mu.Lock()
	delete(r.netns, name)
	r.mu.Unlock()
	return nil
}

func (r *recordingOps) KillGroup(_ context.Context, pid int) error {
	r.record("kill_group")
	return nil
}

func (r *recordingOps) KillPattern(_ context.Context, pattern string) error {
	r.record("kill_pattern:" + pattern)
	return r.killPatternErr
}

func (r *recordingOps) StopPIDFile(_ context.Context, path string) error {
	r.record("stop_pidfile:" + path)
	return nil
}

func (r *recordingOps) DeleteRoute(_ context.Context, dest string) error {
	r.record("delete_route:" + dest)
	return nil
}

var _ guard.HostOps = (*recordingOps)(nil)

func cleanupFixture(t *testing.T) (Config, *recordingOps, *guard.Guard, *attempt) {
	t.Helper()
	cfg := testConfig()
	cfg.WorkDir = t.TempDir()
	cfg.Clients.NetnsPrefix = "ns-"
	cfg.Cleanup.KillPatterns = []string{"iperf3", "run_client"}
	cfg.Cleanup.Route = "10.45.0.0/16"

	ops := newRecordingOps()
	g := guard.New(ops, testLogger(), nil)

	tr := &types.Trial{Key: types.TrialKey{TrialSet: 1, Experiment: 1}, Dir: t.TempDir()}
	conds := &trial.Conditions{Clients: []trial.ClientAssignment{
		{Client: "UE1", ProfilePath: "/p/a.json"},
		{Client: "UE2", ProfilePath: "/p/b.json"},
	}}
	at := newAttempt(cfg, testLogger(), g, ops, nil, tr, conds, 1, cfg.WorkDir, nil)
	return cfg, ops, g, at
}

func TestCleanupRunsEveryStep(t *testing.T) {
	cfg, ops, g, at := cleanupFixture(t)
	ctx := context.Background()

	// Simulate an attempt that acquired resources and wrote temp files.
	if _, err := g.Acquire(ctx, guard.KindPort, "2152", at.trial.Key); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(ctx, guard.KindNetns, "ns-UE1", at.trial.Key); err != nil {
		t.Fatal(err)
	}
	tempFile := filepath.Join(at.trial.Dir, "scratch.bin")
	if err := os.WriteFile(tempFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.Cleanup.TempPaths = []string{filepath.Join("{trial_dir}", "scratch.bin")}

	m := metrics.NewCollector("fs", "run-test", "1x1")
	c := NewCleaner(cfg, testLogger(), g, ops, m)

	if failed := c.Run(ctx, at); failed != 0 {
		t.Fatalf("failed steps = %d, want 0", failed)
	}

	if got := ops.recorded("stop_pidfile:"); len(got) == 0 {
		t.Fatal("scenario PID file was not stopped")
	}
	if got := ops.recorded("delete_netns:ns-UE1"); len(got) == 0 {
		t.Fatal("owned namespace was not deleted")
	}
	if got := ops.recorded("kill_pattern:iperf3"); len(got) != 1 {
		t.Fatalf("iperf3 pattern kills = %d, want 1", len(got))
	}
	if got := ops.recorded("free_port:2152"); len(got) == 0 {
		t.Fatal("well-known port was not freed")
	}
	if got := ops.recorded("delete_route:10.45.0.0/16"); len(got) != 1 {
		t.Fatalf("route deletions = %d, want 1", len(got))
	}
	if len(g.Live(at.trial.Key)) != 0 {
		t.Fatalf("resources still live: %v", g.Live(at.trial.Key))
	}
	if _, err := os.Stat(tempFile); !os.IsNotExist(err) {
		t.Fatalf("temp file still present: %v", err)
	}

	if m.Snapshot().CleanupsRun != 1 {
		t.Fatal("cleanup run not counted")
	}
}

func TestCleanupContinuesPastFailures(t *testing.T) {
	cfg, ops, g, at := cleanupFixture(t)
	ops.killPatternErr = errors.New("pkill unavailable")

	m := metrics.NewCollector("fs", "run-test", "1x1")
	c := NewCleaner(cfg, testLogger(), g, ops, m)

	failed := c.Run(context.Background(), at)
	if failed == 0 {
		t.Fatal("expected failed steps")
	}

	// Later steps still ran despite the pattern-kill failures.
	if got := ops.recorded("delete_route:"); len(got) != 1 {
		t.Fatal("route deletion skipped after earlier failure")
	}
	if got := ops.recorded("free_port:"); len(got) != len(cfg.RadioNode.Ports) {
		t.Fatalf("port frees = %d, want %d", len(got), len(cfg.RadioNode.Ports))
	}
	if m.Snapshot().CleanupStepFailures == 0 {
		t.Fatal("step failures not counted")
	}
}

func TestCleanupIdempotentOnCleanHost(t *testing.T) {
	cfg, ops, g, at := cleanupFixture(t)
	m := metrics.NewCollector("fs", "run-test", "1x1")
	c := NewCleaner(cfg, testLogger(), g, ops, m)

	for i := 0; i < 2; i++ {
		if failed := c.Run(context.Background(), at); failed != 0 {
			t.Fatalf("pass %d: failed steps = %d, want 0", i+1, failed)
		}
	}
}

func TestCleanupProceedsWhenRunCanceled(t *testing.T) {
	cfg, ops, g, at := cleanupFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := metrics.NewCollector("fs", "run-test", "1x1")
	c := NewCleaner(cfg, testLogger(), g, ops, m)

	if failed := c.Run(ctx, at); failed != 0 {
		t.Fatalf("failed steps = %d, want 0 (cleanup must outlive cancellation)", failed)
	}
	if got := ops.recorded("free_port:"); len(got) == 0 {
		t.Fatal("ports not freed under canceled context")
	}
}
