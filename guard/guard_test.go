package guard

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

// fakeHostOps records operations and simulates host state.
type fakeHostOps struct {
	mu        sync.Mutex
	usedPorts map[string]bool
	netns     map[string]bool
	calls     []string

	freePortErr   error
	deleteNetnsErr error
}

func newFakeHostOps() *fakeHostOps {
	return &fakeHostOps{
		usedPorts: make(map[string]bool),
		netns:     make(map[string]bool),
	}
}

func (f *fakeHostOps) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeHostOps) PortInUse(_ context.Context, port string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usedPorts[port], nil
}

func (f *fakeHostOps) FreePort(_ context.Context, port string) error {
	f.record("free_port:" + port)
	if f.freePortErr != nil {
		return f.freePortErr
	}
	f.mu.Lock()
	delete(f.usedPorts, port)
	f.mu.Unlock()
	return nil
}

func (f *fakeHostOps) NetnsExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.netns[name], nil
}

func (f *fakeHostOps) CreateNetns(_ context.Context, name string) error {
	f.record("create_netns:" + name)
	f.mu.Lock()
	f.netns[name] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeHostOps) DeleteNetns(_ context.Context, name string) error {
	f.record("delete_netns:" + name)
	if f.deleteNetnsErr != nil {
		return f.deleteNetnsErr
	}
	f.mu.Lock()
	delete(f.netns, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeHostOps) KillGroup(_ context.Context, pid int) error {
	f.record("kill_group")
	return nil
}

func (f *fakeHostOps) KillPattern(_ context.Context, pattern string) error {
	f.record("kill_pattern:" + pattern)
	return nil
}

func (f *fakeHostOps) StopPIDFile(_ context.Context, path string) error {
	f.record("stop_pidfile:" + path)
	return nil
}

func (f *fakeHostOps) DeleteRoute(_ context.Context, dest string) error {
	f.record("delete_route:" + dest)
	return nil
}

func testLogger() *log.Logger {
	return log.NewWithWriter(io.Discard)
}

var testOwner = types.TrialKey{TrialSet: 0, Experiment: 1}

func TestAcquireFreePort(t *testing.T) {
	ops := newFakeHostOps()
	g := New(ops, testLogger(), nil)

	h, err := g.Acquire(context.Background(), KindPort, "2152", testOwner)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if h.Resource().ID != "2152" || h.Resource().Kind != KindPort {
		t.Errorf("unexpected resource %v", h.Resource())
	}
	if got := len(g.Live(testOwner)); got != 1 {
		t.Errorf("Live() = %d resources, want 1", got)
	}
}

func TestAcquireBusyPortForceReclaims(t *testing.T) {
	ops := newFakeHostOps()
	ops.usedPorts["38412"] = true
	m := metrics.NewCollector("fs", "run-test", "")
	g := New(ops, testLogger(), m)

	_, err := g.Acquire(context.Background(), KindPort, "38412", testOwner)
	if err != nil {
		t.Fatalf("Acquire after reclaim: %v", err)
	}

	found := false
	for _, c := range ops.calls {
		if c == "free_port:38412" {
			found = true
		}
	}
	if !found {
		t.Error("expected force-reclaim to free the busy port")
	}

	snap := m.Snapshot()
	if snap.ReclaimAttempts != 1 {
		t.Errorf("ReclaimAttempts = %d, want 1", snap.ReclaimAttempts)
	}
	if snap.ReclaimSuccesses != 1 {
		t.Errorf("ReclaimSuccesses = %d, want 1", snap.ReclaimSuccesses)
	}
}

func TestAcquireFreePortRecordsNoReclaim(t *testing.T) {
	ops := newFakeHostOps()
	m := metrics.NewCollector("fs", "run-test", "")
	g := New(ops, testLogger(), m)

	if _, err := g.Acquire(context.Background(), KindPort, "2152", testOwner); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	snap := m.Snapshot()
	if snap.ReclaimAttempts != 0 || snap.ReclaimSuccesses != 0 {
		t.Errorf("reclaim counters = %d/%d, want 0/0", snap.ReclaimAttempts, snap.ReclaimSuccesses)
	}
}

func TestAcquireDuplicateFailsResourceBusy(t *testing.T) {
	ops := newFakeHostOps()
	g := New(ops, testLogger(), nil)

	if _, err := g.Acquire(context.Background(), KindPort, "2152", testOwner); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	_, err := g.Acquire(context.Background(), KindPort, "2152", testOwner)
	if !errors.Is(err, trialerr.ErrResourceBusy) {
		t.Errorf("duplicate Acquire error = %v, want ErrResourceBusy", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	ops := newFakeHostOps()
	g := New(ops, testLogger(), nil)

	h, err := g.Acquire(context.Background(), KindPort, "2152", testOwner)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := g.Release(context.Background(), h); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := g.Release(context.Background(), h); err != nil {
		t.Errorf("second Release: %v, want nil", err)
	}
	if err := g.Release(context.Background(), nil); err != nil {
		t.Errorf("Release(nil): %v, want nil", err)
	}
}

func TestReleaseAllReverseOrder(t *testing.T) {
	ops := newFakeHostOps()
	g := New(ops, testLogger(), nil)
	ctx := context.Background()

	if _, err := g.Acquire(ctx, KindPort, "2152", testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(ctx, KindNetns, "ue1", testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := g.AcquireProcess(ctx, KindPIDFile, "/tmp/scenario.pid", testOwner, 1234); err != nil {
		t.Fatal(err)
	}

	ops.mu.Lock()
	ops.calls = nil
	ops.mu.Unlock()

	if failed := g.ReleaseAll(ctx, testOwner); failed != 0 {
		t.Errorf("ReleaseAll failed count = %d, want 0", failed)
	}

	want := []string{"stop_pidfile:/tmp/scenario.pid", "delete_netns:ue1", "free_port:2152"}
	if len(ops.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", ops.calls, want)
	}
	for i := range want {
		if ops.calls[i] != want[i] {
			t.Errorf("call[%d] = %q, want %q (reverse-acquisition order)", i, ops.calls[i], want[i])
		}
	}
	if got := len(g.Live(testOwner)); got != 0 {
		t.Errorf("Live() after ReleaseAll = %d, want 0", got)
	}
}

func TestReleaseAllKeepsOtherOwners(t *testing.T) {
	ops := newFakeHostOps()
	g := New(ops, testLogger(), nil)
	ctx := context.Background()
	other := types.TrialKey{TrialSet: 1, Experiment: 4}

	if _, err := g.Acquire(ctx, KindPort, "2152", other); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(ctx, KindNetns, "ue1", testOwner); err != nil {
		t.Fatal(err)
	}

	if failed := g.ReleaseAll(ctx, testOwner); failed != 0 {
		t.Errorf("ReleaseAll failed = %d, want 0", failed)
	}

	// The other trial's handle must survive in the release order.
	live := g.Live(other)
	if len(live) != 1 || live[0].ID != "2152" {
		t.Fatalf("Live(other) = %v, want the port handle", live)
	}
	if failed := g.ReleaseAll(ctx, other); failed != 0 {
		t.Errorf("ReleaseAll(other) failed = %d, want 0", failed)
	}
	found := false
	for _, c := range ops.calls {
		if c == "free_port:2152" {
			found = true
		}
	}
	if !found {
		t.Error("other trial's port was never released")
	}
}

func TestReleaseAllContinuesPastFailures(t *testing.T) {
	ops := newFakeHostOps()
	ops.deleteNetnsErr = errors.New("netns busy")
	g := New(ops, testLogger(), nil)
	ctx := context.Background()

	if _, err := g.Acquire(ctx, KindPort, "2152", testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(ctx, KindNetns, "ue1", testOwner); err != nil {
		t.Fatal(err)
	}

	failed := g.ReleaseAll(ctx, testOwner)
	if failed != 1 {
		t.Errorf("failed = %d, want 1", failed)
	}

	// The port release after the failing netns release must still run.
	found := false
	for _, c := range ops.calls {
		if c == "free_port:2152" {
			found = true
		}
	}
	if !found {
		t.Error("release did not continue past netns failure")
	}
}

func TestForceReclaimSessionByPattern(t *testing.T) {
	ops := newFakeHostOps()
	g := New(ops, testLogger(), nil)

	if err := g.ForceReclaim(context.Background(), KindSession, "gnb_console"); err != nil {
		t.Fatalf("ForceReclaim: %v", err)
	}
	if len(ops.calls) != 1 || ops.calls[0] != "kill_pattern:gnb_console" {
		t.Errorf("calls = %v, want kill_pattern", ops.calls)
	}
}

func TestReleaseKindOnlyTargetsKind(t *testing.T) {
	ops := newFakeHostOps()
	g := New(ops, testLogger(), nil)
	ctx := context.Background()

	if _, err := g.Acquire(ctx, KindPort, "2152", testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(ctx, KindNetns, "ue1", testOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Acquire(ctx, KindNetns, "ue2", testOwner); err != nil {
		t.Fatal(err)
	}

	if failed := g.ReleaseKind(ctx, testOwner, KindNetns); failed != 0 {
		t.Errorf("ReleaseKind failed = %d, want 0", failed)
	}

	// Namespaces released in reverse-acquisition order, port untouched.
	var deletes []string
	for _, c := range ops.calls {
		if c == "delete_netns:ue1" || c == "delete_netns:ue2" || c == "free_port:2152" {
			deletes = append(deletes, c)
		}
	}
	if len(deletes) != 2 || deletes[0] != "delete_netns:ue2" || deletes[1] != "delete_netns:ue1" {
		t.Errorf("releases = %v, want [delete_netns:ue2 delete_netns:ue1]", deletes)
	}

	live := g.Live(testOwner)
	if len(live) != 1 || live[0].Kind != KindPort {
		t.Errorf("Live = %v, want only the port", live)
	}
}
