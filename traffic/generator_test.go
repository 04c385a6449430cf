package traffic

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/proc"
	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

func testLogger() *log.Logger {
	return log.NewWithWriter(io.Discard)
}

func TestStartAllAndStopAll(t *testing.T) {
	m := NewManager(testLogger())

	specs := []GeneratorSpec{
		{Client: "ue1", Command: []string{"sleep", "30"}},
		{Client: "ue2", Command: []string{"sleep", "30"}},
	}
	if err := m.StartAll(t.Context(), specs); err != nil {
		t.Fatalf("StartAll: %v", err)
	}

	if !m.AllAlive() {
		t.Error("AllAlive = false after successful start")
	}
	if pids := m.PIDs(); len(pids) != 2 {
		t.Errorf("PIDs = %v, want 2 entries", pids)
	}

	if failed := m.StopAll(t.Context(), 2*time.Second); failed != 0 {
		t.Errorf("StopAll reported %d failures", failed)
	}
	if m.AllAlive() {
		t.Error("AllAlive = true after StopAll")
	}
}

func TestStartAllPartialFailureStopsStarted(t *testing.T) {
	var started []*proc.Process
	m := newManagerWithStart(testLogger(), func(ctx context.Context, cfg proc.Config) (*proc.Process, error) {
		p, err := proc.Start(ctx, cfg)
		if err == nil {
			started = append(started, p)
		}
		return p, err
	})

	specs := []GeneratorSpec{
		{Client: "ue1", Command: []string{"sleep", "30"}},
		{Client: "ue2", Command: []string{"/nonexistent/generator"}},
	}
	err := m.StartAll(t.Context(), specs)
	if err == nil {
		t.Fatal("StartAll succeeded with a bad generator command")
	}
	if !errors.Is(err, trialerr.ErrStartFailure) {
		t.Errorf("error = %v, want ErrStartFailure", err)
	}
	if got := trialerr.PhaseOf(err); got != types.PhaseTrafficRunning {
		t.Errorf("PhaseOf = %q, want TrafficRunning", got)
	}

	if len(started) != 1 {
		t.Fatalf("started %d processes, want 1", len(started))
	}
	// The surviving generator must have been stopped during rollback.
	deadline := time.Now().Add(3 * time.Second)
	for started[0].Alive() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if started[0].Alive() {
		t.Error("first generator still alive after rollback")
	}

	if m.AllAlive() {
		t.Error("AllAlive = true after failed start")
	}
}

func TestStartAllRejectsDoubleStart(t *testing.T) {
	m := NewManager(testLogger())
	specs := []GeneratorSpec{{Client: "ue1", Command: []string{"sleep", "30"}}}

	if err := m.StartAll(t.Context(), specs); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(t.Context(), 2*time.Second)

	if err := m.StartAll(t.Context(), specs); !errors.Is(err, trialerr.ErrStartFailure) {
		t.Errorf("second StartAll = %v, want ErrStartFailure", err)
	}
}

func TestAllAliveDetectsExit(t *testing.T) {
	m := NewManager(testLogger())

	specs := []GeneratorSpec{
		{Client: "ue1", Command: []string{"sh", "-c", "exit 0"}},
	}
	if err := m.StartAll(t.Context(), specs); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	defer m.StopAll(t.Context(), time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for m.AllAlive() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if m.AllAlive() {
		t.Error("AllAlive = true after generator exited")
	}
}

func TestAllAliveEmptyManager(t *testing.T) {
	m := NewManager(testLogger())
	if m.AllAlive() {
		t.Error("AllAlive = true with no generators")
	}
}
