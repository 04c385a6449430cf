package proc

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestStartAndWait(t *testing.T) {
	p, err := Start(context.Background(), Config{
		Name:    "true",
		Command: []string{"sh", "-c", "exit 0"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if code := p.ExitCode(); code != 0 {
		t.Errorf("ExitCode = %d, want 0", code)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	if _, err := Start(context.Background(), Config{Name: "empty"}); err == nil {
		t.Fatal("Start with empty command succeeded, want error")
	}
}

func TestLogRedirection(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "ue1.log")

	p, err := Start(context.Background(), Config{
		Name:    "echo",
		Command: []string{"sh", "-c", "echo attached; echo oops >&2"},
		LogPath: logPath,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = p.Wait()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, "attached") || !strings.Contains(out, "oops") {
		t.Errorf("log %q missing combined stdout/stderr", out)
	}
}

func TestPIDFileWrittenAndRemoved(t *testing.T) {
	dir := t.TempDir()
	pidFile := filepath.Join(dir, "proc.pid")

	p, err := Start(context.Background(), Config{
		Name:    "sleeper",
		Command: []string{"sleep", "10"},
		PIDFile: pidFile,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("pidfile not written: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid != p.PID() {
		t.Errorf("pidfile contains %q, want %d", data, p.PID())
	}

	if err := p.Stop(context.Background(), time.Second); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Error("pidfile not removed after reap")
	}
}

func TestStopGracefulThenForced(t *testing.T) {
	// Process that ignores SIGTERM; only SIGKILL can end it.
	p, err := Start(context.Background(), Config{
		Name:    "stubborn",
		Command: []string{"sh", "-c", "trap '' TERM; sleep 30"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	start := time.Now()
	if err := p.Stop(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	elapsed := time.Since(start)

	if p.Alive() {
		t.Error("process still alive after Stop")
	}
	// Must not have waited anywhere near the sleep duration.
	if elapsed > 5*time.Second {
		t.Errorf("Stop took %s, want forced kill after grace", elapsed)
	}
}

func TestAliveLifecycle(t *testing.T) {
	p, err := Start(context.Background(), Config{
		Name:    "sleeper",
		Command: []string{"sleep", "10"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Alive() {
		t.Error("Alive = false for running process")
	}
	if err := p.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if p.Alive() {
		t.Error("Alive = true after Kill")
	}
}
