// Package proc manages orchestration-owned child processes: the scenario
// launch script, client radios, and traffic generators.
//
// Each process runs in its own session (setsid) so the whole group can be
// signaled at teardown, optionally inside a network namespace, with output
// redirected to a per-process log file and the PID recorded to a file for
// external inspection.
package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/oranbench/gridrunner/iox"
)

// Config configures a managed child process.
type Config struct {
	// Name labels the process in logs and errors.
	Name string
	// Command is the argv to execute. Must be non-empty.
	Command []string
	// Dir is the working directory. Empty inherits the orchestrator's.
	Dir string
	// Env is extra environment entries appended to the inherited environment.
	Env []string
	// LogPath redirects combined stdout/stderr to this file when set.
	LogPath string
	// Netns runs the command inside the named network namespace when set
	// (wrapped with `ip netns exec`).
	Netns string
	// PIDFile records the started PID to this path when set.
	PIDFile string
}

// Process is a started child process.
type Process struct {
	config Config
	cmd    *exec.Cmd
	logf   *os.File

	mu     sync.Mutex
	waited bool
	werr   error
}

// Start launches the process described by config.
func Start(ctx context.Context, config Config) (*Process, error) {
	if len(config.Command) == 0 {
		return nil, errors.New("proc: empty command")
	}

	argv := config.Command
	if config.Netns != "" {
		argv = append([]string{"ip", "netns", "exec", config.Netns}, argv...)
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = config.Dir
	if len(config.Env) > 0 {
		cmd.Env = append(os.Environ(), config.Env...)
	}
	// Own session: the negative PID addresses the whole group at teardown.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	p := &Process{config: config, cmd: cmd}

	if config.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(config.LogPath), 0o755); err != nil {
			return nil, fmt.Errorf("proc %s: create log dir: %w", config.Name, err)
		}
		f, err := os.OpenFile(config.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("proc %s: open log: %w", config.Name, err)
		}
		p.logf = f
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		if p.logf != nil {
			iox.DiscardClose(p.logf)
		}
		return nil, fmt.Errorf("proc %s: start: %w", config.Name, err)
	}

	if config.PIDFile != "" {
		pidData := []byte(strconv.Itoa(cmd.Process.Pid) + "\n")
		if err := os.WriteFile(config.PIDFile, pidData, 0o644); err != nil {
			_ = p.Kill()
			return nil, fmt.Errorf("proc %s: write pidfile: %w", config.Name, err)
		}
	}

	return p, nil
}

// Name returns the configured process label.
func (p *Process) Name() string { return p.config.Name }

// PID returns the process ID. With Setsid this is also the group leader.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	pid := p.PID()
	if pid <= 0 {
		return false
	}
	p.mu.Lock()
	waited := p.waited
	p.mu.Unlock()
	if waited {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Wait reaps the process and returns its exit error, if any.
// Safe to call more than once.
func (p *Process) Wait() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.waited {
		p.werr = p.cmd.Wait()
		p.waited = true
		if p.logf != nil {
			iox.DiscardClose(p.logf)
		}
		if p.config.PIDFile != "" {
			_ = os.Remove(p.config.PIDFile)
		}
	}
	return p.werr
}

// Stop terminates the process group gracefully: SIGTERM, then SIGKILL if the
// group is still alive after grace. Always reaps. Tolerates the process
// already being gone.
func (p *Process) Stop(ctx context.Context, grace time.Duration) error {
	pid := p.PID()
	if pid <= 0 {
		return nil
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("proc %s: signal group: %w", p.config.Name, err)
	}

	done := make(chan struct{})
	go func() {
		_ = p.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		<-done
		return ctx.Err()
	}
	return nil
}

// Kill forcefully terminates the process group and reaps it.
func (p *Process) Kill() error {
	pid := p.PID()
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	_ = p.Wait()
	return nil
}

// ExitCode returns the exit code after Wait, or -1 if unavailable.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.waited {
		return -1
	}
	if p.werr == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(p.werr, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
