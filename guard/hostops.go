package guard

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HostOps abstracts the host-level operations the guard performs.
// The real implementation shells out; tests substitute a fake.
type HostOps interface {
	// PortInUse reports whether a TCP or UDP listener holds the port.
	PortInUse(ctx context.Context, port string) (bool, error)
	// FreePort kills any holder of the port. No-op if already free.
	FreePort(ctx context.Context, port string) error

	// NetnsExists reports whether the named network namespace exists.
	NetnsExists(ctx context.Context, name string) (bool, error)
	// CreateNetns creates the named network namespace.
	CreateNetns(ctx context.Context, name string) error
	// DeleteNetns removes the named network namespace. No-op if absent.
	DeleteNetns(ctx context.Context, name string) error

	// KillGroup terminates the process group led by pid, graceful then forced.
	KillGroup(ctx context.Context, pid int) error
	// KillPattern terminates processes whose command line matches pattern.
	// No-op if nothing matches.
	KillPattern(ctx context.Context, pattern string) error

	// StopPIDFile terminates the process recorded in the PID file at path
	// (graceful signal, forced kill after a grace period) and removes the
	// file. No-op if the file is absent or the process is gone.
	StopPIDFile(ctx context.Context, path string) error

	// DeleteRoute removes a host route for the given destination CIDR.
	// No-op if the route is absent.
	DeleteRoute(ctx context.Context, dest string) error
}

// killGrace is how long ExecHostOps waits between SIGTERM and SIGKILL.
const killGrace = 3 * time.Second

// ExecHostOps is the production HostOps backed by standard Linux tooling
// (fuser, ip, pkill).
type ExecHostOps struct{}

// NewExecHostOps returns the production host operations.
func NewExecHostOps() *ExecHostOps { return &ExecHostOps{} }

// PortInUse probes the port with fuser for both TCP and UDP.
func (e *ExecHostOps) PortInUse(ctx context.Context, port string) (bool, error) {
	for _, proto := range []string{"tcp", "udp"} {
		cmd := exec.CommandContext(ctx, "fuser", "-s", port+"/"+proto)
		if err := cmd.Run(); err == nil {
			return true, nil
		}
		// fuser exits non-zero when no process holds the port.
	}
	return false, nil
}

// FreePort kills any holder of the port for both TCP and UDP.
func (e *ExecHostOps) FreePort(ctx context.Context, port string) error {
	for _, proto := range []string{"tcp", "udp"} {
		cmd := exec.CommandContext(ctx, "fuser", "-k", "-s", port+"/"+proto)
		_ = cmd.Run() // non-zero means nothing was holding the port
	}
	return nil
}

// NetnsExists checks `ip netns list` output for the name.
func (e *ExecHostOps) NetnsExists(ctx context.Context, name string) (bool, error) {
	out, err := exec.CommandContext(ctx, "ip", "netns", "list").Output()
	if err != nil {
		return false, fmt.Errorf("ip netns list: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[0] == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateNetns creates the namespace via `ip netns add`.
func (e *ExecHostOps) CreateNetns(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "ip", "netns", "add", name).CombinedOutput()
	if err != nil {
		return fmt.Errorf("ip netns add %s: %v: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// DeleteNetns removes the namespace, tolerating absence.
func (e *ExecHostOps) DeleteNetns(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "ip", "netns", "delete", name).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "No such file") || strings.Contains(msg, "Cannot find") {
			return nil
		}
		return fmt.Errorf("ip netns delete %s: %v: %s", name, err, msg)
	}
	return nil
}

// KillGroup signals the whole process group, SIGTERM then SIGKILL.
func (e *ExecHostOps) KillGroup(ctx context.Context, pid int) error {
	if pid <= 0 {
		return nil
	}
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("kill group %d: %w", pid, err)
	}

	// Grace period, then force.
	select {
	case <-ctx.Done():
	case <-time.After(killGrace):
	}
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("kill -9 group %d: %w", pid, err)
	}
	return nil
}

// KillPattern terminates matching processes via pkill -f.
func (e *ExecHostOps) KillPattern(ctx context.Context, pattern string) error {
	cmd := exec.CommandContext(ctx, "pkill", "-9", "-f", pattern)
	if err := cmd.Run(); err != nil {
		// Exit code 1 means no processes matched.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("pkill -f %q: %w", pattern, err)
	}
	return nil
}

// StopPIDFile terminates the recorded process and removes the file.
func (e *ExecHostOps) StopPIDFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	pid, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if convErr == nil && pid > 0 {
		if err := syscall.Kill(pid, syscall.SIGTERM); err == nil {
			select {
			case <-ctx.Done():
			case <-time.After(killGrace):
			}
			if syscall.Kill(pid, 0) == nil {
				_ = syscall.Kill(pid, syscall.SIGKILL)
			}
		}
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeleteRoute removes the route via `ip route del`, tolerating absence.
func (e *ExecHostOps) DeleteRoute(ctx context.Context, dest string) error {
	out, err := exec.CommandContext(ctx, "ip", "route", "del", dest).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "No such process") {
			return nil
		}
		return fmt.Errorf("ip route del %s: %v: %s", dest, err, msg)
	}
	return nil
}

// Verify ExecHostOps implements HostOps.
var _ HostOps = (*ExecHostOps)(nil)
