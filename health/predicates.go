package health

import (
	"context"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LogMarker returns a predicate that holds once the file at path contains
// marker. The file not existing yet is "not ready", not an error: managed
// services create their logs some time after start.
func LogMarker(path, marker string) Predicate {
	return func(_ context.Context) (bool, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		return strings.Contains(string(data), marker), nil
	}
}

// FileExists returns a predicate that holds once the file at path exists.
func FileExists(path string) Predicate {
	return func(_ context.Context) (bool, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
}

// PIDFileAlive returns a predicate that holds once the PID file at path
// exists and the recorded process is alive.
func PIDFileAlive(path string) Predicate {
	return func(_ context.Context) (bool, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil || pid <= 0 {
			return false, nil
		}
		// Signal 0 probes existence without delivering a signal.
		return syscall.Kill(pid, 0) == nil, nil
	}
}

// TCPPortOpen returns a predicate that holds once a TCP connection to
// host:port succeeds.
func TCPPortOpen(host string, port int) Predicate {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	return func(ctx context.Context) (bool, error) {
		d := net.Dialer{Timeout: time.Second}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false, nil
		}
		_ = conn.Close()
		return true, nil
	}
}

// CommandOK returns a predicate that holds once the command exits zero.
// Used for managed services that expose health as an inspect command.
func CommandOK(name string, args ...string) Predicate {
	return func(ctx context.Context) (bool, error) {
		cmd := exec.CommandContext(ctx, name, args...)
		return cmd.Run() == nil, nil
	}
}
