// Package service manages the opaque subsystems the orchestrator brings up
// and tears down: the radio-network control plane and the core-network
// emulator.
//
// Each subsystem exposes only a start command, a queryable health signal,
// and a stop command; the orchestrator treats the internals as a black box.
// A service may be marked External, meaning an operator manages its
// lifecycle and the orchestrator only waits for health.
package service

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/oranbench/gridrunner/health"
	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/trialerr"
)

// Config describes one managed service.
type Config struct {
	// Name labels the service in logs and errors.
	Name string
	// StartCommand is the argv that brings the service up.
	StartCommand []string
	// StopCommand is the argv that brings the service down.
	StopCommand []string
	// Dir is the working directory for start/stop commands.
	Dir string
	// LogPath is the service's log stream, scanned for readiness markers.
	LogPath string
	// ReadyMarker is the log substring signalling readiness. When empty,
	// HealthCommand is used instead.
	ReadyMarker string
	// HealthCommand is an argv that exits zero once the service is healthy.
	HealthCommand []string
	// StopPattern is a process name pattern for force-stop fallback when
	// the stop command times out.
	StopPattern string
	// External marks the service as operator-managed: Start and Stop are
	// no-ops and only the health signal is consulted.
	External bool
}

// Service is a managed subsystem.
type Service struct {
	config Config
	logger *log.Logger
}

// New creates a Service from config.
func New(config Config, logger *log.Logger) *Service {
	return &Service{config: config, logger: logger}
}

// Name returns the service label.
func (s *Service) Name() string { return s.config.Name }

// LogPath returns the service log path for timeout diagnostics.
func (s *Service) LogPath() string { return s.config.LogPath }

// StopPattern returns the force-stop process pattern, if configured.
func (s *Service) StopPattern() string { return s.config.StopPattern }

// External reports whether the service lifecycle is operator-managed.
func (s *Service) External() bool { return s.config.External }

// Start runs the start command to completion. A non-zero exit is a
// StartFailure. No-op for external services.
func (s *Service) Start(ctx context.Context) error {
	if s.config.External {
		s.logger.Info("service is external, skipping start", map[string]any{
			"service": s.config.Name,
		})
		return nil
	}
	if len(s.config.StartCommand) == 0 {
		return trialerr.Wrap(trialerr.ErrStartFailure, "start",
			fmt.Errorf("service %s has no start command", s.config.Name))
	}

	out, err := s.run(ctx, s.config.StartCommand)
	if err != nil {
		return trialerr.Wrap(trialerr.ErrStartFailure, "start",
			fmt.Errorf("service %s: %v: %s", s.config.Name, err, out))
	}
	return nil
}

// Ready returns the readiness predicate for this service: a log-marker scan
// when ReadyMarker is set, otherwise the health command.
func (s *Service) Ready() health.Predicate {
	if s.config.ReadyMarker != "" && s.config.LogPath != "" {
		return health.LogMarker(s.config.LogPath, s.config.ReadyMarker)
	}
	if len(s.config.HealthCommand) > 0 {
		return health.CommandOK(s.config.HealthCommand[0], s.config.HealthCommand[1:]...)
	}
	// No health signal configured: consider the service ready once started.
	return func(context.Context) (bool, error) { return true, nil }
}

// Stop runs the stop command with the given timeout. On timeout or failure
// it falls back to force-stopping by process name pattern. No-op for
// external services. Tolerates the service already being down.
func (s *Service) Stop(ctx context.Context, timeout time.Duration) error {
	if s.config.External {
		return nil
	}
	if len(s.config.StopCommand) == 0 {
		return s.forceStop(ctx)
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := s.run(stopCtx, s.config.StopCommand)
	if err == nil {
		return nil
	}

	s.logger.Warn("service stop failed, force-stopping by pattern", map[string]any{
		"service": s.config.Name,
		"error":   err.Error(),
		"output":  out,
	})
	return s.forceStop(ctx)
}

// forceStop kills service processes by name pattern.
func (s *Service) forceStop(ctx context.Context) error {
	if s.config.StopPattern == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "pkill", "-9", "-f", s.config.StopPattern)
	if err := cmd.Run(); err != nil {
		// pkill exits 1 when nothing matched; that means already down.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil
		}
		return fmt.Errorf("force-stop %s: %w", s.config.Name, err)
	}
	return nil
}

// run executes an argv in the service directory, returning combined output.
func (s *Service) run(ctx context.Context, argv []string) (string, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = s.config.Dir
	out, err := cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}
