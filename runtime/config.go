// Package runtime is the orchestration engine: the phase state machine that
// sequences testbed bring-up, the per-trial retry loop with full cleanup
// between attempts, the grid scheduler, and the cancellation handler that
// routes every exit path through the same teardown.
package runtime

import (
	"time"

	"github.com/oranbench/gridrunner/service"
	"github.com/oranbench/gridrunner/traffic"
)

// Well-known defaults. All are overridable via configuration.
const (
	// DefaultMaxRetries is the trial retry budget beyond the initial attempt.
	DefaultMaxRetries = 3
	// DefaultTrialRetryDelay is the fixed pause between trial-level retries.
	DefaultTrialRetryDelay = 15 * time.Second
	// DefaultStartAttempts bounds the per-phase start action retry.
	DefaultStartAttempts = 3
	// DefaultStartDelay is the initial per-phase start backoff, doubling.
	DefaultStartDelay = 10 * time.Second
	// DefaultPollInterval is the readiness predicate evaluation cadence.
	DefaultPollInterval = 2 * time.Second
	// DefaultTrafficDuration is the fixed traffic-generation window.
	DefaultTrafficDuration = 480 * time.Second
	// DefaultScenarioPIDFile is where run_scenario.sh records its PID.
	DefaultScenarioPIDFile = "/tmp/python_scenario.pid"
	// DefaultGridPause separates consecutive grid cells.
	DefaultGridPause = 5 * time.Second
	// DefaultStopTimeout bounds each managed-service stop during cleanup.
	DefaultStopTimeout = 60 * time.Second
)

// DefaultRadioPorts are the well-known ports the radio node binds: GTP-U,
// NGAP, and the two E2 interfaces.
var DefaultRadioPorts = []int{2152, 38412, 36421, 36422}

// RadioNodeConfig describes the radio-access node process.
type RadioNodeConfig struct {
	// Command is the radio node argv.
	Command []string
	// Dir is the working directory.
	Dir string
	// LogPath receives radio node output and is scanned for attach markers.
	LogPath string
	// Ports are force-freed before start and owned for the attempt.
	Ports []int
	// CoreMarker signals attachment to the core-network interface.
	CoreMarker string
	// ControlMarker signals attachment to the control-plane interface.
	ControlMarker string
	// Timeout bounds the attach readiness wait.
	Timeout time.Duration
}

// ClientsConfig describes the client (UE) processes, one per conditions row.
type ClientsConfig struct {
	// Command is the per-client argv template. Placeholders: {client},
	// {netns}, {profile}, {trial_dir}, {log}.
	Command []string
	// Dir is the working directory.
	Dir string
	// NetnsPrefix names per-client namespaces; client ueN gets <prefix>N.
	// Empty means clients run in the root namespace.
	NetnsPrefix string
	// AttachAttempts bounds per-client start retries.
	AttachAttempts int
	// AttachDelay is the per-client start retry delay.
	AttachDelay time.Duration
	// PDUMarker signals an established data session in the client log.
	PDUMarker string
	// RRCMarker signals a reconfigured control channel in the client log.
	RRCMarker string
	// ConnectTimeout bounds each client's two-condition connect wait.
	ConnectTimeout time.Duration
}

// ScenarioConfig describes the trial's scenario-launch script.
type ScenarioConfig struct {
	// PIDFile is where the script records its background PID.
	PIDFile string
	// Timeout bounds the PID liveness readiness wait.
	Timeout time.Duration
}

// TrafficConfig describes traffic generation.
type TrafficConfig struct {
	// Command is the per-client generator argv template. Placeholders:
	// {client}, {netns}, {profile}, {target}, {trial_dir}, {log}.
	Command []string
	// Pool names the server endpoint pool generators target.
	Pool string
	// Pools are the configured endpoint pools.
	Pools []traffic.Pool
	// Duration is the fixed traffic-generation window.
	Duration time.Duration
	// KillPattern matches stray generator processes during cleanup.
	KillPattern string
}

// RetryConfig bounds retries at the trial and phase-start levels.
type RetryConfig struct {
	// MaxRetries is the trial retry budget; total attempts = MaxRetries + 1.
	MaxRetries int
	// TrialDelay is the fixed delay between trial-level retries.
	TrialDelay time.Duration
	// StartAttempts bounds each phase's start action.
	StartAttempts int
	// StartDelay is the initial phase-start backoff, doubling per attempt.
	StartDelay time.Duration
}

// CleanupConfig parameterizes the teardown protocol.
type CleanupConfig struct {
	// StopTimeout bounds each managed-service stop.
	StopTimeout time.Duration
	// KillPatterns match lingering orchestration-spawned processes.
	KillPatterns []string
	// TempPaths are files or directories removed per attempt. Placeholders:
	// {trial_dir}, {work_dir}.
	TempPaths []string
	// Route is a host route (destination CIDR) removed if present.
	Route string
}

// Config is the full engine configuration for one grid run.
type Config struct {
	// BaseDir is the trial grid root containing trialset<N>/exp<M>/ dirs.
	BaseDir string
	// WorkDir holds run artifacts: journal, checkpoint, attempt logs.
	WorkDir string
	// RunID identifies this grid run in logs, journal, and notifications.
	RunID string

	// ControlPlane is the RIC stack managed service.
	ControlPlane service.Config
	// Core is the core-network emulator managed service.
	Core service.Config
	// ControlPlaneTimeout bounds the ControlPlaneUp readiness wait.
	ControlPlaneTimeout time.Duration
	// CoreTimeout bounds the CoreUp readiness wait.
	CoreTimeout time.Duration

	RadioNode RadioNodeConfig
	Clients   ClientsConfig
	Scenario  ScenarioConfig
	Traffic   TrafficConfig

	// ValidationTolerance is the allowed metrics span drift.
	ValidationTolerance time.Duration

	Retry   RetryConfig
	Cleanup CleanupConfig

	// PollInterval is the readiness evaluation cadence.
	PollInterval time.Duration
	// GridPause separates consecutive grid cells.
	GridPause time.Duration
}

// WithDefaults returns a copy of c with zero-valued knobs replaced by the
// package defaults.
func (c Config) WithDefaults() Config {
	if c.ControlPlaneTimeout <= 0 {
		c.ControlPlaneTimeout = 120 * time.Second
	}
	if c.CoreTimeout <= 0 {
		c.CoreTimeout = 180 * time.Second
	}
	if len(c.RadioNode.Ports) == 0 {
		c.RadioNode.Ports = append([]int(nil), DefaultRadioPorts...)
	}
	if c.RadioNode.CoreMarker == "" {
		c.RadioNode.CoreMarker = "NG setup procedure completed"
	}
	if c.RadioNode.ControlMarker == "" {
		c.RadioNode.ControlMarker = "E2 setup procedure completed"
	}
	if c.RadioNode.Timeout <= 0 {
		c.RadioNode.Timeout = 60 * time.Second
	}
	if c.Clients.AttachAttempts <= 0 {
		c.Clients.AttachAttempts = 2
	}
	if c.Clients.AttachDelay <= 0 {
		c.Clients.AttachDelay = 5 * time.Second
	}
	if c.Clients.PDUMarker == "" {
		c.Clients.PDUMarker = "PDU session established"
	}
	if c.Clients.RRCMarker == "" {
		c.Clients.RRCMarker = "RRC reconfiguration successful"
	}
	if c.Clients.ConnectTimeout <= 0 {
		c.Clients.ConnectTimeout = 60 * time.Second
	}
	if c.Scenario.PIDFile == "" {
		c.Scenario.PIDFile = DefaultScenarioPIDFile
	}
	if c.Scenario.Timeout <= 0 {
		c.Scenario.Timeout = 30 * time.Second
	}
	if c.Traffic.Duration <= 0 {
		c.Traffic.Duration = DefaultTrafficDuration
	}
	if c.ValidationTolerance <= 0 {
		c.ValidationTolerance = 10 * time.Second
	}
	if c.Retry.MaxRetries <= 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.TrialDelay <= 0 {
		c.Retry.TrialDelay = DefaultTrialRetryDelay
	}
	if c.Retry.StartAttempts <= 0 {
		c.Retry.StartAttempts = DefaultStartAttempts
	}
	if c.Retry.StartDelay <= 0 {
		c.Retry.StartDelay = DefaultStartDelay
	}
	if c.Cleanup.StopTimeout <= 0 {
		c.Cleanup.StopTimeout = DefaultStopTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.GridPause <= 0 {
		c.GridPause = DefaultGridPause
	}
	return c
}
