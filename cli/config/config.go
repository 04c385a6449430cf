package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/oranbench/gridrunner/runtime"
	"github.com/oranbench/gridrunner/service"
	"github.com/oranbench/gridrunner/traffic"
)

// Config represents a gridrunner.yaml configuration file.
// All values act as defaults for gridrunner run flags; CLI flags always
// override config values.
type Config struct {
	BaseDir string `yaml:"base_dir"`
	WorkDir string `yaml:"work_dir"`
	RunID   string `yaml:"run_id"`

	ControlPlane ServiceConfig `yaml:"control_plane"`
	Core         ServiceConfig `yaml:"core"`

	RadioNode  RadioNodeConfig        `yaml:"radio_node"`
	Clients    ClientsConfig          `yaml:"clients"`
	Scenario   ScenarioConfig         `yaml:"scenario"`
	Traffic    TrafficConfig          `yaml:"traffic"`
	Pools      map[string]PoolConfig  `yaml:"pools"`
	Validation ValidationConfig       `yaml:"validation"`
	Retry      RetryConfig            `yaml:"retry"`
	Cleanup    CleanupConfig          `yaml:"cleanup"`
	Storage    StorageConfig          `yaml:"storage"`
	Adapter    AdapterConfig          `yaml:"adapter"`

	PollInterval Duration `yaml:"poll_interval"`
	GridPause    Duration `yaml:"grid_pause"`
}

// ServiceConfig describes one managed service (control plane or core).
type ServiceConfig struct {
	Name          string   `yaml:"name"`
	StartCommand  []string `yaml:"start_command"`
	StopCommand   []string `yaml:"stop_command"`
	Dir           string   `yaml:"dir"`
	LogPath       string   `yaml:"log_path"`
	ReadyMarker   string   `yaml:"ready_marker"`
	HealthCommand []string `yaml:"health_command"`
	StopPattern   string   `yaml:"stop_pattern"`
	External      bool     `yaml:"external"`
	Timeout       Duration `yaml:"timeout"`
}

// RadioNodeConfig describes the radio node process.
type RadioNodeConfig struct {
	Command       []string `yaml:"command"`
	Dir           string   `yaml:"dir"`
	LogPath       string   `yaml:"log_path"`
	Ports         []int    `yaml:"ports"`
	CoreMarker    string   `yaml:"core_marker"`
	ControlMarker string   `yaml:"control_marker"`
	Timeout       Duration `yaml:"timeout"`
}

// ClientsConfig describes the client processes.
type ClientsConfig struct {
	Command        []string `yaml:"command"`
	Dir            string   `yaml:"dir"`
	NetnsPrefix    string   `yaml:"netns_prefix"`
	AttachAttempts int      `yaml:"attach_attempts"`
	AttachDelay    Duration `yaml:"attach_delay"`
	PDUMarker      string   `yaml:"pdu_marker"`
	RRCMarker      string   `yaml:"rrc_marker"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
}

// ScenarioConfig describes the scenario-launch script handling.
type ScenarioConfig struct {
	PIDFile string   `yaml:"pid_file"`
	Timeout Duration `yaml:"timeout"`
}

// TrafficConfig describes traffic generation.
type TrafficConfig struct {
	Command     []string `yaml:"command"`
	Pool        string   `yaml:"pool"`
	Duration    Duration `yaml:"duration"`
	KillPattern string   `yaml:"kill_pattern"`
}

// PoolConfig is an endpoint pool definition within the config file.
// Name is derived from the map key, not stored in the struct.
type PoolConfig struct {
	Strategy  string           `yaml:"strategy"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
	StickyTTL Duration         `yaml:"sticky_ttl,omitempty"`
}

// EndpointConfig is one traffic server endpoint.
type EndpointConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ValidationConfig holds metrics validation knobs.
type ValidationConfig struct {
	Tolerance Duration `yaml:"tolerance"`
}

// RetryConfig holds retry budgets.
type RetryConfig struct {
	MaxRetries    int      `yaml:"max_retries"`
	TrialDelay    Duration `yaml:"trial_delay"`
	StartAttempts int      `yaml:"start_attempts"`
	StartDelay    Duration `yaml:"start_delay"`
}

// CleanupConfig holds teardown knobs.
type CleanupConfig struct {
	StopTimeout  Duration `yaml:"stop_timeout"`
	KillPatterns []string `yaml:"kill_patterns"`
	TempPaths    []string `yaml:"temp_paths"`
	Route        string   `yaml:"route"`
}

// StorageConfig holds result archive defaults.
type StorageConfig struct {
	Dataset     string `yaml:"dataset"`
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds completion-notification defaults.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// TrafficPools converts the map-keyed pool config into a sorted slice of
// traffic.Pool. Sorting by name ensures deterministic ordering.
func (c *Config) TrafficPools() []traffic.Pool {
	if len(c.Pools) == 0 {
		return nil
	}

	names := make([]string, 0, len(c.Pools))
	for name := range c.Pools {
		names = append(names, name)
	}
	sort.Strings(names)

	pools := make([]traffic.Pool, 0, len(names))
	for _, name := range names {
		pc := c.Pools[name]
		endpoints := make([]traffic.Endpoint, 0, len(pc.Endpoints))
		for _, ep := range pc.Endpoints {
			endpoints = append(endpoints, traffic.Endpoint{Host: ep.Host, Port: ep.Port})
		}
		pools = append(pools, traffic.Pool{
			Name:      name,
			Strategy:  traffic.Strategy(pc.Strategy),
			Endpoints: endpoints,
			StickyTTL: pc.StickyTTL.Duration,
		})
	}
	return pools
}

func (s ServiceConfig) toService(fallbackName string) service.Config {
	name := s.Name
	if name == "" {
		name = fallbackName
	}
	return service.Config{
		Name:          name,
		StartCommand:  s.StartCommand,
		StopCommand:   s.StopCommand,
		Dir:           s.Dir,
		LogPath:       s.LogPath,
		ReadyMarker:   s.ReadyMarker,
		HealthCommand: s.HealthCommand,
		StopPattern:   s.StopPattern,
		External:      s.External,
	}
}

// ToRuntime maps the file configuration onto the engine configuration,
// applying engine defaults for anything left unset.
func (c *Config) ToRuntime() runtime.Config {
	rc := runtime.Config{
		BaseDir: c.BaseDir,
		WorkDir: c.WorkDir,
		RunID:   c.RunID,

		ControlPlane:        c.ControlPlane.toService("control_plane"),
		Core:                c.Core.toService("core"),
		ControlPlaneTimeout: c.ControlPlane.Timeout.Duration,
		CoreTimeout:         c.Core.Timeout.Duration,

		RadioNode: runtime.RadioNodeConfig{
			Command:       c.RadioNode.Command,
			Dir:           c.RadioNode.Dir,
			LogPath:       c.RadioNode.LogPath,
			Ports:         c.RadioNode.Ports,
			CoreMarker:    c.RadioNode.CoreMarker,
			ControlMarker: c.RadioNode.ControlMarker,
			Timeout:       c.RadioNode.Timeout.Duration,
		},
		Clients: runtime.ClientsConfig{
			Command:        c.Clients.Command,
			Dir:            c.Clients.Dir,
			NetnsPrefix:    c.Clients.NetnsPrefix,
			AttachAttempts: c.Clients.AttachAttempts,
			AttachDelay:    c.Clients.AttachDelay.Duration,
			PDUMarker:      c.Clients.PDUMarker,
			RRCMarker:      c.Clients.RRCMarker,
			ConnectTimeout: c.Clients.ConnectTimeout.Duration,
		},
		Scenario: runtime.ScenarioConfig{
			PIDFile: c.Scenario.PIDFile,
			Timeout: c.Scenario.Timeout.Duration,
		},
		Traffic: runtime.TrafficConfig{
			Command:     c.Traffic.Command,
			Pool:        c.Traffic.Pool,
			Pools:       c.TrafficPools(),
			Duration:    c.Traffic.Duration.Duration,
			KillPattern: c.Traffic.KillPattern,
		},
		ValidationTolerance: c.Validation.Tolerance.Duration,
		Retry: runtime.RetryConfig{
			MaxRetries:    c.Retry.MaxRetries,
			TrialDelay:    c.Retry.TrialDelay.Duration,
			StartAttempts: c.Retry.StartAttempts,
			StartDelay:    c.Retry.StartDelay.Duration,
		},
		Cleanup: runtime.CleanupConfig{
			StopTimeout:  c.Cleanup.StopTimeout.Duration,
			KillPatterns: c.Cleanup.KillPatterns,
			TempPaths:    c.Cleanup.TempPaths,
			Route:        c.Cleanup.Route,
		},
		PollInterval: c.PollInterval.Duration,
		GridPause:    c.GridPause.Duration,
	}
	return rc.WithDefaults()
}
