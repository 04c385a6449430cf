package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridrunner.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FullConfig(t *testing.T) {
	yaml := `base_dir: /exp
work_dir: /work
run_id: run-42

core:
  name: core
  start_command: ["./start_core.sh"]
  log_path: /var/log/core.log
  ready_marker: "AMF started"
  timeout: 3m

radio_node:
  command: ["./run_gnb.sh"]
  ports: [2152, 38412]
  timeout: 90s

clients:
  command: ["./run_ue.sh", "--id", "{client}"]
  netns_prefix: ns-
  connect_timeout: 45s

traffic:
  command: ["iperf3", "-c", "{target}"]
  pool: servers
  duration: 2m

pools:
  servers:
    strategy: sticky
    sticky_ttl: 30s
    endpoints:
      - host: 10.45.0.1
        port: 5201
      - host: 10.45.0.2
        port: 5201

retry:
  max_retries: 2
  trial_delay: 5s
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BaseDir != "/exp" || cfg.WorkDir != "/work" || cfg.RunID != "run-42" {
		t.Fatalf("identity fields = %+v", cfg)
	}
	if cfg.Core.Timeout.Duration != 3*time.Minute {
		t.Fatalf("core timeout = %s", cfg.Core.Timeout.Duration)
	}
	if got := cfg.RadioNode.Ports; len(got) != 2 || got[0] != 2152 {
		t.Fatalf("ports = %v", got)
	}
	if cfg.Clients.ConnectTimeout.Duration != 45*time.Second {
		t.Fatalf("connect timeout = %s", cfg.Clients.ConnectTimeout.Duration)
	}
	if cfg.Retry.MaxRetries != 2 || cfg.Retry.TrialDelay.Duration != 5*time.Second {
		t.Fatalf("retry = %+v", cfg.Retry)
	}

	pools := cfg.TrafficPools()
	if len(pools) != 1 {
		t.Fatalf("pools = %d, want 1", len(pools))
	}
	if pools[0].Name != "servers" || string(pools[0].Strategy) != "sticky" {
		t.Fatalf("pool = %+v", pools[0])
	}
	if pools[0].StickyTTL != 30*time.Second {
		t.Fatalf("sticky ttl = %s", pools[0].StickyTTL)
	}
	if len(pools[0].Endpoints) != 2 || pools[0].Endpoints[1].Host != "10.45.0.2" {
		t.Fatalf("endpoints = %+v", pools[0].Endpoints)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("GRID_TEST_BASE", "/from/env")
	yaml := `base_dir: ${GRID_TEST_BASE}
work_dir: ${GRID_TEST_UNSET:-/fallback}
run_id: ${GRID_TEST_MISSING}
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseDir != "/from/env" {
		t.Fatalf("base_dir = %q", cfg.BaseDir)
	}
	if cfg.WorkDir != "/fallback" {
		t.Fatalf("work_dir = %q, want default applied", cfg.WorkDir)
	}
	if cfg.RunID != "" {
		t.Fatalf("run_id = %q, want empty for unset var", cfg.RunID)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file must error")
	}
	if _, err := Load(writeConfig(t, "base_dir: [not: a: string\n")); err == nil {
		t.Fatal("invalid YAML must error")
	}
	if _, err := Load(writeConfig(t, "retry:\n  trial_delay: banana\n")); err == nil {
		t.Fatal("invalid duration must error")
	}
}

func TestDurationUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"10s", 10 * time.Second},
		{"5m30s", 5*time.Minute + 30*time.Second},
		{"", 0},
	}
	for _, tt := range tests {
		var d Duration
		err := d.UnmarshalYAML(func(v any) error {
			*(v.(*string)) = tt.in
			return nil
		})
		if err != nil {
			t.Fatalf("%q: %v", tt.in, err)
		}
		if d.Duration != tt.want {
			t.Fatalf("%q = %s, want %s", tt.in, d.Duration, tt.want)
		}
	}
}

func TestTrafficPoolsSortedByName(t *testing.T) {
	cfg := &Config{Pools: map[string]PoolConfig{
		"zeta":  {Strategy: "random"},
		"alpha": {Strategy: "round_robin"},
		"mid":   {Strategy: "sticky"},
	}}
	pools := cfg.TrafficPools()
	want := []string{"alpha", "mid", "zeta"}
	for i, name := range want {
		if pools[i].Name != name {
			t.Fatalf("pool[%d] = %s, want %s", i, pools[i].Name, name)
		}
	}
}

func TestToRuntimeAppliesDefaults(t *testing.T) {
	cfg := &Config{BaseDir: "/exp", WorkDir: "/work"}
	rc := cfg.ToRuntime()

	if rc.BaseDir != "/exp" {
		t.Fatalf("base dir = %q", rc.BaseDir)
	}
	if rc.Retry.MaxRetries != 3 {
		t.Fatalf("max retries = %d, want engine default 3", rc.Retry.MaxRetries)
	}
	if rc.Traffic.Duration != 480*time.Second {
		t.Fatalf("traffic duration = %s, want engine default", rc.Traffic.Duration)
	}
	if len(rc.RadioNode.Ports) != 4 {
		t.Fatalf("ports = %v, want well-known defaults", rc.RadioNode.Ports)
	}
}

func TestToRuntimePreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Retry:   RetryConfig{MaxRetries: 1, TrialDelay: Duration{2 * time.Second}},
		Traffic: TrafficConfig{Duration: Duration{time.Minute}},
	}
	rc := cfg.ToRuntime()
	if rc.Retry.MaxRetries != 1 || rc.Retry.TrialDelay != 2*time.Second {
		t.Fatalf("retry = %+v", rc.Retry)
	}
	if rc.Traffic.Duration != time.Minute {
		t.Fatalf("duration = %s", rc.Traffic.Duration)
	}
}

func TestTemplateParsesAndRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFilename)
	if err := WriteTemplate(path); err != nil {
		t.Fatalf("WriteTemplate: %v", err)
	}
	if err := WriteTemplate(path); err == nil {
		t.Fatal("second write must refuse to overwrite")
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if !strings.Contains(cfg.RadioNode.CoreMarker, "NG setup") {
		t.Fatalf("template core marker = %q", cfg.RadioNode.CoreMarker)
	}
	if len(cfg.TrafficPools()) == 0 {
		t.Fatal("template defines no pools")
	}
}
