package trial

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

const sampleConditions = `UE,Profile
UE1,/profiles/web_browsing.sh
UE2,/profiles/video_stream.sh
UE3,/profiles/voip.sh

# M-map Parameters
seed,0.4417
p,0.3125

# Channel Parameters
snr-db,18.5
doppler-hz,11.2
`

// writeTrial builds a minimal valid trial directory under base.
func writeTrial(t *testing.T, base string, key types.TrialKey) *types.Trial {
	t.Helper()
	dir := Dir(base, key)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "conditions.csv"), []byte(sampleConditions), 0o644); err != nil {
		t.Fatal(err)
	}
	script := "#!/bin/bash\necho $$ > /tmp/python_scenario.pid\n"
	if err := os.WriteFile(filepath.Join(dir, "run_scenario.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return &types.Trial{Key: key, Dir: dir}
}

func TestDirLayout(t *testing.T) {
	got := Dir("/exp", types.TrialKey{TrialSet: 4, Experiment: 7})
	if got != filepath.Join("/exp", "trialset4", "exp7") {
		t.Errorf("Dir = %q", got)
	}
}

func TestLoadMissingDirIsPreflightFailure(t *testing.T) {
	_, err := Load(t.TempDir(), types.TrialKey{TrialSet: 0, Experiment: 1})
	if !errors.Is(err, trialerr.ErrPreflightFailure) {
		t.Errorf("Load error = %v, want ErrPreflightFailure", err)
	}
}

func TestParseConditions(t *testing.T) {
	base := t.TempDir()
	tr := writeTrial(t, base, types.TrialKey{TrialSet: 0, Experiment: 1})

	conds, err := ParseConditions(tr.ConditionsPath())
	if err != nil {
		t.Fatalf("ParseConditions: %v", err)
	}

	if len(conds.Clients) != 3 {
		t.Fatalf("Clients = %d, want 3", len(conds.Clients))
	}
	if conds.Clients[0].Client != "UE1" || conds.Clients[0].ProfilePath != "/profiles/web_browsing.sh" {
		t.Errorf("first assignment = %+v", conds.Clients[0])
	}
	if got := conds.ClientNames(); len(got) != 3 || got[2] != "UE3" {
		t.Errorf("ClientNames = %v", got)
	}

	if len(conds.Generator) != 2 || conds.Generator[0].Key != "seed" {
		t.Errorf("Generator = %+v", conds.Generator)
	}
	if len(conds.Channel) != 2 || conds.Channel[1].Key != "doppler-hz" || conds.Channel[1].Value != "11.2" {
		t.Errorf("Channel = %+v", conds.Channel)
	}
}

func TestParseConditionsBadHeader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conditions.csv")
	if err := os.WriteFile(path, []byte("foo,bar\nUE1,/p.sh\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := ParseConditions(path)
	if !errors.Is(err, trialerr.ErrPreflightFailure) {
		t.Errorf("error = %v, want ErrPreflightFailure", err)
	}
}

func TestPreflightValidTrial(t *testing.T) {
	base := t.TempDir()
	tr := writeTrial(t, base, types.TrialKey{TrialSet: 0, Experiment: 1})
	if err := Preflight(tr); err != nil {
		t.Errorf("Preflight: %v", err)
	}
}

func TestPreflightMissingScript(t *testing.T) {
	base := t.TempDir()
	tr := writeTrial(t, base, types.TrialKey{TrialSet: 0, Experiment: 1})
	if err := os.Remove(tr.ScriptPath()); err != nil {
		t.Fatal(err)
	}
	if err := Preflight(tr); !errors.Is(err, trialerr.ErrPreflightFailure) {
		t.Errorf("Preflight = %v, want ErrPreflightFailure", err)
	}
}

func TestPreflightNonExecutableScript(t *testing.T) {
	base := t.TempDir()
	tr := writeTrial(t, base, types.TrialKey{TrialSet: 0, Experiment: 1})
	if err := os.Chmod(tr.ScriptPath(), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Preflight(tr); !errors.Is(err, trialerr.ErrPreflightFailure) {
		t.Errorf("Preflight = %v, want ErrPreflightFailure", err)
	}
}

func TestGridBounds(t *testing.T) {
	base := t.TempDir()
	writeTrial(t, base, types.TrialKey{TrialSet: 0, Experiment: 1})
	writeTrial(t, base, types.TrialKey{TrialSet: 0, Experiment: 3})
	writeTrial(t, base, types.TrialKey{TrialSet: 2, Experiment: 1})

	minSet, err := MinTrialSet(base)
	if err != nil || minSet != 0 {
		t.Errorf("MinTrialSet = %d, %v, want 0", minSet, err)
	}
	maxSet, err := MaxTrialSet(base)
	if err != nil || maxSet != 2 {
		t.Errorf("MaxTrialSet = %d, %v, want 2", maxSet, err)
	}
	minExp, err := MinExperiment(base, 0)
	if err != nil || minExp != 1 {
		t.Errorf("MinExperiment = %d, %v, want 1", minExp, err)
	}
	maxExp, err := MaxExperiment(base, 0)
	if err != nil || maxExp != 3 {
		t.Errorf("MaxExperiment = %d, %v, want 3", maxExp, err)
	}
}

func TestGridBoundsEmptyBase(t *testing.T) {
	base := t.TempDir()
	minSet, err := MinTrialSet(base)
	if err != nil || minSet != -1 {
		t.Errorf("MinTrialSet = %d, %v, want -1", minSet, err)
	}
	maxSet, err := MaxTrialSet(base)
	if err != nil || maxSet != -1 {
		t.Errorf("MaxTrialSet = %d, %v, want -1", maxSet, err)
	}
}
