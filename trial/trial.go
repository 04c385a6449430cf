// Package trial implements the trial directory contract: discovery of grid
// cells under the experiments base directory, parsing of the conditions
// manifest, and preflight validation of required inputs.
//
// Trial directories are produced by the experiment generator and are
// read-only to the orchestrator, except for the metrics output area and
// per-attempt logs.
package trial

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/oranbench/gridrunner/trialerr"
	"github.com/oranbench/gridrunner/types"
)

// Dir returns the directory for a grid cell under base.
func Dir(base string, key types.TrialKey) string {
	return filepath.Join(base,
		fmt.Sprintf("trialset%d", key.TrialSet),
		fmt.Sprintf("exp%d", key.Experiment))
}

// Load resolves a grid cell to a Trial, verifying the directory exists.
func Load(base string, key types.TrialKey) (*types.Trial, error) {
	if err := key.Validate(); err != nil {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "load", err)
	}
	dir := Dir(base, key)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, trialerr.Wrap(trialerr.ErrPreflightFailure, "load",
			fmt.Errorf("trial directory %s does not exist", dir))
	}
	return &types.Trial{Key: key, Dir: dir}, nil
}

// Exists reports whether the grid cell's directory exists.
func Exists(base string, key types.TrialKey) bool {
	info, err := os.Stat(Dir(base, key))
	return err == nil && info.IsDir()
}

var trialSetRe = regexp.MustCompile(`^trialset(\d+)$`)

var expRe = regexp.MustCompile(`^exp(\d+)$`)

// scanIndices reads dir and returns the lowest and highest index among
// entries matching re, or (-1, -1) when none match. Indices are 0-based: the
// generator emits trialset0 as the first set.
func scanIndices(dir string, re *regexp.Regexp) (min, max int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return -1, -1, err
	}
	min, max = -1, -1
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if min < 0 || n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	return min, max, nil
}

// MinTrialSet scans base for trialset directories and returns the lowest
// index found, or -1 if none exist.
func MinTrialSet(base string) (int, error) {
	min, _, err := scanIndices(base, trialSetRe)
	return min, err
}

// MaxTrialSet scans base for trialset directories and returns the highest
// index found, or -1 if none exist.
func MaxTrialSet(base string) (int, error) {
	_, max, err := scanIndices(base, trialSetRe)
	return max, err
}

// MinExperiment scans a trial-set directory for experiment directories and
// returns the lowest index found, or -1 if none exist.
func MinExperiment(base string, trialSet int) (int, error) {
	min, _, err := scanIndices(filepath.Join(base, fmt.Sprintf("trialset%d", trialSet)), expRe)
	return min, err
}

// MaxExperiment scans a trial-set directory for experiment directories and
// returns the highest index found, or -1 if none exist.
func MaxExperiment(base string, trialSet int) (int, error) {
	_, max, err := scanIndices(filepath.Join(base, fmt.Sprintf("trialset%d", trialSet)), expRe)
	return max, err
}

// Preflight validates the required inputs for a trial: the conditions
// manifest parses with at least one client, and the scenario script exists
// and is executable. Violations are fatal (ErrPreflightFailure, no retry).
func Preflight(t *types.Trial) error {
	conds, err := ParseConditions(t.ConditionsPath())
	if err != nil {
		return err
	}
	if len(conds.Clients) == 0 {
		return trialerr.Wrap(trialerr.ErrPreflightFailure, "preflight",
			fmt.Errorf("%s: no client assignments", t.ConditionsPath()))
	}

	info, err := os.Stat(t.ScriptPath())
	if err != nil {
		return trialerr.Wrap(trialerr.ErrPreflightFailure, "preflight",
			fmt.Errorf("scenario script %s missing", t.ScriptPath()))
	}
	if info.Mode()&0o111 == 0 {
		return trialerr.Wrap(trialerr.ErrPreflightFailure, "preflight",
			fmt.Errorf("scenario script %s is not executable", t.ScriptPath()))
	}
	return nil
}

// PreflightBase validates the experiments base directory itself.
func PreflightBase(base string) error {
	info, err := os.Stat(base)
	if err != nil || !info.IsDir() {
		return trialerr.Wrap(trialerr.ErrPreflightFailure, "preflight",
			fmt.Errorf("experiments base directory %s does not exist", base))
	}
	return nil
}
