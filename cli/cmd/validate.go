package cmd

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/oranbench/gridrunner/cli/render"
	"github.com/oranbench/gridrunner/trial"
	"github.com/oranbench/gridrunner/types"
	"github.com/oranbench/gridrunner/validate"
)

// ValidateResponse is the response for the validate command.
type ValidateResponse struct {
	Trial    string `json:"trial"`
	Metrics  string `json:"metrics"`
	Valid    bool   `json:"valid"`
	Rows     int    `json:"rows,omitempty"`
	SpanSecs int    `json:"span_secs,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// ValidateCommand returns the validate command. It re-runs the output
// artifact check for one grid cell without driving the testbed, so an
// operator can re-validate after manual intervention.
func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate a trial's metrics table",
		ArgsUsage: "<trial-set> <experiment>",
		Flags:     append(ReadOnlyFlags(), dirFlags()...),
		Action:    validateAction,
	}
}

func validateAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for validate", 1)
	}

	key, err := parseTrialKey(c)
	if err != nil {
		return cli.Exit(err.Error(), exitPreflight)
	}

	rc, _, err := resolveRuntime(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	if rc.BaseDir == "" {
		return cli.Exit("base directory required (--base-dir or config base_dir)", exitPreflight)
	}

	t, err := trial.Load(rc.BaseDir, key)
	if err != nil {
		return cli.Exit(err.Error(), exitPreflight)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	resp := ValidateResponse{
		Trial:   key.String(),
		Metrics: t.MetricsPath(),
	}
	report, err := validate.MetricsTable(t.MetricsPath(), rc.Traffic.Duration, rc.ValidationTolerance)
	if err != nil {
		resp.Reason = err.Error()
		if renderErr := r.Render(resp); renderErr != nil {
			return renderErr
		}
		return cli.Exit("", exitPreflight)
	}

	resp.Valid = true
	resp.Rows = report.Rows
	resp.SpanSecs = int(report.Span.Seconds())
	return r.Render(resp)
}

// parseTrialKey reads the two positional grid-cell arguments.
func parseTrialKey(c *cli.Context) (types.TrialKey, error) {
	if c.NArg() < 2 {
		return types.TrialKey{}, fmt.Errorf("trial-set and experiment arguments required")
	}
	set, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return types.TrialKey{}, fmt.Errorf("invalid trial-set %q: must be an integer", c.Args().Get(0))
	}
	exp, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return types.TrialKey{}, fmt.Errorf("invalid experiment %q: must be an integer", c.Args().Get(1))
	}
	if set < 0 || exp < 0 {
		return types.TrialKey{}, fmt.Errorf("grid indices are non-negative, got trialset%d/exp%d", set, exp)
	}
	return types.TrialKey{TrialSet: set, Experiment: exp}, nil
}
