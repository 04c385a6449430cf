package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/oranbench/gridrunner/cli/render"
	"github.com/oranbench/gridrunner/cli/tui"
	"github.com/oranbench/gridrunner/journal"
	"github.com/oranbench/gridrunner/trial"
	"github.com/oranbench/gridrunner/types"
)

// InspectCommand returns the inspect command with subcommands.
// Inspect returns a deep view of a single grid cell.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect a single grid cell (trial, conditions)",
		Subcommands: []*cli.Command{
			inspectTrialCommand(),
			inspectConditionsCommand(),
		},
	}
}

func inspectTrialCommand() *cli.Command {
	return &cli.Command{
		Name:      "trial",
		Usage:     "Show a trial's resolution and phase timeline from the journal",
		ArgsUsage: "<trial-set> <experiment>",
		Flags:     append(TUIReadOnlyFlags(), dirFlags()...),
		Action:    inspectTrialAction,
	}
}

func inspectTrialAction(c *cli.Context) error {
	key, err := parseTrialKey(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	_, workDir, err := resolveDirs(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}

	// A missing journal just means nothing has run yet.
	records, err := journal.ReadFile(journalPath(workDir))
	if err != nil && !os.IsNotExist(err) {
		return cli.Exit("cannot read journal: "+err.Error(), exitInternal)
	}

	detail := buildTrialDetail(key, records)

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI("inspect_trial", detail)
	}
	return r.Render(detail)
}

// buildTrialDetail reconstructs one cell's resolution from journal records.
func buildTrialDetail(key types.TrialKey, records []*types.JournalRecord) *tui.TrialDetail {
	detail := &tui.TrialDetail{Trial: key.String()}

	for _, rec := range records {
		if rec.Key() != key {
			continue
		}
		switch rec.Type {
		case types.RecordAttemptStarted:
			if rec.Attempt > detail.Attempts {
				detail.Attempts = rec.Attempt
			}
		case types.RecordPhaseTransition:
			detail.Timeline = append(detail.Timeline, tui.PhaseEvent{
				Attempt: rec.Attempt,
				Phase:   string(rec.Phase),
				Ts:      rec.Ts,
			})
		case types.RecordAttemptFinished:
			// The last failed attempt's phase and reason stand unless a
			// later attempt succeeds.
			if rec.Outcome != string(types.AttemptSuccess) {
				detail.FailedPhase = string(rec.Phase)
				detail.Reason = rec.Reason
			} else {
				detail.FailedPhase = ""
				detail.Reason = ""
			}
		case types.RecordTrialFinished:
			detail.Outcome = rec.Outcome
			if rec.Reason != "" {
				detail.Reason = rec.Reason
			}
		}
	}
	if detail.Outcome == "" {
		detail.Outcome = "pending"
	}
	return detail
}

// ConditionsResponse is the response for inspect conditions.
type ConditionsResponse struct {
	Trial     string            `json:"trial"`
	Clients   map[string]string `json:"clients"`
	Generator map[string]string `json:"generator,omitempty"`
	Channel   map[string]string `json:"channel,omitempty"`
}

func inspectConditionsCommand() *cli.Command {
	return &cli.Command{
		Name:      "conditions",
		Usage:     "Show a trial's conditions manifest",
		ArgsUsage: "<trial-set> <experiment>",
		Flags:     append(ReadOnlyFlags(), dirFlags()...),
		Action:    inspectConditionsAction,
	}
}

func inspectConditionsAction(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for inspect conditions", 1)
	}

	key, err := parseTrialKey(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	baseDir, _, err := resolveDirs(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	if baseDir == "" {
		return cli.Exit("base directory required (--base-dir or config base_dir)", 1)
	}

	t, err := trial.Load(baseDir, key)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	conds, err := trial.ParseConditions(t.ConditionsPath())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	resp := ConditionsResponse{
		Trial:     key.String(),
		Clients:   make(map[string]string, len(conds.Clients)),
		Generator: paramMap(conds.Generator),
		Channel:   paramMap(conds.Channel),
	}
	for _, a := range conds.Clients {
		resp.Clients[a.Client] = a.ProfilePath
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	return r.Render(resp)
}

func paramMap(params []trial.Param) map[string]string {
	if len(params) == 0 {
		return nil
	}
	m := make(map[string]string, len(params))
	for _, p := range params {
		m[p.Key] = p.Value
	}
	return m
}
