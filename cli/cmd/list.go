package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/oranbench/gridrunner/cli/render"
	"github.com/oranbench/gridrunner/journal"
	"github.com/oranbench/gridrunner/trial"
	"github.com/oranbench/gridrunner/types"
)

// listWarningThreshold is the number of items above which we warn about using --limit.
const listWarningThreshold = 100

// isStderrTTY returns true if stderr is a TTY.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// TrialRow is one thin row in the grid listing.
type TrialRow struct {
	Trial    string `json:"trial"`
	Outcome  string `json:"outcome"`
	Attempts int    `json:"attempts,omitempty"`
}

// ListCommand returns the list command with subcommands.
// List returns thin slices, not inspect-level detail.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List grid cells and their outcomes",
		Subcommands: []*cli.Command{
			listTrialsCommand(),
		},
	}
}

func listTrialsCommand() *cli.Command {
	return &cli.Command{
		Name:  "trials",
		Usage: "List every grid cell with its journal-recorded outcome",
		Flags: append(append(ReadOnlyFlags(), dirFlags()...),
			&cli.StringFlag{
				Name:  "outcome",
				Usage: "Filter by outcome: succeeded, permanently_failed, canceled, pending",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of rows to return (0 = no limit)",
				Value: 0,
			},
		),
		Action: listTrialsAction,
	}
}

func listTrialsAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	// TUI not supported for list commands
	if c.Bool("tui") {
		return cli.Exit("--tui is not supported for list commands", 1)
	}

	baseDir, workDir, err := resolveDirs(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	if baseDir == "" {
		return cli.Exit("base directory required (--base-dir or config base_dir)", 1)
	}

	// A missing journal just means nothing has run yet.
	records, err := journal.ReadFile(journalPath(workDir))
	if err != nil && !os.IsNotExist(err) {
		return cli.Exit("cannot read journal: "+err.Error(), exitInternal)
	}

	rows, err := listTrials(baseDir, records, c.String("outcome"), c.Int("limit"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	// Warn if output is large and --limit was not specified (TTY only to avoid noise in pipelines)
	if len(rows) > listWarningThreshold && c.Int("limit") == 0 && isStderrTTY() {
		fmt.Fprintf(os.Stderr, "Warning: returning %d results. Consider using --limit to reduce output.\n\n", len(rows))
	}

	return r.Render(rows)
}

// listTrials enumerates the grid under baseDir and joins each cell with its
// journal-recorded resolution. Cells with no trial_finished record show as
// pending.
func listTrials(baseDir string, records []*types.JournalRecord, outcomeFilter string, limit int) ([]TrialRow, error) {
	maxSet, err := trial.MaxTrialSet(baseDir)
	if err != nil {
		return nil, fmt.Errorf("cannot enumerate grid: %w", err)
	}

	outcomes := make(map[types.TrialKey]string)
	attempts := make(map[types.TrialKey]int)
	for _, rec := range records {
		key := rec.Key()
		switch rec.Type {
		case types.RecordAttemptStarted:
			if rec.Attempt > attempts[key] {
				attempts[key] = rec.Attempt
			}
		case types.RecordTrialFinished:
			outcomes[key] = rec.Outcome
		}
	}

	var rows []TrialRow
	for set := 0; set <= maxSet; set++ {
		maxExp, err := trial.MaxExperiment(baseDir, set)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("cannot enumerate trialset%d: %w", set, err)
		}
		for exp := 0; exp <= maxExp; exp++ {
			key := types.TrialKey{TrialSet: set, Experiment: exp}
			if !trial.Exists(baseDir, key) {
				continue
			}
			outcome := outcomes[key]
			if outcome == "" {
				outcome = "pending"
			}
			if outcomeFilter != "" && outcome != outcomeFilter {
				continue
			}
			rows = append(rows, TrialRow{
				Trial:    key.String(),
				Outcome:  outcome,
				Attempts: attempts[key],
			})
			if limit > 0 && len(rows) >= limit {
				return rows, nil
			}
		}
	}
	return rows, nil
}
