package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/oranbench/gridrunner/cli/render"
	"github.com/oranbench/gridrunner/cli/tui"
	"github.com/oranbench/gridrunner/journal"
	"github.com/oranbench/gridrunner/types"
)

// StatsCommand returns the stats command with subcommands.
// Stats returns aggregated, derived facts from the run journal.
func StatsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show aggregated grid run statistics",
		Subcommands: []*cli.Command{
			statsRunCommand(),
		},
	}
}

func statsRunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Show outcome counts and phase-failure attribution for a grid run",
		Flags: append(TUIReadOnlyFlags(), append(dirFlags(),
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run identifier shown in the report",
			})...),
		Action: statsRunAction,
	}
}

func statsRunAction(c *cli.Context) error {
	_, workDir, err := resolveDirs(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}

	// A missing journal just means nothing has run yet.
	records, err := journal.ReadFile(journalPath(workDir))
	if err != nil && !os.IsNotExist(err) {
		return cli.Exit("cannot read journal: "+err.Error(), exitInternal)
	}

	stats := buildRunStats(c.String("run-id"), records)

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if c.Bool("tui") {
		return r.RenderTUI("stats_run", stats)
	}
	return r.Render(stats)
}

// buildRunStats aggregates journal records into run-level statistics.
func buildRunStats(runID string, records []*types.JournalRecord) *tui.RunStats {
	stats := &tui.RunStats{RunID: runID}

	attemptsPerTrial := make(map[types.TrialKey]int)
	for _, rec := range records {
		switch rec.Type {
		case types.RecordAttemptStarted:
			stats.Attempts++
			key := rec.Key()
			attemptsPerTrial[key]++
			if attemptsPerTrial[key] > 1 {
				stats.Retries++
			}
		case types.RecordAttemptFinished:
			if rec.Outcome != string(types.AttemptSuccess) && rec.Phase != "" {
				if stats.PhaseFailures == nil {
					stats.PhaseFailures = make(map[string]int)
				}
				stats.PhaseFailures[string(rec.Phase)]++
			}
		case types.RecordTrialFinished:
			stats.Trials++
			switch types.TrialOutcome(rec.Outcome) {
			case types.TrialSucceeded:
				stats.Succeeded++
			case types.TrialPermanentlyFailed:
				stats.PermanentlyFailed++
			case types.TrialCanceled:
				stats.Canceled++
			}
		}
	}
	return stats
}
