package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/oranbench/gridrunner/adapter"
	redisadapter "github.com/oranbench/gridrunner/adapter/redis"
	"github.com/oranbench/gridrunner/adapter/webhook"
	"github.com/oranbench/gridrunner/archive"
	"github.com/oranbench/gridrunner/checkpoint"
	"github.com/oranbench/gridrunner/cli/config"
	"github.com/oranbench/gridrunner/guard"
	"github.com/oranbench/gridrunner/journal"
	"github.com/oranbench/gridrunner/log"
	"github.com/oranbench/gridrunner/metrics"
	"github.com/oranbench/gridrunner/runtime"
	"github.com/oranbench/gridrunner/traffic"
	"github.com/oranbench/gridrunner/trialerr"
)

// Exit codes for the run command.
const (
	exitSuccess   = 0
	exitPreflight = 1
	exitInternal  = 2
)

// RunCommand returns the run command.
// This is the only command that executes work; everything else is read-only.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Drive the experiment grid (the only execution entrypoint)",
		ArgsUsage: "[start-trial-set [start-experiment [only-experiment]]]",
		Flags: append(dirFlags(),
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Grid run identifier (default: generated)",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the final grid report",
			},
		),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	opts, err := parseGridArgs(c)
	if err != nil {
		return cli.Exit(err.Error(), exitPreflight)
	}

	rc, fc, err := resolveRuntime(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInternal)
	}
	if rc.BaseDir == "" {
		return cli.Exit("base directory required (--base-dir or config base_dir)", exitPreflight)
	}
	if err := os.MkdirAll(rc.WorkDir, 0o755); err != nil {
		return cli.Exit(fmt.Sprintf("cannot create work dir: %v", err), exitInternal)
	}

	logger := log.New()
	ctx, handler := runtime.NewCancellationHandler(context.Background(), logger)
	defer handler.Finish()

	jw, err := journal.OpenFile(journalPath(rc.WorkDir))
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open journal: %v", err), exitInternal)
	}
	handler.OnExit(func() {
		if cerr := jw.Close(); cerr != nil {
			logger.Warn("journal close failed", map[string]any{"error": cerr.Error()})
		}
	})

	ckpt := checkpoint.NewStore(checkpointPath(rc.WorkDir))
	m := metrics.NewCollector(fc.Storage.Backend, rc.RunID, gridSpec(opts))

	selector := traffic.NewSelector()
	for _, pool := range rc.Traffic.Pools {
		p := pool
		if err := selector.RegisterPool(&p); err != nil {
			return cli.Exit(fmt.Sprintf("invalid pool %q: %v", p.Name, err), exitPreflight)
		}
	}

	arch, err := buildArchive(fc.Storage, rc.RunID)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot initialize archive: %v", err), exitInternal)
	}
	if arch != nil {
		defer func() { _ = arch.Close() }()
	}

	notifier, err := buildNotifier(fc.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot initialize adapter: %v", err), exitInternal)
	}
	if notifier != nil {
		defer func() { _ = notifier.Close() }()
	}

	ops := guard.NewExecHostOps()
	g := guard.New(ops, logger, m)

	controller := runtime.NewTrialController(rc, logger, g, ops, jw, ckpt, m, selector)
	scheduler := runtime.NewGridScheduler(rc, logger, controller, ckpt, m, arch, notifier)

	logger.Info("grid run starting", map[string]any{
		"run_id":   rc.RunID,
		"base_dir": rc.BaseDir,
		"work_dir": rc.WorkDir,
	})

	summary, err := scheduler.Run(ctx, opts)
	handler.Finish()

	if summary != nil && !c.Bool("quiet") {
		fmt.Println(summary.String())
	}

	if err != nil {
		if errors.Is(err, trialerr.ErrPreflightFailure) {
			return cli.Exit(err.Error(), exitPreflight)
		}
		return cli.Exit(err.Error(), exitInternal)
	}

	fields := map[string]any{
		"run_id":    rc.RunID,
		"trials":    summary.Total,
		"succeeded": summary.Succeeded,
		"failed":    summary.PermanentlyFailed,
	}
	if snap := summary.Metrics; snap != nil {
		fields["attempts"] = snap.AttemptsStarted
		fields["retries"] = snap.AttemptsRetried
		fields["reclaims"] = snap.ReclaimAttempts
		fields["cleanup_step_failures"] = snap.CleanupStepFailures
	}
	logger.Info("grid run complete", fields)
	return cli.Exit("", exitSuccess)
}

// parseGridArgs reads the optional positional starting-point arguments.
// Trial sets are 0-based on disk, so the default start is trial set 0.
func parseGridArgs(c *cli.Context) (runtime.GridOptions, error) {
	opts := runtime.GridOptions{StartTrialSet: 0, StartExperiment: 1}

	positions := []struct {
		name string
		dst  *int
	}{
		{"start-trial-set", &opts.StartTrialSet},
		{"start-experiment", &opts.StartExperiment},
		{"only-experiment", &opts.OnlyExperiment},
	}
	for i, pos := range positions {
		if c.NArg() <= i {
			break
		}
		v, err := strconv.Atoi(c.Args().Get(i))
		if err != nil {
			return opts, fmt.Errorf("invalid %s %q: must be an integer", pos.name, c.Args().Get(i))
		}
		*pos.dst = v
	}
	if c.NArg() > len(positions) {
		return opts, fmt.Errorf("too many arguments: expected at most %d", len(positions))
	}
	return opts, nil
}

func gridSpec(opts runtime.GridOptions) string {
	if opts.OnlyExperiment > 0 {
		return fmt.Sprintf("trialset%d/exp%d", opts.StartTrialSet, opts.OnlyExperiment)
	}
	return fmt.Sprintf("from trialset%d/exp%d", opts.StartTrialSet, opts.StartExperiment)
}

// buildArchive creates the trial result archive from storage config.
// Returns nil when storage is unconfigured; archival is optional.
func buildArchive(sc config.StorageConfig, runID string) (*archive.Archive, error) {
	if sc.Backend == "" {
		return nil, nil
	}
	if sc.Path == "" {
		return nil, fmt.Errorf("storage.path required for backend %q", sc.Backend)
	}

	cfg := archive.Config{
		Dataset: sc.Dataset,
		RunID:   runID,
		Day:     archive.DeriveDay(time.Now()),
	}
	if cfg.Dataset == "" {
		cfg.Dataset = "gridrunner"
	}

	switch sc.Backend {
	case "fs":
		return archive.NewFS(cfg, sc.Path)
	case "s3":
		bucket, prefix := archive.ParseS3Path(sc.Path)
		return archive.NewS3(cfg, archive.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       sc.Region,
			Endpoint:     sc.Endpoint,
			UsePathStyle: sc.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be fs or s3)", sc.Backend)
	}
}

// buildNotifier creates the completion-notification adapter from config.
// Returns nil when no adapter is configured.
func buildNotifier(ac config.AdapterConfig) (adapter.Adapter, error) {
	retries := 0
	if ac.Retries != nil {
		retries = *ac.Retries
	}

	switch ac.Type {
	case "":
		return nil, nil
	case "redis":
		return redisadapter.New(redisadapter.Config{
			URL:     ac.URL,
			Channel: ac.Channel,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "webhook":
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be redis or webhook)", ac.Type)
	}
}
