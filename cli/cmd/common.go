package cmd

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/oranbench/gridrunner/cli/config"
	"github.com/oranbench/gridrunner/runtime"
)

// Run artifact filenames within the work directory.
const (
	journalFilename    = "run.journal"
	checkpointFilename = "checkpoint.json"
)

// defaultWorkDir holds run artifacts when neither config nor flags name one.
const defaultWorkDir = "gridrunner-work"

// ConfigFlag names the configuration file. Shared by every command that
// resolves directories or engine settings from gridrunner.yaml.
var ConfigFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to gridrunner.yaml (default: ./gridrunner.yaml if present)",
}

// dirFlags returns the flags for commands that locate run artifacts.
func dirFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		&cli.StringFlag{
			Name:  "base-dir",
			Usage: "Experiment grid root containing trialset<N>/exp<M> directories",
		},
		&cli.StringFlag{
			Name:  "work-dir",
			Usage: "Directory holding run artifacts (journal, checkpoint, attempt logs)",
		},
	}
}

// loadFileConfig loads the YAML config named by --config, falling back to
// ./gridrunner.yaml when present. Returns an empty config when no file
// exists and none was requested.
func loadFileConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	if _, err := os.Stat(config.DefaultFilename); err == nil {
		return config.Load(config.DefaultFilename)
	}
	return &config.Config{}, nil
}

// resolveRuntime merges the file config with flag overrides into the engine
// configuration. Flags always win over file values.
func resolveRuntime(c *cli.Context) (runtime.Config, *config.Config, error) {
	fc, err := loadFileConfig(c)
	if err != nil {
		return runtime.Config{}, nil, err
	}

	rc := fc.ToRuntime()
	if v := c.String("base-dir"); v != "" {
		rc.BaseDir = v
	}
	if v := c.String("work-dir"); v != "" {
		rc.WorkDir = v
	}
	if v := c.String("run-id"); v != "" {
		rc.RunID = v
	}
	if rc.WorkDir == "" {
		rc.WorkDir = defaultWorkDir
	}
	if rc.RunID == "" {
		rc.RunID = uuid.NewString()
	}
	return rc, fc, nil
}

// resolveDirs returns the base and work directories for read-only commands.
func resolveDirs(c *cli.Context) (baseDir, workDir string, err error) {
	fc, err := loadFileConfig(c)
	if err != nil {
		return "", "", err
	}

	baseDir = fc.BaseDir
	workDir = fc.WorkDir
	if v := c.String("base-dir"); v != "" {
		baseDir = v
	}
	if v := c.String("work-dir"); v != "" {
		workDir = v
	}
	if workDir == "" {
		workDir = defaultWorkDir
	}
	return baseDir, workDir, nil
}

func journalPath(workDir string) string {
	return filepath.Join(workDir, journalFilename)
}

func checkpointPath(workDir string) string {
	return filepath.Join(workDir, checkpointFilename)
}
