package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/oranbench/gridrunner/cli/config"
)

// InitCommand returns the init command. It writes a commented starter
// configuration for operators to adapt to their testbed.
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:      "init",
		Usage:     "Write a starter gridrunner.yaml",
		ArgsUsage: "[path]",
		Action:    initAction,
	}
}

func initAction(c *cli.Context) error {
	path := config.DefaultFilename
	if c.NArg() > 0 {
		path = c.Args().First()
	}
	if c.NArg() > 1 {
		return cli.Exit("too many arguments: expected at most one path", 1)
	}

	if err := config.WriteTemplate(path); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Printf("wrote %s\n", path)
	return nil
}
