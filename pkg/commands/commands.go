// Package commands assembles the govbench CLI.
//
// The root command is built once with a shared logger:
//
//	cmds := commands.New(lggr)
//	root, err := cmds.Root(run.Deps{})
//
// Command packages such as [run] can also be used directly to inject their dependencies.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/smartcontractkit/govbench/pkg/commands/run"
	"github.com/smartcontractkit/govbench/pkg/logger"
)

// Commands provides a factory for creating CLI commands with shared configuration.
type Commands struct {
	lggr logger.Logger
}

// New creates a new Commands factory with the given logger.
func New(lggr logger.Logger) *Commands {
	return &Commands{lggr: lggr}
}

// Run creates the run command.
func (c *Commands) Run(deps run.Deps) (*cobra.Command, error) {
	return run.NewCommand(run.Config{
		Logger: c.lggr,
		Deps:   deps,
	})
}

// Root creates the govbench root command with every subcommand attached.
func (c *Commands) Root(deps run.Deps) (*cobra.Command, error) {
	root := &cobra.Command{
		Use:           "govbench",
		Short:         "Measure the gas cost of governance proposal lifecycles",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	runCmd, err := c.Run(deps)
	if err != nil {
		return nil, err
	}
	root.AddCommand(runCmd)

	return root, nil
}
