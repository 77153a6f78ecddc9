package main

import (
	"github.com/spf13/cobra"

	"punchclock/internal/app"
)

type rootFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "punchclock",
		Short:         "Runs recurring clock-in/clock-out actions at most once per working day",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(f.config)
		},
	}
	root.PersistentFlags().StringVar(&f.config, "config", "./config.json", "path to config (json or yaml)")

	root.AddCommand(newRunCmd(f))
	root.AddCommand(newStatusCmd(f))
	root.AddCommand(newHolidaysCmd(f))
	root.AddCommand(newLockCmd(f))
	root.AddCommand(newLedgerCmd(f))
	root.AddCommand(newProbeCmd(f))
	root.AddCommand(newPerformCmd(f))
	root.AddCommand(newConfigCmd(f))
	return root
}

// openEngine builds an engine for a one-shot subcommand. Logs go to stderr so
// reports on stdout stay clean.
func openEngine(f *rootFlags) (*app.Engine, error) {
	return app.New(app.Options{ConfigPath: f.config, LogStderr: true})
}
