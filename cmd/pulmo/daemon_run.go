package main

import (
	"github.com/spf13/cobra"

	"pulmo/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Daemon process utilities",
	}

	var logLevel string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pulmo daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	runCmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")

	daemonCmd.AddCommand(runCmd)
	return daemonCmd
}
