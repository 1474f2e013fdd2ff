package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pulmo/internal/ipc"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show registry and database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				health, err := client.Health()
				if err != nil {
					return err
				}
				dbHealth, err := client.DatabaseHealth()
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{
						"registry": health,
						"database": dbHealth,
					})
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)

				for _, line := range renderSectionHeader("Registry", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Total", statusInfo, fmt.Sprintf("%d", health.Total), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Queued", statusInfo, fmt.Sprintf("%d", health.Queued), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Processing", statusInfo, fmt.Sprintf("%d", health.Processing), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Completed", statusOK, fmt.Sprintf("%d", health.Completed), colorize))
				failedKind := statusOK
				if health.Failed > 0 {
					failedKind = statusWarn
				}
				fmt.Fprintln(stdout, renderStatusLine("Failed", failedKind, fmt.Sprintf("%d", health.Failed), colorize))
				fmt.Fprintln(stdout)

				for _, line := range renderSectionHeader("Database", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Path", statusInfo, dbHealth.DBPath, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Readable", boolKind(dbHealth.DatabaseReadable), yesNo(dbHealth.DatabaseReadable), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Schema", boolKind(dbHealth.TableExists && len(dbHealth.MissingColumns) == 0), schemaDetail(dbHealth), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Integrity", boolKind(dbHealth.IntegrityCheck), yesNo(dbHealth.IntegrityCheck), colorize))
				if dbHealth.Error != "" {
					fmt.Fprintln(stdout, renderStatusLine("Error", statusError, dbHealth.Error, colorize))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit diagnostics as JSON")
	return cmd
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}

func schemaDetail(health *ipc.DatabaseHealthResponse) string {
	if !health.TableExists {
		return "requests table missing"
	}
	if len(health.MissingColumns) > 0 {
		return fmt.Sprintf("missing columns: %v", health.MissingColumns)
	}
	return "complete"
}
