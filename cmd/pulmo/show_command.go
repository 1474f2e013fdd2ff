package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pulmo/internal/api"
	"pulmo/internal/ipc"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Display details for a single request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Describe(id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Request)
				}
				printRequestDetail(cmd, resp.Request)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the request as JSON")
	return cmd
}

func printRequestDetail(cmd *cobra.Command, view api.RequestView) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Request "+view.ID, colorize) {
		fmt.Fprintln(stdout, line)
	}

	kind := statusInfo
	switch view.Stage {
	case "completed":
		kind = statusOK
	case "failed":
		kind = statusError
	}
	fmt.Fprintln(stdout, renderStatusLine("Stage", kind, formatStageLabel(view.Stage), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo,
		fmt.Sprintf("%s %s", formatProgress(view.Progress.Percent), view.Progress.Message), colorize))
	if view.PatientID != "" {
		fmt.Fprintln(stdout, renderStatusLine("Patient", statusInfo, view.PatientID, colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("File", statusInfo,
		fmt.Sprintf("%s (%s, %d bytes)", view.FileName, view.FileType, view.FileSize), colorize))
	if view.ErrorMessage != "" {
		fmt.Fprintln(stdout, renderStatusLine("Error", statusError, view.ErrorMessage, colorize))
	}
	if view.ResultRef != "" {
		fmt.Fprintln(stdout, renderStatusLine("Result", statusOK, view.ResultRef, colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Created", statusInfo, view.CreatedAt, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Updated", statusInfo, view.UpdatedAt, colorize))
	if view.CompletedAt != "" {
		fmt.Fprintln(stdout, renderStatusLine("Finished", statusInfo, view.CompletedAt, colorize))
	}
}
