package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"pulmo/internal/api"
	"pulmo/internal/ipc"
)

func newRequestsCommand(ctx *commandContext) *cobra.Command {
	requestsCmd := &cobra.Command{
		Use:   "requests",
		Short: "Registry maintenance and listing",
	}

	requestsCmd.AddCommand(newRequestsListCommand(ctx))
	requestsCmd.AddCommand(newRequestsClearCommand(ctx))
	return requestsCmd
}

func newRequestsListCommand(ctx *commandContext) *cobra.Command {
	var stageFilters []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.List(stageFilters)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Requests)
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Requests) == 0 {
					fmt.Fprintln(stdout, "Registry is empty")
					return nil
				}
				rows := make([][]string, 0, len(resp.Requests))
				for _, view := range resp.Requests {
					rows = append(rows, requestRow(view))
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Patient", "File", "Stage", "Progress", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&stageFilters, "stage", nil, "Filter by stage (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit requests as JSON")
	return cmd
}

func requestRow(view api.RequestView) []string {
	return []string{
		view.ID,
		view.PatientID,
		view.FileName,
		formatStageLabel(view.Stage),
		formatProgress(view.Progress.Percent),
		view.UpdatedAt,
	}
}

func newRequestsClearCommand(ctx *commandContext) *cobra.Command {
	var all, completed, failed bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove requests from the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			selected := 0
			for _, flag := range []bool{all, completed, failed} {
				if flag {
					selected++
				}
			}
			if selected != 1 {
				return errors.New("specify exactly one of --all, --completed, or --failed")
			}

			return ctx.withClient(func(client *ipc.Client) error {
				var removed int64
				var label string
				switch {
				case completed:
					resp, err := client.ClearCompleted()
					if err != nil {
						return err
					}
					removed, label = resp.Removed, "completed requests"
				case failed:
					resp, err := client.ClearFailed()
					if err != nil {
						return err
					}
					removed, label = resp.Removed, "failed requests"
				default:
					resp, err := client.Clear()
					if err != nil {
						return err
					}
					removed, label = resp.Removed, "requests"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s\n", removed, label)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every request")
	cmd.Flags().BoolVar(&completed, "completed", false, "Remove completed requests only")
	cmd.Flags().BoolVar(&failed, "failed", false, "Remove failed requests only")
	return cmd
}
