package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pulmo/internal/ipc"
	"pulmo/internal/report"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "report <request-id>",
		Short: "Display the finished report for a completed request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Report(id)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Report)
				}
				printReport(cmd, resp.Report)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the report as JSON")
	return cmd
}

func printReport(cmd *cobra.Command, rpt report.Report) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)

	for _, line := range renderSectionHeader("Report "+rpt.RequestID, colorize) {
		fmt.Fprintln(stdout, line)
	}
	if rpt.PatientID != "" {
		fmt.Fprintln(stdout, renderStatusLine("Patient", statusInfo, rpt.PatientID, colorize))
	}
	fmt.Fprintln(stdout, renderStatusLine("Pattern", statusInfo, describeInterpretation(rpt.Interpretation), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Triage", triageKind(rpt.Triage.Level), formatStageLabel(rpt.Triage.Level), colorize))
	validationKind := statusOK
	if !rpt.Validation.Passed {
		validationKind = statusWarn
	}
	fmt.Fprintln(stdout, renderStatusLine("Validation", validationKind,
		fmt.Sprintf("score %.0f/10 (passed: %s)", rpt.Validation.Score, yesNo(rpt.Validation.Passed)), colorize))

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, rpt.Document.Summary)
	if rpt.Document.Findings != "" {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, rpt.Document.Findings)
	}
	if rpt.Document.Recommendation != "" {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, rpt.Document.Recommendation)
	}
	if len(rpt.Validation.Issues) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Validation issues:")
		for _, issue := range rpt.Validation.Issues {
			fmt.Fprintf(stdout, "  - %s\n", issue)
		}
	}
}

func describeInterpretation(interp report.Interpretation) string {
	label := formatStageLabel(interp.Pattern)
	if interp.Severity != "" {
		label = fmt.Sprintf("%s (%s)", label, interp.Severity)
	}
	if interp.DiffusionImpairment {
		label += ", reduced diffusion"
	}
	return label
}

func triageKind(level string) statusKind {
	switch level {
	case report.TriageCritical:
		return statusError
	case report.TriageUrgent:
		return statusWarn
	default:
		return statusOK
	}
}
