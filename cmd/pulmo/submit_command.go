package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"pulmo/internal/ipc"
	"pulmo/internal/registry"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var attrFlags []string
	var attrsJSON string
	var patientID string
	var wait bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Submit a diagnostic file for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("resolve file path: %w", err)
			}

			attrs, err := collectAttributes(attrFlags, attrsJSON, patientID)
			if err != nil {
				return err
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(path, attrs)
				if err != nil {
					return err
				}
				view := resp.Request
				if asJSON && !wait {
					return writeJSON(cmd, view)
				}
				stdout := cmd.OutOrStdout()
				if !asJSON {
					fmt.Fprintf(stdout, "Request %s admitted (%s)\n", view.ID, view.FileName)
				}
				if !wait {
					return nil
				}
				final, err := waitForTerminal(cmd, client, view.ID, !asJSON)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, final)
				}
				if final.Stage == string(registry.StageFailed) {
					return fmt.Errorf("request %s failed: %s", final.ID, final.ErrorMessage)
				}
				fmt.Fprintf(stdout, "Request %s completed\n", final.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVar(&attrFlags, "attr", nil, "Patient attribute as key=value (repeatable)")
	cmd.Flags().StringVar(&attrsJSON, "attributes", "", "Patient attributes as a JSON object")
	cmd.Flags().StringVar(&patientID, "patient", "", "Patient identifier (shorthand for --attr patient_id=...)")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the request to finish")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the request as JSON")
	return cmd
}

func collectAttributes(attrFlags []string, attrsJSON, patientID string) (map[string]any, error) {
	attrs := make(map[string]any)
	if raw := strings.TrimSpace(attrsJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
			return nil, fmt.Errorf("parse --attributes: %w", err)
		}
	}
	flagAttrs, err := parseAttributeFlags(attrFlags)
	if err != nil {
		return nil, err
	}
	for key, value := range flagAttrs {
		attrs[key] = value
	}
	if patient := strings.TrimSpace(patientID); patient != "" {
		attrs["patient_id"] = patient
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}

// waitForTerminal polls the daemon until the request completes or fails,
// printing progress transitions along the way when verbose is set.
func waitForTerminal(cmd *cobra.Command, client *ipc.Client, id string, verbose bool) (*ipc.RequestView, error) {
	var lastStage string
	for {
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		default:
		}

		resp, err := client.Describe(id)
		if err != nil {
			return nil, err
		}
		view := resp.Request
		if verbose && view.Stage != lastStage {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s (%s)\n",
				formatProgress(view.Progress.Percent), formatStageLabel(view.Stage), view.Progress.Message)
			lastStage = view.Stage
		}
		stage, ok := registry.ParseStage(view.Stage)
		if ok && stage.IsTerminal() {
			return &view, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}
