package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pulmo/internal/ipc"
	"pulmo/internal/registry"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <request-id>",
		Short: "Follow a request until it completes or fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return ctx.withClient(func(client *ipc.Client) error {
				final, err := waitForTerminal(cmd, client, id, true)
				if err != nil {
					return err
				}
				if final.Stage == string(registry.StageFailed) {
					return fmt.Errorf("request %s failed: %s", final.ID, final.ErrorMessage)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Request %s completed\n", final.ID)
				return nil
			})
		},
	}
	return cmd
}
