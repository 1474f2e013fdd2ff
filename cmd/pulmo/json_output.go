package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

// writeJSON prints v as two-space indented JSON on the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
