package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// printJSON writes v to the command's output for --json.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
