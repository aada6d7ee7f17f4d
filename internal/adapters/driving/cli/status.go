package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	Long:  `Shows when orders were last synchronised, the stored cursor and the number of orders held locally.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	if syncService == nil {
		return errors.New("sync service not configured")
	}

	status, err := syncService.Status(cmd.Context(), "")
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if statusJSON {
		return printJSON(cmd, status)
	}

	cmd.Printf("Stream:       %s\n", status.Stream)
	cmd.Printf("Orders:       %d\n", status.TotalOrders)
	if status.LastSync.IsZero() {
		cmd.Println("Last sync:    never")
	} else {
		cmd.Printf("Last sync:    %s\n", status.LastSync.Format(time.RFC3339))
	}
	if status.Cursor != nil {
		cmd.Printf("Cursor:       %s (%s)\n", status.Cursor.Position.Format(time.RFC3339), status.Cursor.Mode)
	}
	if status.Running {
		cmd.Printf("Running:      %s, %d processed, %d errors\n",
			status.Phase, status.RecordsProcessed, status.ErrorCount)
	}
	return nil
}
