package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

var (
	syncFull bool
	syncJSON bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronise orders from the CRM",
	Long: `Fetches orders from the CRM and writes them to the local store.
By default only orders changed since the last successful sync are fetched.
Use --full to fetch every order again.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "fetch every order instead of only recent changes")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, _ []string) error {
	if syncService == nil {
		return errors.New("sync service not configured")
	}

	req := driving.SyncRequest{Mode: domain.SyncModeIncremental}
	if syncFull {
		req.Mode = domain.SyncModeFull
	}

	var (
		result *domain.SyncResult
		err    error
	)
	if !syncJSON && isTerminal(cmd.OutOrStdout()) {
		cmd.Printf("Running %s sync...\n", req.Mode)
		result, err = syncWithProgress(cmd.Context(), cmd, syncService, req)
	} else {
		result, err = syncService.Sync(cmd.Context(), req)
	}

	if syncJSON {
		if result != nil {
			if pErr := printJSON(cmd, result); pErr != nil {
				return pErr
			}
		}
	} else {
		printSyncResult(cmd, result)
	}

	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// syncWithProgress runs sync while displaying progress updates.
func syncWithProgress(
	ctx context.Context,
	cmd *cobra.Command,
	svc driving.SyncService,
	req driving.SyncRequest,
) (*domain.SyncResult, error) {
	type outcome struct {
		result *domain.SyncResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := svc.Sync(ctx, req)
		done <- outcome{result, err}
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case out := <-done:
			if lastCount > 0 {
				cmd.Println()
			}
			return out.result, out.err
		case <-ticker.C:
			// Progress is best effort; a status error is ignored.
			status, err := svc.Status(ctx, "")
			if err == nil && status != nil && status.RecordsProcessed > lastCount {
				cmd.Printf("\rProcessing... %d orders", status.RecordsProcessed)
				lastCount = status.RecordsProcessed
			}
		}
	}
}

func printSyncResult(cmd *cobra.Command, result *domain.SyncResult) {
	if result == nil {
		return
	}

	cmd.Printf("Fetched %d orders across %d pages: %d written, %d failed, %d skipped.\n",
		result.Fetched, result.Pages, result.Written, result.Failed, result.Skipped)
	for _, e := range result.Errors {
		if e.RemoteID != "" {
			cmd.Printf("  %s: %s\n", e.RemoteID, e.Message)
		} else {
			cmd.Printf("  %s\n", e.Message)
		}
	}

	if !result.Success {
		cmd.Printf("Synced %d orders before the error (%s).\n", result.SyncedBeforeError, result.ErrorCode)
		return
	}
	if !result.Since.IsZero() {
		cmd.Printf("Changes since %s.\n", result.Since.Format(time.RFC3339))
	}
	cmd.Println("Orders synchronised successfully.")
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
