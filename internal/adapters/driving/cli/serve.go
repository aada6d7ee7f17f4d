package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ordersync/internal/adapters/driving/api"
	"github.com/custodia-labs/ordersync/internal/logger"
)

var (
	serveAddr        string
	serveNoScheduler bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the sync scheduler",
	Long: `Serves the ordersync HTTP API and, unless disabled, runs scheduled syncs
in the background.

Endpoints:
  GET  /health
  POST /api/sync?mode=full|incremental
  GET  /api/sync/status
  GET  /api/orders?status=&page=&limit=
  GET  /api/orders/{id}
  GET  /api/metrics?days=
  GET  /api/remote/orders?offset=&limit=

Responses carry an X-Ordersync-Bookmark header. Send it back on later
requests to read your own writes.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "do not run scheduled syncs")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if syncService == nil || orderService == nil {
		return errNotConfigured
	}

	addr := serverAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	server, err := api.NewServer(
		api.Ports{Sync: syncService, Orders: orderService},
		api.Options{AuthToken: authToken, Logger: httpLogger},
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if scheduler != nil && !serveNoScheduler {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := scheduler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler stopped: %v", err)
			}
		}()
		defer func() {
			cancel()
			if err := scheduler.Stop(); err != nil {
				logger.Warn("stopping scheduler: %v", err)
			}
			<-done
		}()
	}

	cmd.Printf("ordersync API listening on http://%s\n", addr)
	return server.Run(ctx, addr)
}
