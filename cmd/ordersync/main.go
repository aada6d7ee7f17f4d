// Command ordersync synchronises CRM orders into a local store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/custodia-labs/ordersync/internal/adapters/driving/cli"
	"github.com/custodia-labs/ordersync/internal/app"
	"github.com/custodia-labs/ordersync/internal/logger"
)

// version is set by the build via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	cli.SetVersion(version)
	cli.SetBootstrap(app.Bootstrap)

	err := cli.Execute(ctx)
	stop()
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
