// Package cli implements the ordersync command line with cobra.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

// version is set at build time through SetVersion.
var version = "dev"

// Options are the root flags passed to the bootstrapper.
type Options struct {
	ConfigDir string
	EnvFiles  []string
	Verbose   bool
}

// Services are the driving ports and server settings the commands use.
type Services struct {
	Sync      driving.SyncService
	Orders    driving.OrderService
	Scheduler driving.Scheduler

	// Addr is the HTTP listen address for serve.
	Addr string

	// AuthToken guards the HTTP sync trigger when set.
	AuthToken string

	// Logger receives HTTP request logs.
	Logger *zap.Logger
}

// Bootstrapper builds the services for a command. The returned function
// releases them.
type Bootstrapper func(ctx context.Context, opts Options) (Services, func() error, error)

var (
	syncService  driving.SyncService
	orderService driving.OrderService
	scheduler    driving.Scheduler
	serverAddr   = "127.0.0.1:8787"
	authToken    string
	httpLogger   *zap.Logger

	bootstrap Bootstrapper
	closeApp  func() error

	rootOpts Options
)

var errNotConfigured = errors.New("services not configured")

var rootCmd = &cobra.Command{
	Use:   "ordersync",
	Short: "Synchronise CRM orders into a local store",
	Long: `ordersync pulls orders from the Keap CRM, normalises them and keeps a
local SQLite copy up to date. Syncs run on demand, on a schedule, or through
the HTTP and MCP servers.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootOpts.ConfigDir, "config-dir", "", "configuration directory (default ~/.ordersync)")
	rootCmd.PersistentFlags().StringSliceVar(&rootOpts.EnvFiles, "env-file", nil, "environment files to load (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&rootOpts.Verbose, "verbose", "v", false, "enable verbose logging")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetBootstrap registers the function that builds services on first use.
func SetBootstrap(b Bootstrapper) {
	bootstrap = b
}

// SetServices installs services directly, bypassing the bootstrapper.
func SetServices(s Services) {
	syncService = s.Sync
	orderService = s.Orders
	scheduler = s.Scheduler
	if s.Addr != "" {
		serverAddr = s.Addr
	}
	authToken = s.AuthToken
	httpLogger = s.Logger
}

// Execute runs the root command until ctx is cancelled, then releases
// any services the bootstrapper built.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, teardown())
}

// setup builds services unless they are already installed or the command
// does not need them.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd || syncService != nil || bootstrap == nil {
		return nil
	}

	s, closer, err := bootstrap(cmd.Context(), rootOpts)
	if err != nil {
		return err
	}
	SetServices(s)
	closeApp = closer
	return nil
}

func teardown() error {
	if closeApp == nil {
		return nil
	}
	err := closeApp()
	closeApp = nil
	return err
}
