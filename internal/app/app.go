// Package app wires configuration, storage, the CRM client and the core
// services into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/custodia-labs/ordersync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ordersync/internal/adapters/driven/storage/redis"
	"github.com/custodia-labs/ordersync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/ordersync/internal/adapters/driving/cli"
	"github.com/custodia-labs/ordersync/internal/config"
	"github.com/custodia-labs/ordersync/internal/connectors/crm"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/core/services"
	"github.com/custodia-labs/ordersync/internal/logger"
	"github.com/custodia-labs/ordersync/internal/normalisers/order"
)

// App holds the wired components. Close releases them.
type App struct {
	Config    *config.Config
	Store     *sqlite.Store
	Cursors   driven.CursorStore
	Client    *crm.Client
	Sync      *services.SyncOrchestrator
	Orders    *services.OrderService
	Scheduler *services.Scheduler

	closers []func() error
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, err := sqlite.NewStore(cfg.DataDir, sqlite.WithChunkSize(cfg.Sync.ChunkSize))
	if err != nil {
		return nil, fmt.Errorf("opening order store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	if a.Cursors, err = a.openCursors(ctx); err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if a.Client, err = newCRMClient(ctx, cfg); err != nil {
		return nil, errors.Join(err, a.Close())
	}

	a.Sync = services.NewSyncOrchestrator(a.Client, order.New(), store, a.Cursors, cfg.SyncServiceConfig())
	a.Orders = services.NewOrderService(store, a.Client)
	a.Scheduler = services.NewScheduler(cfg.SchedulerDomainConfig(), store.SchedulerStore(), a.Sync)

	logger.Debug("app: data dir %s, cursor backend %s", cfg.DataDir, cfg.Cursor.Backend)
	return a, nil
}

// openCursors opens the configured cursor backend.
func (a *App) openCursors(ctx context.Context) (driven.CursorStore, error) {
	switch a.Config.Cursor.Backend {
	case config.CursorBackendRedis:
		client, err := redis.NewClient(ctx, a.Config.Cursor.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("opening redis cursor store: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		return redis.NewCursorStore(client), nil
	case config.CursorBackendMemory:
		return memory.NewCursorStore(), nil
	default:
		cursors, err := sqlite.NewCursorStore(a.Config.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening cursor store: %w", err)
		}
		a.closers = append(a.closers, cursors.Close)
		return cursors, nil
	}
}

// newCRMClient builds an authenticated client. Without credentials the
// client still works for local commands; CRM calls are then rejected as
// unauthorized.
func newCRMClient(ctx context.Context, cfg *config.Config) (*crm.Client, error) {
	crmCfg := cfg.CRMClientConfig()
	if !cfg.HasCredentials() {
		logger.Warn("CRM credentials not configured; set KEAP_SERVICE_ACCOUNT_KEY or KEAP_CLIENT_ID and KEAP_SECRET")
		return crm.NewClientWithHTTPClient(crmCfg, &http.Client{Timeout: crmCfg.Timeout}), nil
	}

	client, err := crm.NewClient(ctx, crmCfg)
	if err != nil {
		return nil, fmt.Errorf("creating CRM client: %w", err)
	}
	return client, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range slices.Backward(a.closers) {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Bootstrap loads configuration and builds the services the CLI runs.
func Bootstrap(ctx context.Context, opts cli.Options) (cli.Services, func() error, error) {
	cfg, err := config.Load(opts.ConfigDir, opts.EnvFiles...)
	if err != nil {
		return cli.Services{}, nil, err
	}
	if opts.Verbose {
		cfg.Log.Verbose = true
	}
	logger.SetFormat(logger.Format(cfg.Log.Format))
	logger.SetVerbose(cfg.Log.Verbose)

	a, err := New(ctx, cfg)
	if err != nil {
		return cli.Services{}, nil, err
	}

	return cli.Services{
		Sync:      a.Sync,
		Orders:    a.Orders,
		Scheduler: a.Scheduler,
		Addr:      cfg.Server.Addr,
		AuthToken: cfg.Server.AuthToken,
		Logger:    logger.L(),
	}, a.Close, nil
}
