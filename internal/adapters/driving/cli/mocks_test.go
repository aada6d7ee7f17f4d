package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

// mockSyncService implements driving.SyncService for testing.
type mockSyncService struct {
	result *domain.SyncResult
	status *driving.SyncStatus
	err    error
	reqs   []driving.SyncRequest
}

func (m *mockSyncService) Sync(_ context.Context, req driving.SyncRequest) (*domain.SyncResult, error) {
	m.reqs = append(m.reqs, req)
	return m.result, m.err
}

func (m *mockSyncService) Status(_ context.Context, _ string) (*driving.SyncStatus, error) {
	return m.status, m.err
}

// mockOrderService implements driving.OrderService for testing.
type mockOrderService struct {
	page    *domain.OrderPage
	order   *domain.Order
	metrics *domain.OrderMetrics
	err     error

	filter domain.OrderFilter
	days   int
}

func (m *mockOrderService) List(_ context.Context, _ string, filter domain.OrderFilter) (*domain.OrderPage, string, error) {
	m.filter = filter
	return m.page, "", m.err
}

func (m *mockOrderService) Get(_ context.Context, _, _ string) (*domain.Order, string, error) {
	return m.order, "", m.err
}

func (m *mockOrderService) Metrics(_ context.Context, _ string, days int) (*domain.OrderMetrics, string, error) {
	m.days = days
	return m.metrics, "", m.err
}

func (m *mockOrderService) Remote(_ context.Context, _, _ int) (*domain.RemotePage, error) {
	return nil, m.err
}

// withServices installs services for one test and restores the previous
// ones and all flag values afterwards.
func withServices(t *testing.T, s Services) {
	t.Helper()
	oldSync, oldOrders, oldScheduler := syncService, orderService, scheduler
	oldAddr, oldToken, oldLogger := serverAddr, authToken, httpLogger
	oldBootstrap := bootstrap

	SetServices(s)
	bootstrap = nil

	t.Cleanup(func() {
		syncService, orderService, scheduler = oldSync, oldOrders, oldScheduler
		serverAddr, authToken, httpLogger = oldAddr, oldToken, oldLogger
		bootstrap = oldBootstrap
		resetFlags()
	})
}

func resetFlags() {
	syncFull, syncJSON = false, false
	statusJSON = false
	ordersStatus, ordersPage, ordersLimit, ordersDays, ordersJSON = "", 1, domain.DefaultOrderPageLimit, 30, false
	serveAddr, serveNoScheduler = "", false
	versionShort, mcpPort = false, 0
	rootOpts = Options{}
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}
