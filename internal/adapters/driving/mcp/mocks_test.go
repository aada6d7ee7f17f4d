package mcp

import (
	"context"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

// mockSyncService is a mock implementation of driving.SyncService.
type mockSyncService struct {
	result *domain.SyncResult
	status *driving.SyncStatus
	err    error
	req    driving.SyncRequest
}

func (m *mockSyncService) Sync(_ context.Context, req driving.SyncRequest) (*domain.SyncResult, error) {
	m.req = req
	return m.result, m.err
}

func (m *mockSyncService) Status(_ context.Context, _ string) (*driving.SyncStatus, error) {
	return m.status, m.err
}

// mockOrderService is a mock implementation of driving.OrderService.
type mockOrderService struct {
	order    *domain.Order
	metrics  *domain.OrderMetrics
	err      error
	bookmark string
	lastID   string
	lastDays int
}

func (m *mockOrderService) List(_ context.Context, _ string, _ domain.OrderFilter) (*domain.OrderPage, string, error) {
	return &domain.OrderPage{}, m.bookmark, m.err
}

func (m *mockOrderService) Get(_ context.Context, _, remoteID string) (*domain.Order, string, error) {
	m.lastID = remoteID
	if m.err != nil {
		return nil, "", m.err
	}
	return m.order, m.bookmark, nil
}

func (m *mockOrderService) Metrics(_ context.Context, _ string, days int) (*domain.OrderMetrics, string, error) {
	m.lastDays = days
	return m.metrics, m.bookmark, m.err
}

func (m *mockOrderService) Remote(_ context.Context, _, _ int) (*domain.RemotePage, error) {
	return &domain.RemotePage{}, m.err
}

var (
	_ driving.SyncService  = (*mockSyncService)(nil)
	_ driving.OrderService = (*mockOrderService)(nil)
)

func newTestServer(syncSvc *mockSyncService, orders *mockOrderService) *Server {
	server, err := NewServer(Ports{Sync: syncSvc, Orders: orders})
	if err != nil {
		panic(err)
	}
	return server
}
