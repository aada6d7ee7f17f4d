package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

// Query defaults.
const (
	DefaultMetricsDays = 30
	MaxMetricsDays     = 3650
	DefaultRemoteLimit = 50
	MaxRemoteLimit     = 1000
)

// Ensure OrderService implements the interface.
var _ driving.OrderService = (*OrderService)(nil)

// OrderService answers read queries against the local store and passes
// listing requests through to the CRM.
type OrderService struct {
	orders driven.OrderStore
	source driven.OrderSource
	now    func() time.Time
}

// NewOrderService creates a new order query service.
func NewOrderService(orders driven.OrderStore, source driven.OrderSource) *OrderService {
	return &OrderService{
		orders: orders,
		source: source,
		now:    time.Now,
	}
}

// List returns a page of stored orders. The status filter is matched
// case-insensitively; an unrecognised status is rejected.
func (s *OrderService) List(ctx context.Context, bookmark string, filter domain.OrderFilter) (*domain.OrderPage, string, error) {
	status, err := foldFilterStatus(filter.Status)
	if err != nil {
		return nil, "", err
	}
	filter.Status = status
	filter = filter.Normalised()
	if err := filter.Validate(); err != nil {
		return nil, "", err
	}

	session, err := s.orders.BeginSession(ctx, bookmark)
	if err != nil {
		return nil, "", err
	}
	page, err := session.ListOrders(ctx, filter)
	if err != nil {
		return nil, session.Bookmark(), err
	}
	return page, session.Bookmark(), nil
}

// Get returns one stored order by remote ID.
func (s *OrderService) Get(ctx context.Context, bookmark, remoteID string) (*domain.Order, string, error) {
	remoteID = strings.TrimSpace(remoteID)
	if remoteID == "" {
		return nil, "", fmt.Errorf("order id is required: %w", domain.ErrInvalidInput)
	}

	session, err := s.orders.BeginSession(ctx, bookmark)
	if err != nil {
		return nil, "", err
	}
	order, err := session.GetOrder(ctx, remoteID)
	if err != nil {
		return nil, session.Bookmark(), err
	}
	return order, session.Bookmark(), nil
}

// Metrics summarises orders placed in the last days days, counted from
// the start of the current UTC day. Zero or negative days select
// DefaultMetricsDays.
func (s *OrderService) Metrics(ctx context.Context, bookmark string, days int) (*domain.OrderMetrics, string, error) {
	if days <= 0 {
		days = DefaultMetricsDays
	}
	if days > MaxMetricsDays {
		return nil, "", fmt.Errorf("days must be at most %d: %w", MaxMetricsDays, domain.ErrInvalidInput)
	}

	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))

	session, err := s.orders.BeginSession(ctx, bookmark)
	if err != nil {
		return nil, "", err
	}
	metrics, err := session.Metrics(ctx, since)
	if err != nil {
		return nil, session.Bookmark(), err
	}
	return metrics, session.Bookmark(), nil
}

// Remote returns one page straight from the CRM. Nothing is stored.
func (s *OrderService) Remote(ctx context.Context, offset, limit int) (*domain.RemotePage, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset must not be negative: %w", domain.ErrInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = DefaultRemoteLimit
	case limit > MaxRemoteLimit:
		limit = MaxRemoteLimit
	}
	return s.source.FetchPage(ctx, domain.PageRequest{Offset: offset, Limit: limit})
}

// foldFilterStatus maps a user-supplied status onto the known set.
func foldFilterStatus(s domain.OrderStatus) (domain.OrderStatus, error) {
	raw := strings.TrimSpace(string(s))
	if raw == "" {
		return "", nil
	}
	folded := cases.Fold().String(raw)
	status := domain.ParseOrderStatus(folded)
	if status == domain.StatusUnknown && folded != string(domain.StatusUnknown) {
		return "", fmt.Errorf("unknown order status %q: %w", raw, domain.ErrInvalidInput)
	}
	return status, nil
}
