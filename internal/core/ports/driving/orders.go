package driving

import (
	"context"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// OrderService answers read queries against the local order store.
// Every method takes the caller's bookmark and returns the session's
// bookmark after the read.
type OrderService interface {
	// List returns a page of stored orders.
	List(ctx context.Context, bookmark string, filter domain.OrderFilter) (*domain.OrderPage, string, error)

	// Get returns one stored order by remote ID.
	Get(ctx context.Context, bookmark, remoteID string) (*domain.Order, string, error)

	// Metrics summarises orders from the last days days.
	Metrics(ctx context.Context, bookmark string, days int) (*domain.OrderMetrics, string, error)

	// Remote returns a page straight from the CRM without storing it.
	Remote(ctx context.Context, offset, limit int) (*domain.RemotePage, error)
}
