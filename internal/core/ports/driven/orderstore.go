package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// Bookmark constraints accepted by OrderStore.BeginSession in place of a
// bookmark returned by an earlier session.
const (
	// BookmarkFirstUnconstrained lets the first read go to any replica.
	BookmarkFirstUnconstrained = "first-unconstrained"

	// BookmarkFirstPrimary sends the first read to the primary.
	BookmarkFirstPrimary = "first-primary"
)

// OrderStore is the local relational store for synchronised orders.
type OrderStore interface {
	// BeginSession opens a session that observes at least the writes
	// covered by bookmark. An empty bookmark starts an unconstrained session.
	BeginSession(ctx context.Context, bookmark string) (Session, error)
}

// Session is a causally consistent view of the order store. All reads and
// writes of one request go through the same session.
type Session interface {
	// UpsertBatch writes orders with insert-or-replace semantics keyed by
	// remote ID, in bounded chunks. A failed chunk is rolled back and
	// reported; later chunks are still attempted.
	UpsertBatch(ctx context.Context, orders []domain.Order) (domain.UpsertResult, error)

	// CountOrders returns the number of stored orders.
	CountOrders(ctx context.Context) (int, error)

	// ListOrders returns a page of orders, newest first.
	ListOrders(ctx context.Context, filter domain.OrderFilter) (*domain.OrderPage, error)

	// GetOrder returns an order and its items by remote ID.
	// Returns domain.ErrNotFound if absent.
	GetOrder(ctx context.Context, remoteID string) (*domain.Order, error)

	// Metrics summarises orders placed on or after since.
	Metrics(ctx context.Context, since time.Time) (*domain.OrderMetrics, error)

	// Bookmark returns the token for the latest state this session has
	// observed or written.
	Bookmark() string
}
