package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// OrderSource fetches orders from the remote CRM.
// Implementations perform no local state mutation.
type OrderSource interface {
	// FetchPage returns one page of orders and the total the CRM reports as available.
	// Orders are sorted by order time, newest first.
	FetchPage(ctx context.Context, req domain.PageRequest) (*domain.RemotePage, error)

	// FetchSince returns every order changed on or after since.
	FetchSince(ctx context.Context, since time.Time) ([]domain.RemoteOrder, error)

	// FetchByID returns a single order.
	// Returns domain.ErrNotFound if the CRM has no such order.
	FetchByID(ctx context.Context, id string) (*domain.RemoteOrder, error)

	// FetchAll loops pages until one returns fewer records than requested.
	FetchAll(ctx context.Context) ([]domain.RemoteOrder, error)
}
