package driven

import (
	"context"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// CursorStore persists sync progress per stream.
// It is kept outside the order database, so cursor writes never share a
// transaction with row writes.
type CursorStore interface {
	// Set stores or updates a stream's cursor.
	Set(ctx context.Context, cursor domain.SyncCursor) error

	// Get retrieves the cursor for a stream.
	// Returns domain.ErrNotFound if the stream has never been synced.
	Get(ctx context.Context, stream string) (*domain.SyncCursor, error)

	// Delete removes the cursor for a stream.
	Delete(ctx context.Context, stream string) error
}
