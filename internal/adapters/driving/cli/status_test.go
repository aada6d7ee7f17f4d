package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
)

func TestStatusCmd_NeverSynced(t *testing.T) {
	withServices(t, Services{Sync: &mockSyncService{status: &driving.SyncStatus{Stream: "orders"}}})

	out, err := execute(t, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Stream:       orders")
	assert.Contains(t, out, "Last sync:    never")
	assert.NotContains(t, out, "Cursor:")
}

func TestStatusCmd_WithCursorAndRun(t *testing.T) {
	last := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	withServices(t, Services{Sync: &mockSyncService{status: &driving.SyncStatus{
		Stream:           "orders",
		TotalOrders:      42,
		LastSync:         last,
		Cursor:           &domain.SyncCursor{Stream: "orders", Position: last, Mode: domain.SyncModeIncremental},
		Running:          true,
		Phase:            domain.PhaseWritingBatch,
		RecordsProcessed: 10,
	}}})

	out, err := execute(t, "status")

	require.NoError(t, err)
	assert.Contains(t, out, "Orders:       42")
	assert.Contains(t, out, "Last sync:    2024-06-01T12:00:00Z")
	assert.Contains(t, out, "Cursor:       2024-06-01T12:00:00Z (incremental)")
	assert.Contains(t, out, "Running:      writing_batch, 10 processed, 0 errors")
}

func TestStatusCmd_JSON(t *testing.T) {
	withServices(t, Services{Sync: &mockSyncService{status: &driving.SyncStatus{Stream: "orders", TotalOrders: 5}}})

	out, err := execute(t, "status", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"total_orders": 5`)
}

func TestStatusCmd_ServiceNotConfigured(t *testing.T) {
	withServices(t, Services{})

	_, err := execute(t, "status")

	assert.ErrorContains(t, err, "sync service not configured")
}
