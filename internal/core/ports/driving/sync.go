package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// SyncService drives order synchronisation from the CRM.
type SyncService interface {
	// Sync runs a full or incremental sync. On failure the returned error is a
	// *domain.SyncError carrying the partial result.
	Sync(ctx context.Context, req SyncRequest) (*domain.SyncResult, error)

	// Status returns the last sync time, stored record count and any run in progress.
	Status(ctx context.Context, bookmark string) (*SyncStatus, error)
}

// SyncRequest parameterises one sync run.
type SyncRequest struct {
	// Mode selects full or incremental sync. Empty means incremental.
	Mode domain.SyncMode

	// Bookmark is the caller's consistency token from a previous response.
	Bookmark string
}

// SyncStatus represents the state of the order stream.
type SyncStatus struct {
	// Stream names the sync stream.
	Stream string `json:"stream"`

	// Running indicates a sync is currently in progress.
	Running bool `json:"running"`

	// Phase is the state machine phase of the run in progress.
	Phase domain.SyncPhase `json:"phase"`

	// RecordsProcessed is the count of records written by the run in progress.
	RecordsProcessed int `json:"records_processed"`

	// ErrorCount is the number of records the run in progress failed or skipped.
	ErrorCount int `json:"error_count"`

	// LastSync is when the last sync completed; zero if never.
	LastSync time.Time `json:"last_sync,omitzero"`

	// Cursor is the stored cursor, nil if the stream has never been synced.
	Cursor *domain.SyncCursor `json:"cursor,omitempty"`

	// TotalOrders is the number of orders stored locally.
	TotalOrders int `json:"total_orders"`

	// Bookmark is the session bookmark the status was read at.
	Bookmark string `json:"bookmark"`
}
