package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

func sqlNull(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func setupCursorStore(t *testing.T) *CursorStore {
	t.Helper()
	store, err := NewCursorStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func TestNewCursorStore_SeparateFile(t *testing.T) {
	dir := t.TempDir()

	cursors, err := NewCursorStore(dir)
	require.NoError(t, err)
	defer cursors.Close()

	orders, err := NewStore(dir)
	require.NoError(t, err)
	defer orders.Close()

	assert.Equal(t, filepath.Join(dir, CursorDatabaseFile), cursors.Path())
	assert.NotEqual(t, orders.Path(), cursors.Path())
	assert.FileExists(t, cursors.Path())
}

func TestCursorStore_SetAndGet(t *testing.T) {
	store := setupCursorStore(t)
	ctx := context.Background()

	pos := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	lastSync := pos.Add(time.Minute)
	require.NoError(t, store.Set(ctx, domain.SyncCursor{
		Stream:   domain.StreamOrders,
		Position: pos,
		Offset:   40,
		Mode:     domain.SyncModeFull,
		LastSync: lastSync,
	}))

	got, err := store.Get(ctx, domain.StreamOrders)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamOrders, got.Stream)
	assert.True(t, pos.Equal(got.Position))
	assert.Equal(t, 40, got.Offset)
	assert.Equal(t, domain.SyncModeFull, got.Mode)
	assert.True(t, lastSync.Equal(got.LastSync))
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestCursorStore_Get_NotFound(t *testing.T) {
	store := setupCursorStore(t)

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCursorStore_Set_EmptyStream(t *testing.T) {
	store := setupCursorStore(t)

	err := store.Set(context.Background(), domain.SyncCursor{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCursorStore_Set_NeverMovesBackwards(t *testing.T) {
	store := setupCursorStore(t)
	ctx := context.Background()

	later := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: "orders", Position: later, Mode: domain.SyncModeIncremental}))
	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: "orders", Position: later.Add(-time.Hour), Offset: 7, Mode: domain.SyncModeIncremental}))

	got, err := store.Get(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.Position))
	assert.Equal(t, 7, got.Offset)

	// A progress update without a position keeps the stored one.
	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: "orders", Offset: 9, Mode: domain.SyncModeIncremental}))
	got, err = store.Get(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, later.Equal(got.Position))
	assert.Equal(t, 9, got.Offset)

	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: "orders", Position: later.Add(time.Hour), Mode: domain.SyncModeIncremental}))
	got, err = store.Get(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, later.Add(time.Hour).Equal(got.Position))
}

func TestCursorStore_Delete(t *testing.T) {
	store := setupCursorStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: "orders", Mode: domain.SyncModeFull}))
	require.NoError(t, store.Delete(ctx, "orders"))

	_, err := store.Get(ctx, "orders")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
