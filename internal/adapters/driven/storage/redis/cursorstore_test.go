package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// setupCursorStore starts an in-process Redis server and returns a store
// connected to it.
func setupCursorStore(t *testing.T) (*CursorStore, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	client, err := NewClient(context.Background(), "redis://"+srv.Addr()+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewCursorStore(client), srv
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ordersync:cursor:orders", key(domain.StreamOrders))
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient(context.Background(), "not-a-url://")
	assert.Error(t, err)
}

func TestNewClient_Unreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := NewClient(context.Background(), "redis://"+addr)
	require.Error(t, err)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, wrap("op", nil))
	assert.ErrorIs(t, wrap("op", domain.ErrNotFound), domain.ErrNotFound)
	assert.ErrorIs(t, wrap("op", context.Canceled), context.Canceled)

	err := wrap("get cursor", assert.AnError)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestCursorStore_Set_EmptyStream(t *testing.T) {
	store := NewCursorStore(nil)
	err := store.Set(context.Background(), domain.SyncCursor{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCursorStore_SetGetDelete(t *testing.T) {
	store, srv := setupCursorStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, domain.StreamOrders)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	pos := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: domain.StreamOrders, Position: pos, Mode: domain.SyncModeFull}))
	assert.True(t, srv.Exists(key(domain.StreamOrders)))
	assert.Zero(t, srv.TTL(key(domain.StreamOrders)), "cursors do not expire")

	got, err := store.Get(ctx, domain.StreamOrders)
	require.NoError(t, err)
	assert.True(t, pos.Equal(got.Position))
	assert.Equal(t, domain.SyncModeFull, got.Mode)

	require.NoError(t, store.Delete(ctx, domain.StreamOrders))
	_, err = store.Get(ctx, domain.StreamOrders)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCursorStore_Set_NeverMovesBackwards(t *testing.T) {
	store, _ := setupCursorStore(t)
	ctx := context.Background()

	later := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: domain.StreamOrders, Position: later}))
	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: domain.StreamOrders, Position: later.Add(-time.Hour), Offset: 3}))

	got, err := store.Get(ctx, domain.StreamOrders)
	require.NoError(t, err)
	assert.True(t, later.Equal(got.Position))
	assert.Equal(t, 3, got.Offset, "other fields still update")

	require.NoError(t, store.Set(ctx, domain.SyncCursor{Stream: domain.StreamOrders, Position: later.Add(time.Hour)}))
	got, err = store.Get(ctx, domain.StreamOrders)
	require.NoError(t, err)
	assert.True(t, later.Add(time.Hour).Equal(got.Position))
}

func TestCursorStore_ConcurrentSetsKeepNewest(t *testing.T) {
	store, _ := setupCursorStore(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		newest time.Time
	)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pos := base.Add(time.Duration(i) * time.Minute)
			err := store.Set(ctx, domain.SyncCursor{Stream: domain.StreamOrders, Position: pos})
			if err != nil {
				// Losing every optimistic-lock retry is reported as transient.
				assert.True(t, domain.IsRetryable(err), "%v", err)
				return
			}
			mu.Lock()
			if pos.After(newest) {
				newest = pos
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, domain.StreamOrders)
	require.NoError(t, err)
	assert.True(t, got.Position.Equal(newest), "want %s, got %s", newest, got.Position)
}

func TestCursorStore_CorruptValue(t *testing.T) {
	store, srv := setupCursorStore(t)
	require.NoError(t, srv.Set(key(domain.StreamOrders), "{not json"))

	_, err := store.Get(context.Background(), domain.StreamOrders)
	require.Error(t, err)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
}

func TestCursorStore_ErrorReplyIsNotTransient(t *testing.T) {
	store, srv := setupCursorStore(t)
	srv.SetError("ERR injected failure")

	_, err := store.Get(context.Background(), domain.StreamOrders)
	require.Error(t, err)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestCursorStore_ServerDownIsTransient(t *testing.T) {
	store, srv := setupCursorStore(t)
	srv.Close()

	err := store.Set(context.Background(), domain.SyncCursor{Stream: domain.StreamOrders, Position: time.Now()})
	require.Error(t, err)
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))

	_, err = store.Get(context.Background(), domain.StreamOrders)
	assert.True(t, domain.IsRetryable(err))
}
