package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ordersync/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/ordersync/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/core/ports/driving"
	"github.com/custodia-labs/ordersync/internal/normalisers/order"
)

// --- Fakes for sync testing ---

// fakeSource serves pages from a fixed order list. Queued errors are
// returned by successive FetchPage calls before any page is served;
// errAt fails every request for the given offset.
type fakeSource struct {
	mu          stdsync.Mutex
	orders      []domain.RemoteOrder
	reportCount bool
	errs        []error
	errAt       map[int]error
	calls       []domain.PageRequest
}

var _ driven.OrderSource = (*fakeSource)(nil)

func (f *fakeSource) FetchPage(_ context.Context, req domain.PageRequest) (*domain.RemotePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if err := f.errAt[req.Offset]; err != nil {
		return nil, err
	}

	start := min(req.Offset, len(f.orders))
	end := min(req.Offset+req.Limit, len(f.orders))
	page := &domain.RemotePage{Orders: append([]domain.RemoteOrder(nil), f.orders[start:end]...)}
	if f.reportCount {
		page.Total = len(f.orders)
	}
	return page, nil
}

func (f *fakeSource) FetchSince(_ context.Context, _ time.Time) ([]domain.RemoteOrder, error) {
	return f.orders, nil
}

func (f *fakeSource) FetchByID(_ context.Context, id string) (*domain.RemoteOrder, error) {
	for i := range f.orders {
		if string(f.orders[i].ID) == id {
			return &f.orders[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSource) FetchAll(_ context.Context) ([]domain.RemoteOrder, error) {
	return f.orders, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// remoteOrder decodes a minimal CRM record the way the client would.
func remoteOrder(t *testing.T, id, orderTime string, total float64) domain.RemoteOrder {
	t.Helper()
	payload := fmt.Sprintf(`{
		"id": %q,
		"status": "paid",
		"total": %v,
		"order_time": %q,
		"order_items": [{"id": "li-%s", "product_name": "Widget", "quantity": 1, "price": %v}]
	}`, id, total, orderTime, id, total)

	var ro domain.RemoteOrder
	require.NoError(t, json.Unmarshal([]byte(payload), &ro))
	return ro
}

// remoteOrders builds n orders placed one minute apart, newest first.
func remoteOrders(t *testing.T, n int, newest time.Time) []domain.RemoteOrder {
	t.Helper()
	out := make([]domain.RemoteOrder, n)
	for i := range out {
		ts := newest.Add(-time.Duration(i) * time.Minute).Format(time.RFC3339)
		out[i] = remoteOrder(t, fmt.Sprintf("o%03d", i), ts, 10)
	}
	return out
}

// failingStore writes nothing and reports the second half of every batch
// as a failed chunk.
type failingStore struct{}

func (failingStore) BeginSession(context.Context, string) (driven.Session, error) {
	return &failingSession{}, nil
}

type failingSession struct{ driven.Session }

func (*failingSession) UpsertBatch(_ context.Context, orders []domain.Order) (domain.UpsertResult, error) {
	half := len(orders) / 2
	ids := make([]string, 0, len(orders)-half)
	for _, o := range orders[half:] {
		ids = append(ids, o.RemoteID)
	}
	writeErr := &domain.WriteError{Chunk: 1, Err: &domain.StorageError{Op: "upsert", Err: fmt.Errorf("constraint failed")}}
	return domain.UpsertResult{
		Written: half,
		Failed:  len(orders) - half,
		Chunks:  []domain.ChunkError{{Index: 1, RemoteIDs: ids, Err: writeErr}},
	}, writeErr
}

func (*failingSession) Bookmark() string { return "bm" }

type syncHarness struct {
	orch    *SyncOrchestrator
	source  *fakeSource
	store   *sqlite.Store
	cursors *memory.CursorStore

	mu     stdsync.Mutex
	now    time.Time
	sleeps []time.Duration
}

var syncNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newSyncHarness(t *testing.T, cfg SyncConfig) *syncHarness {
	t.Helper()

	store, err := sqlite.NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &syncHarness{
		source:  &fakeSource{},
		store:   store,
		cursors: memory.NewCursorStore(),
		now:     syncNow,
	}
	h.orch = NewSyncOrchestrator(h.source, order.New(), store, h.cursors, cfg)
	h.orch.now = func() time.Time {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.now
	}
	h.orch.sleep = func(_ context.Context, d time.Duration) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	return h
}

func (h *syncHarness) setNow(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = t
}

func (h *syncHarness) count(t *testing.T, bookmark string) int {
	t.Helper()
	sess, err := h.store.BeginSession(context.Background(), bookmark)
	require.NoError(t, err)
	n, err := sess.CountOrders(context.Background())
	require.NoError(t, err)
	return n
}

// --- Tests ---

func TestSync_RetriesTransientErrorThenWritesOnce(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	h.source.orders = []domain.RemoteOrder{remoteOrder(t, "A1", "2024-05-30T10:00:00Z", 10)}
	h.source.errs = []error{&domain.TransportError{Op: "list orders", Err: fmt.Errorf("connection reset")}}

	result, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 1, result.Pages)
	assert.Equal(t, []time.Duration{DefaultBaseDelay}, h.sleeps)

	sess, err := h.store.BeginSession(context.Background(), result.Bookmark)
	require.NoError(t, err)
	got, err := sess.GetOrder(context.Background(), "A1")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(1000), got.Total)
	assert.Equal(t, 1, h.count(t, result.Bookmark))

	// Replaying the same remote state leaves one row.
	_, err = h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull, Bookmark: result.Bookmark})
	require.NoError(t, err)
	assert.Equal(t, 1, h.count(t, result.Bookmark))
}

func TestSync_IncrementalDropsRecordsBeforeCursor(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	cursorPos := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.cursors.Set(context.Background(), domain.SyncCursor{Stream: domain.StreamOrders, Position: cursorPos}))

	h.source.orders = []domain.RemoteOrder{
		remoteOrder(t, "new", "2024-01-02T00:00:00Z", 5),
		remoteOrder(t, "old", "2023-12-31T00:00:00Z", 5),
	}

	result, err := h.orch.Sync(context.Background(), driving.SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncModeIncremental, result.Mode)
	assert.Equal(t, 2, result.Fetched)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 1, result.Skipped)
	assert.True(t, cursorPos.Equal(result.Since))
	require.Len(t, h.source.calls, 1)
	assert.True(t, cursorPos.Equal(h.source.calls[0].Since))

	sess, err := h.store.BeginSession(context.Background(), result.Bookmark)
	require.NoError(t, err)
	_, err = sess.GetOrder(context.Background(), "new")
	assert.NoError(t, err)
	_, err = sess.GetOrder(context.Background(), "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The cursor moves to the run start, not to the newest record.
	require.NotNil(t, result.Cursor)
	assert.True(t, syncNow.Equal(result.Cursor.Position))
}

func TestSync_FailedChunkDoesNotAdvanceCursor(t *testing.T) {
	source := &fakeSource{orders: remoteOrders(t, 20, syncNow.Add(-time.Hour))}
	cursors := memory.NewCursorStore()
	cursorPos := syncNow.Add(-48 * time.Hour)
	require.NoError(t, cursors.Set(context.Background(), domain.SyncCursor{Stream: domain.StreamOrders, Position: cursorPos}))

	orch := NewSyncOrchestrator(source, order.New(), failingStore{}, cursors, SyncConfig{PageSize: 50})
	orch.now = func() time.Time { return syncNow }
	orch.sleep = func(context.Context, time.Duration) error { return nil }

	result, err := orch.Sync(context.Background(), driving.SyncRequest{})
	require.Error(t, err)

	var syncErr *domain.SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, domain.CodeWriteFailed, syncErr.Code)
	assert.Same(t, result, syncErr.Result)

	assert.False(t, result.Success)
	assert.Equal(t, 10, result.Written)
	assert.Equal(t, 10, result.Failed)
	assert.Equal(t, 10, result.SyncedBeforeError)
	assert.Equal(t, 1, result.Attempts, "constraint failures are not retried")
	assert.Len(t, result.Errors, domain.MaxErrorSamples)
	assert.Equal(t, "bm", result.Bookmark)

	stored, err := cursors.Get(context.Background(), domain.StreamOrders)
	require.NoError(t, err)
	assert.True(t, cursorPos.Equal(stored.Position))
}

func TestSync_UnauthorizedIsNotRetried(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	h.source.errs = []error{&domain.RemoteAPIError{StatusCode: http.StatusUnauthorized, Body: "invalid token"}}

	result, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
	assert.Equal(t, domain.CodeUnauthorized, result.ErrorCode)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, h.sleeps)

	_, err = h.cursors.Get(context.Background(), domain.StreamOrders)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSync_MalformedResponseIsNotRetried(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	h.source.errs = []error{&domain.MalformedResponseError{Err: fmt.Errorf("unexpected EOF")}}

	result, err := h.orch.Sync(context.Background(), driving.SyncRequest{})
	require.Error(t, err)
	assert.Equal(t, domain.CodeMalformedResponse, result.ErrorCode)
	assert.Equal(t, 1, result.Attempts)
}

func TestSync_RetriesExhausted(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	for range DefaultMaxAttempts {
		h.source.errs = append(h.source.errs, &domain.RemoteAPIError{StatusCode: http.StatusBadGateway})
	}
	h.source.orders = remoteOrders(t, 1, syncNow)

	result, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetriesExhausted)
	assert.Equal(t, domain.CodeRemoteUnavailable, result.ErrorCode)
	assert.Equal(t, DefaultMaxAttempts, result.Attempts)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond, time.Second, 2 * time.Second, 4 * time.Second,
	}, h.sleeps)
	assert.Zero(t, h.count(t, driven.BookmarkFirstPrimary))
}

func TestSync_FullSyncPaginationCompleteness(t *testing.T) {
	tests := []struct {
		name        string
		records     int
		pageSize    int
		reportCount bool
		wantCalls   int
	}{
		{"partial last page", 5, 2, false, 3},
		{"exact multiple without count", 4, 2, false, 3},
		{"exact multiple with count", 4, 2, true, 2},
		{"single page", 3, 10, true, 1},
		{"empty", 0, 10, false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newSyncHarness(t, SyncConfig{PageSize: tt.pageSize})
			h.source.orders = remoteOrders(t, tt.records, syncNow)
			h.source.reportCount = tt.reportCount

			result, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCalls, h.source.callCount())
			assert.Equal(t, tt.records, result.Written)
			assert.Equal(t, tt.records, h.count(t, result.Bookmark))

			for i, call := range h.source.calls {
				assert.Equal(t, i*tt.pageSize, call.Offset)
				assert.True(t, call.Since.IsZero(), "full sync sends no since filter")
			}
		})
	}
}

func TestSync_CursorIsMonotonic(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	ctx := context.Background()

	// First incremental run without a cursor looks back 90 days.
	_, err := h.orch.Sync(ctx, driving.SyncRequest{})
	require.NoError(t, err)
	require.Len(t, h.source.calls, 1)
	assert.True(t, syncNow.Add(-DefaultLookback).Equal(h.source.calls[0].Since))

	var positions []time.Time
	for _, at := range []time.Time{syncNow.Add(time.Hour), syncNow.Add(2 * time.Hour), syncNow.Add(30 * time.Minute)} {
		h.setNow(at)
		_, err := h.orch.Sync(ctx, driving.SyncRequest{})
		require.NoError(t, err)

		c, err := h.cursors.Get(ctx, domain.StreamOrders)
		require.NoError(t, err)
		positions = append(positions, c.Position)
	}

	for i := 1; i < len(positions); i++ {
		assert.False(t, positions[i].Before(positions[i-1]), "cursor moved backwards at run %d", i)
	}
	assert.True(t, syncNow.Add(2*time.Hour).Equal(positions[2]))
}

func TestSync_RatePauseOnSuccessPath(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{PageSize: 2, PauseEvery: 2, PauseFor: 2 * time.Second})
	h.source.orders = remoteOrders(t, 5, syncNow)

	result, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Written)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.sleeps)
}

func TestSync_InvalidRecordsAreSkippedAndCounted(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	bad := remoteOrder(t, "bad", "2024-05-30T10:00:00Z", 10)
	negative := -1
	bad.OrderItems[0].Quantity = &negative
	h.source.orders = []domain.RemoteOrder{remoteOrder(t, "good", "2024-05-30T10:00:00Z", 10), bad}

	result, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Written)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad", result.Errors[0].RemoteID)
	assert.Equal(t, domain.KindValidation, result.Errors[0].Kind)
}

func TestSync_InvalidModeAndBookmark(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})

	_, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: "sideways"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.orch.Sync(context.Background(), driving.SyncRequest{Bookmark: "not-a-bookmark!"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Zero(t, h.source.callCount())
}

func TestSync_CancelledDuringBackoff(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	h.source.errs = []error{&domain.TransportError{Op: "list orders", Err: fmt.Errorf("timeout")}}
	h.orch.sleep = sleepContext

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := h.orch.Sync(ctx, driving.SyncRequest{Mode: domain.SyncModeFull})
	require.Error(t, err)
	assert.Equal(t, domain.CodeCancelled, result.ErrorCode)
}

func TestStatus(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	ctx := context.Background()

	status, err := h.orch.Status(ctx, "")
	require.NoError(t, err)
	assert.False(t, status.Running)
	assert.Equal(t, domain.PhaseIdle, status.Phase)
	assert.Zero(t, status.TotalOrders)
	assert.Nil(t, status.Cursor)
	assert.True(t, status.LastSync.IsZero())

	h.source.orders = remoteOrders(t, 3, syncNow)
	result, err := h.orch.Sync(ctx, driving.SyncRequest{Mode: domain.SyncModeFull})
	require.NoError(t, err)

	status, err = h.orch.Status(ctx, result.Bookmark)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamOrders, status.Stream)
	assert.Equal(t, 3, status.TotalOrders)
	require.NotNil(t, status.Cursor)
	assert.Equal(t, domain.SyncModeFull, status.Cursor.Mode)
	assert.True(t, syncNow.Equal(status.LastSync))
	assert.Equal(t, result.Bookmark, status.Bookmark)
}

func TestStatus_ReportsRunInFlight(t *testing.T) {
	h := newSyncHarness(t, SyncConfig{})
	h.source.errs = []error{&domain.TransportError{Op: "list orders", Err: fmt.Errorf("timeout")}}

	paused := make(chan struct{})
	resume := make(chan struct{})
	h.orch.sleep = func(context.Context, time.Duration) error {
		close(paused)
		<-resume
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.orch.Sync(context.Background(), driving.SyncRequest{Mode: domain.SyncModeFull})
		done <- err
	}()

	<-paused
	status, err := h.orch.Status(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, domain.PhaseFailed, status.Phase)

	close(resume)
	require.NoError(t, <-done)

	status, err = h.orch.Status(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, status.Running)
}
