package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
)

// setupTestStore creates a temporary SQLite store for testing.
func setupTestStore(t *testing.T, opts ...Option) (*Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "ordersync-test-*")
	require.NoError(t, err)

	store, err := NewStore(tempDir, opts...)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		assert.NoError(t, store.Close())
		assert.NoError(t, os.RemoveAll(tempDir))
	}

	return store, cleanup
}

// beginSession opens a session or fails the test.
func beginSession(t *testing.T, store *Store, bookmark string) driven.Session {
	t.Helper()
	sess, err := store.BeginSession(context.Background(), bookmark)
	require.NoError(t, err)
	return sess
}

// testOrder builds a valid order placed at placed with one item per price.
func testOrder(remoteID string, placed time.Time, prices ...domain.Money) domain.Order {
	o := domain.Order{
		RemoteID:        remoteID,
		CustomerID:      "cust-" + remoteID,
		Status:          domain.StatusPaid,
		PaymentStatus:   "paid",
		Currency:        "USD",
		OrderTime:       placed,
		Items:           []domain.LineItem{},
		ShippingAddress: []byte(`{}`),
		BillingAddress:  []byte(`{}`),
		PromoCodes:      []string{},
	}
	for i, p := range prices {
		o.Items = append(o.Items, domain.LineItem{
			ProductID:   "p" + string(rune('a'+i)),
			ProductName: "Product " + string(rune('A'+i)),
			Quantity:    1,
			UnitPrice:   p,
		})
		o.Total += p
	}
	return o
}

// ==================== Store Creation and Initialization Tests ====================

func TestNewStore_ErrorHandling(t *testing.T) {
	_, err := NewStore("/invalid\x00path")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "creating data directory")
}

func TestNewStore_Success(t *testing.T) {
	tempDir := t.TempDir()

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	dbPath := filepath.Join(tempDir, DatabaseFile)
	assert.Equal(t, dbPath, store.Path())
	assert.FileExists(t, dbPath)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NotNil(t, store.replica)
}

func TestNewStore_DirectoryCreation(t *testing.T) {
	nestedDir := filepath.Join(t.TempDir(), "nested", "path", "to", "db")

	store, err := NewStore(nestedDir)
	require.NoError(t, err)
	defer store.Close()

	assert.DirExists(t, nestedDir)
}

func TestNewStore_Migrations(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var count int
	err := store.primary.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, table := range []string{"orders", "order_items", "store_meta", "scheduled_tasks", "task_results"} {
		var exists int
		err := store.primary.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.Equal(t, 1, exists, "table %s should exist", table)
	}

	var seq uint64
	require.NoError(t, store.primary.QueryRow(selectSeq).Scan(&seq))
	assert.Zero(t, seq)
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()

	store, err := NewStore(tempDir)
	require.NoError(t, err)
	sess := beginSession(t, store, "")
	_, err = sess.UpsertBatch(ctx, []domain.Order{testOrder("r1", time.Now(), 100)})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(tempDir)
	require.NoError(t, err)
	defer reopened.Close()

	n, err := beginSession(t, reopened, "").CountOrders(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewStore_ForeignKeysEnabled(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	var fkEnabled int
	err := store.primary.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	require.NoError(t, err)
	assert.Equal(t, 1, fkEnabled, "foreign keys should be enabled")
}

func TestStore_ReplicaRejectsWrites(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.replica.Exec("DELETE FROM orders")
	assert.Error(t, err)
}

func TestStore_Close(t *testing.T) {
	store, _ := setupTestStore(t)

	require.NoError(t, store.Close())
	assert.Error(t, store.primary.Ping())
}

func TestStore_SchedulerStore(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	assert.NotNil(t, store.SchedulerStore())
}

func TestNewStoreFromDB_Options(t *testing.T) {
	store := NewStoreFromDB(nil, nil, WithChunkSize(3), WithChunkSize(0))
	assert.Equal(t, 3, store.chunkSize)
	assert.Empty(t, store.Path())

	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store = NewStoreFromDB(nil, nil, WithClock(func() time.Time { return fixed }))
	assert.Equal(t, DefaultChunkSize, store.chunkSize)
	assert.Equal(t, fixed, store.now())
}

// ==================== Bookmark Tests ====================

func TestBookmark_RoundTrip(t *testing.T) {
	encoded := Bookmark{Seq: 42}.Encode()
	assert.NotContains(t, encoded, "=")

	start, err := parseBookmark(encoded)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), start.seq)
	assert.False(t, start.primaryOnly)
}

func TestParseBookmark_Constraints(t *testing.T) {
	start, err := parseBookmark("")
	require.NoError(t, err)
	assert.Equal(t, sessionStart{}, start)

	start, err = parseBookmark(driven.BookmarkFirstUnconstrained)
	require.NoError(t, err)
	assert.Equal(t, sessionStart{}, start)

	start, err = parseBookmark(driven.BookmarkFirstPrimary)
	require.NoError(t, err)
	assert.True(t, start.primaryOnly)
}

func TestParseBookmark_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		bookmark string
	}{
		{"not base64", "%%%"},
		{"not json", "bm90IGpzb24"},
		{"unsupported version", "eyJ2Ijo5OSwic2VxIjoxfQ"}, // {"v":99,"seq":1}
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBookmark(tt.bookmark)
			assert.ErrorIs(t, err, ErrInvalidBookmark)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

// ==================== Error Classification Tests ====================

func TestClassify(t *testing.T) {
	assert.NoError(t, classify("op", nil))
	assert.ErrorIs(t, classify("op", context.Canceled), context.Canceled)
	assert.ErrorIs(t, classify("op", domain.ErrNotFound), domain.ErrNotFound)

	err := classify("read", errors.New("SQL logic error: no such table: order_items (1)"))
	var schemaErr *domain.SchemaMissingError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, "order_items", schemaErr.Object)

	err = classify("write", errors.New("database is locked (5) (SQLITE_BUSY)"))
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))

	err = classify("write", errors.New("constraint failed: CHECK constraint failed: quantity > 0"))
	assert.Equal(t, domain.KindStorage, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))

	already := &domain.StorageError{Op: "x", Transient: true, Err: errors.New("y")}
	assert.Same(t, already, classify("op", already))
}

func TestClassify_DriverError(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.primary.Exec("INSERT INTO order_items (order_id, position, quantity, unit_price_cents) VALUES ('x', 0, 0, 0)")
	require.Error(t, err)

	classified := classify("insert", err)
	assert.Equal(t, domain.KindStorage, domain.KindOf(classified))
	assert.False(t, domain.IsRetryable(classified))
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "orders", tableName("orders"))
	assert.Equal(t, "orders", tableName("orders (1)"))
	assert.Equal(t, "store_meta", tableName("store_meta\nmore"))
}
