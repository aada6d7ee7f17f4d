package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/ordersync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
	"github.com/custodia-labs/ordersync/internal/logger"
)

const (
	// DatabaseFile is the order database file name inside the data directory.
	DatabaseFile = "orders.db"

	// DefaultChunkSize is the number of orders written per transaction.
	DefaultChunkSize = 10

	// timeFormat is fixed-width so stored timestamps sort lexically.
	timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

	// primaryParams applies to every connection in the write pool.
	primaryParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

	// replicaParams opens the read pool; query_only rejects writes.
	replicaParams = "?_pragma=busy_timeout(5000)&_pragma=query_only(1)"
)

// Store is the SQLite order store. Writes go to the primary pool; reads
// are routed between the primary and a read-only replica pool according
// to each session's bookmark.
type Store struct {
	primary *sql.DB
	replica *sql.DB
	path    string

	chunkSize int
	now       func() time.Time

	// schemaMu serialises schema initialisation.
	schemaMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the number of orders per write transaction.
func WithChunkSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock sets the clock used for last_synced_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Ensure Store implements the interface.
var _ driven.OrderStore = (*Store)(nil)

// NewStore opens (creating if needed) the order database in dataDir.
// If dataDir is empty, defaults to ~/.ordersync/data.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".ordersync", "data")
	}

	// Ensure directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)

	primary, err := sql.Open("sqlite", dbPath+primaryParams)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := newStore(primary, nil, dbPath, opts)
	if err := s.migrate(migrations.FS, false); err != nil {
		primary.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// The replica pool is opened after migrations so the WAL exists.
	replica, err := sql.Open("sqlite", dbPath+replicaParams)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("opening read pool: %w", err)
	}
	s.replica = replica

	return s, nil
}

// NewStoreFromDB wraps existing connection pools. replica may be nil, in
// which case every read goes to primary. No migrations are run.
func NewStoreFromDB(primary, replica *sql.DB, opts ...Option) *Store {
	return newStore(primary, replica, "", opts)
}

func newStore(primary, replica *sql.DB, path string, opts []Option) *Store {
	s := &Store{
		primary:   primary,
		replica:   replica,
		path:      path,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes both connection pools.
func (s *Store) Close() error {
	var replicaErr error
	if s.replica != nil {
		replicaErr = s.replica.Close()
	}
	if err := s.primary.Close(); err != nil {
		return err
	}
	return replicaErr
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Ping checks that the primary database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return classify("ping", s.primary.PingContext(ctx))
}

// SchedulerStore returns a SchedulerStore interface backed by this store.
func (s *Store) SchedulerStore() driven.SchedulerStore {
	return &schedulerStore{store: s}
}

// BeginSession opens a session constrained by bookmark.
func (s *Store) BeginSession(_ context.Context, bookmark string) (driven.Session, error) {
	start, err := parseBookmark(bookmark)
	if err != nil {
		return nil, err
	}
	return &session{store: s, seq: start.seq, primaryOnly: start.primaryOnly}, nil
}

// initSchema re-applies every migration. Migrations are idempotent, so
// this restores tables that were dropped after the version was recorded.
func (s *Store) initSchema() error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	logger.Warn("sqlite: schema object missing, initialising schema")
	if err := s.migrate(migrations.FS, true); err != nil {
		return classify("init schema", err)
	}
	return nil
}

// migrate runs pending migrations, or all of them when force is set.
func (s *Store) migrate(fsys fs.FS, force bool) error {
	// Ensure schema_migrations table exists
	_, err := s.primary.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	// Get current version
	var currentVersion int
	row := s.primary.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}
	if force {
		currentVersion = 0
	}

	// Find all up migrations
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// Extract version number (e.g., "001_orders.up.sql" -> 1)
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue // Skip files that don't match pattern
		}

		if version <= currentVersion {
			continue // Already applied
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.primary.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.primary.Exec(
			"INSERT OR IGNORE INTO schema_migrations (version) VALUES (?)", version,
		); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// formatTime formats t for storage, or nil for the zero time.
func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

// parseTime parses a stored timestamp. Returns zero time if empty or invalid.
func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
