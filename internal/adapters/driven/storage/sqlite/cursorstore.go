package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
	"github.com/custodia-labs/ordersync/internal/core/ports/driven"
)

// CursorDatabaseFile is the cursor database file name. Cursors live in
// their own file so a cursor write never joins an order transaction.
const CursorDatabaseFile = "cursors.db"

const cursorSchema = `
	CREATE TABLE IF NOT EXISTS sync_cursors (
		stream     TEXT PRIMARY KEY,
		position   TEXT,
		run_offset INTEGER NOT NULL DEFAULT 0,
		mode       TEXT NOT NULL,
		last_sync  TEXT,
		updated_at TEXT NOT NULL
	)`

// CursorStore implements driven.CursorStore in a dedicated SQLite file.
type CursorStore struct {
	db   *sql.DB
	path string
}

var _ driven.CursorStore = (*CursorStore)(nil)

// NewCursorStore opens (creating if needed) the cursor database in dataDir.
func NewCursorStore(dataDir string) (*CursorStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dataDir, CursorDatabaseFile)
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening cursor database: %w", err)
	}

	s := &CursorStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewCursorStoreFromDB wraps an existing connection pool, creating the
// cursor table if needed.
func NewCursorStoreFromDB(db *sql.DB) (*CursorStore, error) {
	s := &CursorStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CursorStore) initSchema() error {
	if _, err := s.db.Exec(cursorSchema); err != nil {
		return classify("create cursor table", err)
	}
	return nil
}

// Close closes the database.
func (s *CursorStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *CursorStore) Path() string {
	return s.path
}

// Set stores or updates a stream's cursor. The stored position only moves
// forward: an older position is ignored while the other fields update.
func (s *CursorStore) Set(ctx context.Context, cursor domain.SyncCursor) error {
	if cursor.Stream == "" {
		return domain.ErrInvalidInput
	}

	updatedAt := cursor.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (stream, position, run_offset, mode, last_sync, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream) DO UPDATE SET
			position = CASE
				WHEN sync_cursors.position IS NULL THEN excluded.position
				WHEN excluded.position IS NULL THEN sync_cursors.position
				ELSE MAX(sync_cursors.position, excluded.position)
			END,
			run_offset = excluded.run_offset,
			mode = excluded.mode,
			last_sync = COALESCE(excluded.last_sync, sync_cursors.last_sync),
			updated_at = excluded.updated_at
	`, cursor.Stream, formatTime(cursor.Position), cursor.Offset, string(cursor.Mode),
		formatTime(cursor.LastSync), formatTime(updatedAt))
	if err != nil {
		return classify("save cursor", err)
	}
	return nil
}

// Get retrieves the cursor for a stream.
func (s *CursorStore) Get(ctx context.Context, stream string) (*domain.SyncCursor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT stream, position, run_offset, mode, last_sync, updated_at
		FROM sync_cursors WHERE stream = ?
	`, stream)

	var c domain.SyncCursor
	var position, lastSync, updatedAt sql.NullString
	var mode string
	if err := row.Scan(&c.Stream, &position, &c.Offset, &mode, &lastSync, &updatedAt); err != nil {
		return nil, classify("get cursor", err)
	}
	c.Position = parseTime(position)
	c.Mode = domain.SyncMode(mode)
	c.LastSync = parseTime(lastSync)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// Delete removes the cursor for a stream.
func (s *CursorStore) Delete(ctx context.Context, stream string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sync_cursors WHERE stream = ?", stream); err != nil {
		return classify("delete cursor", err)
	}
	return nil
}
