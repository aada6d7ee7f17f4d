package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// ErrInvalidBookmark indicates a bookmark that was not issued by this store.
var ErrInvalidBookmark = fmt.Errorf("invalid bookmark: %w", domain.ErrInvalidInput)

const noSuchTable = "no such table: "

// classify converts a driver error into a domain error kind. It is applied
// once, where the error leaves this package.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
		return err
	}
	if domain.KindOf(err) != domain.KindUnknown {
		return err
	}

	msg := err.Error()
	if i := strings.Index(msg, noSuchTable); i >= 0 {
		return &domain.SchemaMissingError{Object: tableName(msg[i+len(noSuchTable):]), Err: err}
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return &domain.StorageError{Op: op, Transient: true, Err: err}
		default:
			return &domain.StorageError{Op: op, Err: err}
		}
	}

	// Drivers other than modernc (and test doubles) only expose the message.
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "database is locked") || strings.Contains(lower, "database is busy") {
		return &domain.StorageError{Op: op, Transient: true, Err: err}
	}
	return &domain.StorageError{Op: op, Err: err}
}

// isSchemaMissing reports whether err means a table is absent.
func isSchemaMissing(err error) bool {
	var schemaErr *domain.SchemaMissingError
	return errors.As(err, &schemaErr)
}

// tableName extracts the identifier at the start of s.
func tableName(s string) string {
	end := strings.IndexAny(s, " ()\n")
	if end < 0 {
		return s
	}
	return s[:end]
}
