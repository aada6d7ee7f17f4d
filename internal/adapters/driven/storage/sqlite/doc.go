// Package sqlite provides the SQLite implementations of the order store,
// the cursor store and the scheduler store.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO.
//
// # Sessions and bookmarks
//
// Every access to the order database goes through a session opened with
// [Store.BeginSession]. Writes run on the primary pool and increment a commit
// sequence held in the store_meta table. Reads run on a read-only pool
// unless the session has observed a commit the pool has not, in which case
// they go to the primary. A session's Bookmark returns the sequence as an
// opaque token which the next request passes back to BeginSession.
//
// # Schema
//
// The schema is managed through versioned migrations in the migrations/
// directory. A statement that fails because a table is missing triggers one
// re-application of every migration and one re-run of the statement.
//
// # Data Location
//
// By default, the database is stored at ~/.ordersync/data/orders.db, with
// sync cursors in cursors.db next to it.
package sqlite
