// Package store provides the durable on-device store for care records.
// It holds two entity families (mutable child profiles, append-only care
// events) plus the sync watermark table, backed by SQLite.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SyncStatus tracks where a record sits in its sync lifecycle.
type SyncStatus string

const (
	// StatusLocal marks a record that is never sent to the remote service.
	StatusLocal SyncStatus = "local"
	// StatusPending marks a record awaiting upload.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks a record acknowledged by the remote service.
	StatusSynced SyncStatus = "synced"
	// StatusError marks a record whose last upload attempt failed.
	// Errored records stay eligible for the next push scan.
	StatusError SyncStatus = "error"
)

// DB is the SQLite-backed local store.
type DB struct {
	path string
	conn *sql.DB

	subMu   sync.Mutex
	subs    map[int]func(table string)
	nextSub int
}

// createChildrenTableSQL defines the schema for child profiles.
const createChildrenTableSQL = `
CREATE TABLE IF NOT EXISTS children (
    id TEXT PRIMARY KEY NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'local',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT,
    name TEXT NOT NULL,
    birthdate TEXT NOT NULL,
    sex TEXT,
    avatar_url TEXT,
    created_by TEXT
);
`

// createEventsTableSQL defines the schema for care events. Events are
// append-only; the child foreign key is enforced by SQLite.
const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY NOT NULL,
    sync_status TEXT NOT NULL DEFAULT 'local',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    deleted_at TEXT,
    child_id TEXT NOT NULL REFERENCES children(id),
    type TEXT NOT NULL,
    payload TEXT NOT NULL,
    visibility TEXT NOT NULL DEFAULT 'all',
    organization_id TEXT,
    created_by TEXT
);
`

// createSyncMetaTableSQL defines the watermark table: one row per sync
// source, holding the timestamp of the most recent successful pull.
const createSyncMetaTableSQL = `
CREATE TABLE IF NOT EXISTS sync_meta (
    key TEXT PRIMARY KEY NOT NULL,
    value TEXT NOT NULL
);
`

// Open creates or opens a SQLite database at the given path and initializes
// the schema.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer, so we limit to one connection
	// to prevent "database is locked" errors when sync-cycle writes
	// interleave with UI reads.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	for _, stmt := range []string{createChildrenTableSQL, createEventsTableSQL, createSyncMetaTableSQL} {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &DB{
		path: path,
		conn: conn,
		subs: make(map[int]func(string)),
	}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Subscribe registers a listener invoked with the affected table name after
// every committed write. This is what gives UI read paths live-query
// semantics: any mutation is visible to subscribed readers without polling.
// The returned function removes the listener.
func (db *DB) Subscribe(fn func(table string)) func() {
	db.subMu.Lock()
	defer db.subMu.Unlock()

	id := db.nextSub
	db.nextSub++
	db.subs[id] = fn

	return func() {
		db.subMu.Lock()
		defer db.subMu.Unlock()
		delete(db.subs, id)
	}
}

// notify fans a table change out to subscribers. Listeners are called
// outside the subscriber lock so they may re-enter the store.
func (db *DB) notify(table string) {
	db.subMu.Lock()
	fns := make([]func(string), 0, len(db.subs))
	for _, fn := range db.subs {
		fns = append(fns, fn)
	}
	db.subMu.Unlock()

	for _, fn := range fns {
		fn(table)
	}
}

// scanner is an interface that both *sql.Row and *sql.Rows implement.
type scanner interface {
	Scan(dest ...interface{}) error
}

// nullable converts an optional string field to its SQL representation.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
