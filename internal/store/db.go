// Package store persists endpoint definitions and users in SQLite.
//
// The pure-Go modernc.org/sqlite driver is used so the server builds
// without CGO. The database runs in WAL mode so concurrent dispatches can
// read while the admin CLI writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a write would violate a uniqueness rule.
	ErrDuplicate = errors.New("already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	username   TEXT    NOT NULL UNIQUE,
	password   TEXT    NOT NULL,
	role       TEXT    NOT NULL DEFAULT 'user',
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS api_endpoints (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT    NOT NULL,
	route       TEXT    NOT NULL,
	method      TEXT    NOT NULL,
	command     TEXT    NOT NULL,
	parameters  TEXT,
	description TEXT,
	display     INTEGER,
	UNIQUE(route, method)
);
`

// DB wraps the SQLite handle shared by the endpoint and user stores.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{db: db, path: path}, nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the file the database was opened from.
func (d *DB) Path() string {
	return d.path
}

// Endpoints returns the endpoint store backed by d.
func (d *DB) Endpoints() *EndpointStore {
	return &EndpointStore{db: d.db}
}

// Users returns the user store backed by d.
func (d *DB) Users() *UserStore {
	return &UserStore{db: d.db}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
