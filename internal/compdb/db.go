// Package compdb is the persistent compilation database. It records, per
// source file, the last successful compile command, its captured output,
// a running average duration, and the set of inputs (headers) the compile
// depended on. The execution engine consults it to decide which objects
// may be reused.
package compdb

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/blackwell-systems/crucible/internal/errs"
)

// Filename is the database file name under the build output root.
const Filename = ".crucible.db"

// schemaVersion is bumped on any schema change. Migrations are not
// attempted: the compilation database is a rebuildable cache, so a
// version mismatch drops and recreates it.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS files (
    file_id INTEGER PRIMARY KEY AUTOINCREMENT,
    path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS compilations (
    file_id INTEGER PRIMARY KEY REFERENCES files(file_id),
    command TEXT NOT NULL,
    output TEXT NOT NULL,
    n_samples INTEGER NOT NULL,
    avg_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inputs (
    out_file_id INTEGER NOT NULL REFERENCES files(file_id),
    input_file_id INTEGER NOT NULL REFERENCES files(file_id),
    input_mtime INTEGER NOT NULL,
    PRIMARY KEY (out_file_id, input_file_id)
);

CREATE INDEX IF NOT EXISTS idx_inputs_out ON inputs(out_file_id);
`

// DB is an open compilation database. Writes are serialized through an
// internal mutex so workers can record results concurrently.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (or creates) the compilation database at path. Use
// ":memory:" for tests. A schema-version mismatch or a corrupt file is
// not an error: the database is dropped and recreated once; only a
// second consecutive failure is fatal.
func Open(path string) (*DB, error) {
	d, err := open(path)
	if err == nil {
		return d, nil
	}

	// Reset-and-retry: the compile cache is rebuildable, so prefer a
	// fresh database over failing the build.
	fmt.Fprintf(os.Stderr, "crucible: compilation database at %s is unusable (%v); recreating\n", path, err)
	if path != ":memory:" {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("%w: failed to remove corrupt compilation database %s: %v", errs.ErrDB, path, rmErr)
		}
	}
	d, err = open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to recreate compilation database %s: %v", errs.ErrDB, path, err)
	}
	return d, nil
}

func open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only allows one writer at a time
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	switch version {
	case 0:
		// Fresh database.
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set schema version: %w", err)
		}
	case schemaVersion:
		// Sanity probe: a truncated or corrupt file often opens fine but
		// fails on first use.
		if _, err := db.Exec("SELECT count(*) FROM files"); err != nil {
			db.Close()
			return nil, fmt.Errorf("schema probe failed: %w", err)
		}
	default:
		db.Close()
		return nil, fmt.Errorf("schema version %d does not match %d", version, schemaVersion)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}
