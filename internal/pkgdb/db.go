// Package pkgdb is the persistent package database: the local index of
// known package listings, their dependency constraints, and the remotes
// they were imported from.
package pkgdb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/blackwell-systems/crucible/internal/errs"
)

// currentVersion is the newest schema this build understands. Unlike the
// compilation database, package data is imported from remotes and must
// not be silently dropped: a database written by a newer crucible is
// refused, never downgraded.
const currentVersion = 3

// DB is an open package database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the package database at path and applies any
// pending schema migrations. Use ":memory:" for tests.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open package database %s: %v", errs.ErrDB, path, err)
	}

	db.SetMaxOpenConns(1) // SQLite only allows one writer at a time
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to enable foreign keys: %v", errs.ErrDB, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to enable WAL mode: %v", errs.ErrDB, err)
	}

	d := &DB{db: db, path: path}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// DB returns the underlying connection. The remote-sync engine uses it
// to run its single-transaction import.
func (d *DB) DB() *sql.DB {
	return d.db
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// migrations are forward-only; migrations[i] moves the schema from
// version i to version i+1.
var migrations = []string{
	// v1: packages and their dependency constraints.
	`
	CREATE TABLE packages (
	    pkg_id INTEGER PRIMARY KEY AUTOINCREMENT,
	    name TEXT NOT NULL,
	    version TEXT NOT NULL,
	    description TEXT NOT NULL DEFAULT '',
	    remote_url TEXT NOT NULL,
	    UNIQUE (name, version)
	);
	CREATE TABLE deps (
	    dep_id INTEGER PRIMARY KEY AUTOINCREMENT,
	    pkg_id INTEGER NOT NULL REFERENCES packages(pkg_id) ON DELETE CASCADE,
	    dep_name TEXT NOT NULL,
	    low TEXT NOT NULL,
	    high TEXT NOT NULL,
	    UNIQUE (pkg_id, dep_name)
	);
	`,
	// v2: named remotes with cached HTTP validators.
	`
	CREATE TABLE remotes (
	    remote_id INTEGER PRIMARY KEY AUTOINCREMENT,
	    name TEXT NOT NULL UNIQUE,
	    url TEXT NOT NULL,
	    db_etag TEXT,
	    db_mtime TEXT
	);
	`,
	// v3: packages learn which remote they came from; the same release
	// may now be listed by several remotes.
	`
	CREATE TABLE packages_new (
	    pkg_id INTEGER PRIMARY KEY AUTOINCREMENT,
	    name TEXT NOT NULL,
	    version TEXT NOT NULL,
	    description TEXT NOT NULL DEFAULT '',
	    remote_url TEXT NOT NULL,
	    remote_id INTEGER REFERENCES remotes(remote_id) ON DELETE CASCADE,
	    UNIQUE (name, version, remote_id)
	);
	INSERT INTO packages_new (pkg_id, name, version, description, remote_url)
	    SELECT pkg_id, name, version, description, remote_url FROM packages;
	DROP TABLE packages;
	ALTER TABLE packages_new RENAME TO packages;
	CREATE INDEX idx_packages_name ON packages(name);
	`,
}

func (d *DB) migrate() error {
	if _, err := d.db.Exec(`CREATE TABLE IF NOT EXISTS meta (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("%w: failed to create meta table: %v", errs.ErrDB, err)
	}

	var version int
	err := d.db.QueryRow("SELECT version FROM meta").Scan(&version)
	if err == sql.ErrNoRows {
		version = 0
		if _, err := d.db.Exec("INSERT INTO meta (version) VALUES (0)"); err != nil {
			return fmt.Errorf("%w: failed to initialize schema version: %v", errs.ErrDB, err)
		}
	} else if err != nil {
		return fmt.Errorf("%w: failed to read schema version: %v", errs.ErrDB, err)
	}

	if version > currentVersion {
		return fmt.Errorf("%w: package database %s has schema version %d, but this build only understands up to %d (upgrade crucible)",
			errs.ErrDB, d.path, version, currentVersion)
	}

	if version == currentVersion {
		return nil
	}

	// Table rebuilds (v3) must not trigger cascading deletes, so foreign
	// keys are off for the duration of the migration run and the result
	// is checked afterwards.
	if _, err := d.db.Exec("PRAGMA foreign_keys = OFF"); err != nil {
		return fmt.Errorf("%w: failed to disable foreign keys for migration: %v", errs.ErrDB, err)
	}
	for v := version; v < currentVersion; v++ {
		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("%w: failed to begin migration %d: %v", errs.ErrDB, v+1, err)
		}
		if _, err := tx.Exec(migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: migration to schema version %d failed: %v", errs.ErrDB, v+1, err)
		}
		if _, err := tx.Exec("UPDATE meta SET version = ?", v+1); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: failed to bump schema version to %d: %v", errs.ErrDB, v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: failed to commit migration %d: %v", errs.ErrDB, v+1, err)
		}
	}
	if _, err := d.db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("%w: failed to re-enable foreign keys: %v", errs.ErrDB, err)
	}
	if rows, err := d.db.Query("PRAGMA foreign_key_check"); err != nil {
		return fmt.Errorf("%w: foreign key check failed: %v", errs.ErrDB, err)
	} else {
		violated := rows.Next()
		rows.Close()
		if violated {
			return fmt.Errorf("%w: package database %s has dangling references after migration", errs.ErrDB, d.path)
		}
	}
	return nil
}
