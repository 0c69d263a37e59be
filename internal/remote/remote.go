// Package remote synchronizes the local package database with remote
// package indexes. A remote publishes its index as a downloadable SQLite
// database at <base-url>/repo.db; sync performs a conditional fetch,
// validates the index, and merges its listings in a single transaction.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/pkgdb"
)

// IndexFilename is the index database file published by a remote.
const IndexFilename = "repo.db"

// Syncer drives index synchronization against one package database.
type Syncer struct {
	db     *pkgdb.DB
	client *http.Client
}

// NewSyncer creates a Syncer over db using the default HTTP client.
func NewSyncer(db *pkgdb.DB) *Syncer {
	return &Syncer{db: db, client: http.DefaultClient}
}

// SetClient replaces the HTTP client (used by tests).
func (s *Syncer) SetClient(c *http.Client) {
	s.client = c
}

// Add registers the remote at baseURL: it downloads the index once to
// learn the remote's self-declared name, inserts the remotes row (an
// existing name has its URL updated), and imports the index.
func (s *Syncer) Add(ctx context.Context, baseURL string) (*pkgdb.Remote, error) {
	baseURL = strings.TrimRight(baseURL, "/")

	fetched, err := s.fetch(ctx, baseURL, "", "")
	if err != nil {
		return nil, err
	}
	if fetched.notModified {
		// No validators were sent, so a 304 here is a server bug.
		return nil, fmt.Errorf("%w: remote %s returned Not Modified to an unconditional fetch", errs.ErrIO, baseURL)
	}
	defer os.Remove(fetched.path)

	name, err := indexName(fetched.path)
	if err != nil {
		return nil, err
	}

	rem, err := s.db.AddRemote(name, baseURL)
	if err != nil {
		return nil, err
	}
	if err := s.importIndex(ctx, rem, fetched.path); err != nil {
		return nil, err
	}
	if err := s.db.SetRemoteValidators(rem.ID, fetched.etag, fetched.lastModified); err != nil {
		return nil, err
	}
	return rem, nil
}

// Update refreshes the listings imported from rem. When the remote
// reports the index unchanged (HTTP 304 against the stored validators)
// nothing is touched.
func (s *Syncer) Update(ctx context.Context, rem *pkgdb.Remote) error {
	fetched, err := s.fetch(ctx, rem.URL, rem.ETag, rem.LastModified)
	if err != nil {
		return err
	}
	if fetched.notModified {
		fmt.Fprintf(os.Stderr, "crucible: remote %s is up to date\n", rem.Name)
		return nil
	}
	defer os.Remove(fetched.path)

	if err := s.importIndex(ctx, rem, fetched.path); err != nil {
		return err
	}
	return s.db.SetRemoteValidators(rem.ID, fetched.etag, fetched.lastModified)
}

// UpdateAll refreshes every registered remote, then runs a compacting
// maintenance pass over the database.
func (s *Syncer) UpdateAll(ctx context.Context) error {
	remotes, err := s.db.AllRemotes()
	if err != nil {
		return err
	}
	for i := range remotes {
		if err := s.Update(ctx, &remotes[i]); err != nil {
			return fmt.Errorf("failed to update remote %s: %w", remotes[i].Name, err)
		}
	}
	if _, err := s.db.DB().Exec("VACUUM"); err != nil {
		return fmt.Errorf("%w: failed to compact package database: %v", errs.ErrDB, err)
	}
	return nil
}

// Remove unregisters the named remote and, through the schema's cascade,
// every package imported from it.
func (s *Syncer) Remove(name string) error {
	return s.db.RemoveRemote(name)
}

type fetchResult struct {
	path         string
	etag         string
	lastModified string
	notModified  bool
}

// fetch performs the conditional download of <baseURL>/repo.db into a
// temporary file.
func (s *Syncer) fetch(ctx context.Context, baseURL, etag, lastModified string) (fetchResult, error) {
	url := strings.TrimRight(baseURL, "/") + "/" + IndexFilename
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchResult{}, fmt.Errorf("%w: invalid remote URL %s: %v", errs.ErrUser, url, err)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fetchResult{}, fmt.Errorf("%w: failed to fetch %s: %v", errs.ErrIO, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return fetchResult{notModified: true}, nil
	case resp.StatusCode != http.StatusOK:
		return fetchResult{}, fmt.Errorf("%w: fetching %s returned %s", errs.ErrIO, url, resp.Status)
	}

	tmp, err := os.CreateTemp("", "crucible-repo-*.db")
	if err != nil {
		return fetchResult{}, fmt.Errorf("%w: failed to create temporary index file: %v", errs.ErrIO, err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fetchResult{}, fmt.Errorf("%w: failed to download %s: %v", errs.ErrIO, url, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fetchResult{}, fmt.Errorf("%w: failed to write temporary index file: %v", errs.ErrIO, err)
	}

	return fetchResult{
		path:         tmp.Name(),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}, nil
}

// indexName opens a downloaded index and reads the remote's
// self-declared name from repo_meta.
func indexName(path string) (string, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open downloaded index: %v", errs.ErrDB, err)
	}
	defer db.Close()

	var name string
	if err := db.QueryRow("SELECT name FROM repo_meta").Scan(&name); err != nil {
		return "", fmt.Errorf("%w: downloaded index has no repo_meta.name: %v", errs.ErrDB, err)
	}
	if name == "" {
		return "", fmt.Errorf("%w: downloaded index declares an empty remote name", errs.ErrDB)
	}
	return name, nil
}

// importIndex merges the downloaded index at indexPath into the main
// database. The whole import is one transaction: the remote's old rows
// are dropped, the new listings and their dependencies inserted, and the
// result integrity-checked; any violation rolls everything back.
func (s *Syncer) importIndex(ctx context.Context, rem *pkgdb.Remote, indexPath string) error {
	conn, err := s.db.DB().Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to pin database connection: %v", errs.ErrDB, err)
	}
	defer conn.Close()

	// ATTACH is not allowed inside a transaction, so it brackets one.
	if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS remote_index", indexPath); err != nil {
		return fmt.Errorf("%w: failed to attach downloaded index: %v", errs.ErrDB, err)
	}
	defer conn.ExecContext(context.WithoutCancel(ctx), "DETACH DATABASE remote_index")

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin index import: %v", errs.ErrDB, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM packages WHERE remote_id = ?", rem.ID); err != nil {
		return fmt.Errorf("%w: failed to clear old listings of %s: %v", errs.ErrDB, rem.Name, err)
	}

	// URLs of the form "dds:<name>@<version>" are self-hosted shorthand
	// and expand against the remote's base URL; all others import as-is.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO packages (name, version, description, remote_url, remote_id)
		SELECT name, version, description,
		       CASE WHEN url LIKE 'dds:%'
		            THEN 'dds+' || ? || '/' || substr(url, 5)
		            ELSE url END,
		       ?
		FROM remote_index.repo_packages`,
		rem.URL, rem.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to import listings of %s: %v", errs.ErrDB, rem.Name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO deps (pkg_id, dep_name, low, high)
		SELECT lp.pkg_id, rd.dep_name, rd.low, rd.high
		FROM remote_index.repo_package_deps rd
		JOIN remote_index.repo_packages rp ON rp.package_id = rd.package_id
		JOIN packages lp
		  ON lp.name = rp.name AND lp.version = rp.version AND lp.remote_id = ?`,
		rem.ID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to import dependencies of %s: %v", errs.ErrDB, rem.Name, err)
	}

	if err := checkPragma(ctx, tx, "foreign_key_check"); err != nil {
		return fmt.Errorf("index import from %s failed validation: %w", rem.Name, err)
	}
	if err := checkIntegrity(ctx, tx); err != nil {
		return fmt.Errorf("index import from %s failed validation: %w", rem.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit index import from %s: %v", errs.ErrDB, rem.Name, err)
	}
	return nil
}

// checkPragma fails when the named check pragma returns any row.
func checkPragma(ctx context.Context, tx *sql.Tx, pragma string) error {
	rows, err := tx.QueryContext(ctx, "PRAGMA main."+pragma)
	if err != nil {
		return fmt.Errorf("%w: %s failed: %v", errs.ErrDB, pragma, err)
	}
	defer rows.Close()
	if rows.Next() {
		return fmt.Errorf("%w: %s reported violations", errs.ErrDB, pragma)
	}
	return rows.Err()
}

// checkIntegrity runs PRAGMA integrity_check, which reports "ok" as its
// single row on success.
func checkIntegrity(ctx context.Context, tx *sql.Tx) error {
	var result string
	if err := tx.QueryRowContext(ctx, "PRAGMA main.integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: integrity_check failed: %v", errs.ErrDB, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity_check reported %q", errs.ErrDB, result)
	}
	return nil
}

// WriteIndex writes a remote index database describing listings, in the
// shape Update imports. It backs `crucible repo export` so a directory
// of packages can be served as a remote by any static file server.
func WriteIndex(path, name string, listings []pkgdb.Listing) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: failed to create index directory: %v", errs.ErrIO, err)
	}
	os.Remove(path)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("%w: failed to create index at %s: %v", errs.ErrDB, path, err)
	}
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE repo_meta (name TEXT NOT NULL);
		CREATE TABLE repo_packages (
		    package_id INTEGER PRIMARY KEY AUTOINCREMENT,
		    name TEXT NOT NULL,
		    version TEXT NOT NULL,
		    description TEXT NOT NULL DEFAULT '',
		    url TEXT NOT NULL,
		    UNIQUE (name, version)
		);
		CREATE TABLE repo_package_deps (
		    package_id INTEGER NOT NULL REFERENCES repo_packages(package_id),
		    dep_name TEXT NOT NULL,
		    low TEXT NOT NULL,
		    high TEXT NOT NULL
		);`)
	if err != nil {
		return fmt.Errorf("%w: failed to create index schema: %v", errs.ErrDB, err)
	}
	if _, err := db.Exec("INSERT INTO repo_meta (name) VALUES (?)", name); err != nil {
		return fmt.Errorf("%w: failed to write index meta: %v", errs.ErrDB, err)
	}

	for _, l := range listings {
		url := l.RemoteURL
		if url == "" {
			url = "dds:" + l.ID.String()
		}
		res, err := db.Exec(
			"INSERT INTO repo_packages (name, version, description, url) VALUES (?, ?, ?, ?)",
			l.ID.Name, l.ID.Version.String(), l.Description, url,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to write index listing %s: %v", errs.ErrDB, l.ID, err)
		}
		rowID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: failed to read index row id: %v", errs.ErrDB, err)
		}
		for _, dep := range l.Deps {
			high := ""
			if dep.Interval.High != nil {
				high = dep.Interval.High.String()
			}
			_, err := db.Exec(
				"INSERT INTO repo_package_deps (package_id, dep_name, low, high) VALUES (?, ?, ?, ?)",
				rowID, dep.Name, dep.Interval.Low.String(), high,
			)
			if err != nil {
				return fmt.Errorf("%w: failed to write index dependency %s: %v", errs.ErrDB, dep.Name, err)
			}
		}
	}
	return nil
}
