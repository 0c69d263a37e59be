package pkgdb

import (
	"database/sql"
	"fmt"

	"github.com/blackwell-systems/crucible/internal/dym"
	"github.com/blackwell-systems/crucible/internal/errs"
)

// Remote is a named, URL-addressable package index registered in the
// database. ETag and LastModified cache the HTTP validators from the
// last successful index download.
type Remote struct {
	ID           int64
	Name         string
	URL          string
	ETag         string
	LastModified string
}

// AddRemote registers a remote. The name is unique; re-adding an
// existing name updates its URL and clears the cached validators.
func (d *DB) AddRemote(name, url string) (*Remote, error) {
	_, err := d.db.Exec(`
		INSERT INTO remotes (name, url) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET url = excluded.url, db_etag = NULL, db_mtime = NULL`,
		name, url,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to add remote %s: %v", errs.ErrDB, name, err)
	}
	return d.GetRemote(name)
}

// GetRemote returns the remote named name, or a Nonesuch with a
// did-you-mean suggestion.
func (d *DB) GetRemote(name string) (*Remote, error) {
	var (
		r     Remote
		etag  sql.NullString
		mtime sql.NullString
	)
	err := d.db.QueryRow(
		"SELECT remote_id, name, url, db_etag, db_mtime FROM remotes WHERE name = ?", name,
	).Scan(&r.ID, &r.Name, &r.URL, &etag, &mtime)
	if err == sql.ErrNoRows {
		names, nameErr := d.remoteNames()
		if nameErr != nil {
			return nil, nameErr
		}
		return nil, &errs.Nonesuch{
			What:       "remote",
			Given:      name,
			Suggestion: dym.Suggest(name, names),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query remote %s: %v", errs.ErrDB, name, err)
	}
	r.ETag = etag.String
	r.LastModified = mtime.String
	return &r, nil
}

// AllRemotes returns every registered remote, ordered by name.
func (d *DB) AllRemotes() ([]Remote, error) {
	rows, err := d.db.Query(
		"SELECT remote_id, name, url, db_etag, db_mtime FROM remotes ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query remotes: %v", errs.ErrDB, err)
	}
	defer rows.Close()

	var out []Remote
	for rows.Next() {
		var (
			r     Remote
			etag  sql.NullString
			mtime sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.URL, &etag, &mtime); err != nil {
			return nil, fmt.Errorf("%w: failed to scan remote row: %v", errs.ErrDB, err)
		}
		r.ETag = etag.String
		r.LastModified = mtime.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate remotes: %v", errs.ErrDB, err)
	}
	return out, nil
}

// RemoveRemote deletes a remote; every package imported from it goes
// with it (ON DELETE CASCADE).
func (d *DB) RemoveRemote(name string) error {
	res, err := d.db.Exec("DELETE FROM remotes WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("%w: failed to remove remote %s: %v", errs.ErrDB, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to count removed remotes: %v", errs.ErrDB, err)
	}
	if n == 0 {
		names, nameErr := d.remoteNames()
		if nameErr != nil {
			return nameErr
		}
		return &errs.Nonesuch{
			What:       "remote",
			Given:      name,
			Suggestion: dym.Suggest(name, names),
		}
	}
	return nil
}

// SetRemoteValidators persists the HTTP validators returned by the last
// successful index download, for the next conditional fetch.
func (d *DB) SetRemoteValidators(remoteID int64, etag, lastModified string) error {
	_, err := d.db.Exec(
		"UPDATE remotes SET db_etag = ?, db_mtime = ? WHERE remote_id = ?",
		nullable(etag), nullable(lastModified), remoteID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to store validators for remote %d: %v", errs.ErrDB, remoteID, err)
	}
	return nil
}

func (d *DB) remoteNames() ([]string, error) {
	remotes, err := d.AllRemotes()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(remotes))
	for i, r := range remotes {
		names[i] = r.Name
	}
	return names, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
