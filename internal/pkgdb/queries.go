package pkgdb

import (
	"database/sql"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/blackwell-systems/crucible/internal/dym"
	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/pkgid"
)

// Listing is one known package release: its identity, where to obtain
// it, and its dependency constraints.
type Listing struct {
	ID          pkgid.ID
	Description string
	RemoteURL   string
	// RemoteID is the remote the listing was imported from; zero for
	// listings stored directly rather than imported from a remote.
	RemoteID int64
	Deps     []pkgid.Dependency
}

// Store upserts a listing, keyed by (name, version, remote_id), together
// with its dependency constraints.
func (d *DB) Store(l Listing) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin store: %v", errs.ErrDB, err)
	}
	defer tx.Rollback()

	// The unique key (name, version, remote_id) cannot drive an upsert
	// directly: locally imported listings have a NULL remote_id, and
	// SQLite treats NULLs in a unique index as distinct. Probe first.
	remoteID := sql.NullInt64{Int64: l.RemoteID, Valid: l.RemoteID != 0}
	var pkgRow int64
	err = tx.QueryRow(
		"SELECT pkg_id FROM packages WHERE name = ? AND version = ? AND remote_id IS ?",
		l.ID.Name, l.ID.Version.String(), remoteID,
	).Scan(&pkgRow)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO packages (name, version, description, remote_url, remote_id)
			VALUES (?, ?, ?, ?, ?)`,
			l.ID.Name, l.ID.Version.String(), l.Description, l.RemoteURL, remoteID,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to store package %s: %v", errs.ErrDB, l.ID, err)
		}
		pkgRow, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("%w: failed to read stored package id for %s: %v", errs.ErrDB, l.ID, err)
		}
	case err != nil:
		return fmt.Errorf("%w: failed to look up package %s: %v", errs.ErrDB, l.ID, err)
	default:
		_, err := tx.Exec(
			"UPDATE packages SET description = ?, remote_url = ? WHERE pkg_id = ?",
			l.Description, l.RemoteURL, pkgRow,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to update package %s: %v", errs.ErrDB, l.ID, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM deps WHERE pkg_id = ?", pkgRow); err != nil {
		return fmt.Errorf("%w: failed to clear dependencies of %s: %v", errs.ErrDB, l.ID, err)
	}
	for _, dep := range l.Deps {
		high := ""
		if dep.Interval.High != nil {
			high = dep.Interval.High.String()
		}
		_, err := tx.Exec(
			"INSERT INTO deps (pkg_id, dep_name, low, high) VALUES (?, ?, ?, ?)",
			pkgRow, dep.Name, dep.Interval.Low.String(), high,
		)
		if err != nil {
			return fmt.Errorf("%w: failed to store dependency %s of %s: %v", errs.ErrDB, dep.Name, l.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit store of %s: %v", errs.ErrDB, l.ID, err)
	}
	return nil
}

// Get returns the listing for id. A miss is a Nonesuch carrying the
// nearest known package id as a suggestion.
func (d *DB) Get(id pkgid.ID) (*Listing, error) {
	rows, err := d.listings("WHERE p.name = ? AND p.version = ?", id.Name, id.Version.String())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		all, err := d.All()
		if err != nil {
			return nil, err
		}
		known := make([]string, len(all))
		for i, l := range all {
			known[i] = l.ID.String()
		}
		return nil, &errs.Nonesuch{
			What:       "package",
			Given:      id.String(),
			Suggestion: dym.Suggest(id.String(), known),
		}
	}
	return &rows[0], nil
}

// ByName returns every known listing of name, newest version first.
func (d *DB) ByName(name string) ([]Listing, error) {
	rows, err := d.listings("WHERE p.name = ?", name)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[j].ID.Version.LessThan(rows[i].ID.Version)
	})
	return rows, nil
}

// DependenciesOf returns the dependency constraints of id.
func (d *DB) DependenciesOf(id pkgid.ID) ([]pkgid.Dependency, error) {
	l, err := d.Get(id)
	if err != nil {
		return nil, err
	}
	return l.Deps, nil
}

// All returns every known listing, ordered by name then version.
func (d *DB) All() ([]Listing, error) {
	rows, err := d.listings("")
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID.Less(rows[j].ID) })
	return rows, nil
}

// listings runs the shared listing query with an optional WHERE clause.
func (d *DB) listings(where string, args ...any) ([]Listing, error) {
	query := `
		SELECT p.pkg_id, p.name, p.version, p.description, p.remote_url, p.remote_id
		FROM packages p ` + where
	rows, err := d.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query packages: %v", errs.ErrDB, err)
	}
	defer rows.Close()

	var out []Listing
	var rowIDs []int64
	for rows.Next() {
		var (
			rowID    int64
			name     string
			verStr   string
			l        Listing
			remoteID sql.NullInt64
		)
		if err := rows.Scan(&rowID, &name, &verStr, &l.Description, &l.RemoteURL, &remoteID); err != nil {
			return nil, fmt.Errorf("%w: failed to scan package row: %v", errs.ErrDB, err)
		}
		ver, err := semver.StrictNewVersion(verStr)
		if err != nil {
			return nil, fmt.Errorf("%w: package %s has unparseable version %q: %v", errs.ErrDB, name, verStr, err)
		}
		l.ID = pkgid.ID{Name: name, Version: ver}
		l.RemoteID = remoteID.Int64
		out = append(out, l)
		rowIDs = append(rowIDs, rowID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate packages: %v", errs.ErrDB, err)
	}

	for i := range out {
		deps, err := d.depsOfRow(rowIDs[i])
		if err != nil {
			return nil, err
		}
		out[i].Deps = deps
	}
	return out, nil
}

func (d *DB) depsOfRow(pkgRow int64) ([]pkgid.Dependency, error) {
	rows, err := d.db.Query(
		"SELECT dep_name, low, high FROM deps WHERE pkg_id = ? ORDER BY dep_name", pkgRow)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query dependencies: %v", errs.ErrDB, err)
	}
	defer rows.Close()

	var deps []pkgid.Dependency
	for rows.Next() {
		var name, lowStr, highStr string
		if err := rows.Scan(&name, &lowStr, &highStr); err != nil {
			return nil, fmt.Errorf("%w: failed to scan dependency row: %v", errs.ErrDB, err)
		}
		low, err := semver.StrictNewVersion(lowStr)
		if err != nil {
			return nil, fmt.Errorf("%w: dependency %s has unparseable low bound %q: %v", errs.ErrDB, name, lowStr, err)
		}
		iv := pkgid.Interval{Low: low}
		if highStr != "" {
			high, err := semver.StrictNewVersion(highStr)
			if err != nil {
				return nil, fmt.Errorf("%w: dependency %s has unparseable high bound %q: %v", errs.ErrDB, name, highStr, err)
			}
			iv.High = high
		}
		deps = append(deps, pkgid.Dependency{Name: name, Interval: iv})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate dependencies: %v", errs.ErrDB, err)
	}
	return deps, nil
}
