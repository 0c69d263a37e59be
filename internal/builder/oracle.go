package builder

import (
	"sort"

	"github.com/blackwell-systems/crucible/internal/cache"
	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/pkgid"
)

// oracle answers the solver's questions from the package database and
// the local cache combined. Cached packages are usable even when no
// remote lists them (e.g. imported by hand).
type oracle struct {
	db    *pkgdb.DB
	cache *cache.Cache
}

func (o *oracle) VersionsOf(name string) ([]pkgid.ID, error) {
	seen := make(map[string]bool)
	var ids []pkgid.ID

	listings, err := o.db.ByName(name)
	if err != nil {
		return nil, err
	}
	for _, l := range listings {
		if !seen[l.ID.String()] {
			seen[l.ID.String()] = true
			ids = append(ids, l.ID)
		}
	}

	cached, err := o.cache.IterSDists()
	if err != nil {
		return nil, err
	}
	for _, sd := range cached {
		id := sd.ID()
		if id.Name == name && !seen[id.String()] {
			seen[id.String()] = true
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[j].Version.LessThan(ids[i].Version) })
	return ids, nil
}

func (o *oracle) DepsOf(id pkgid.ID) ([]pkgid.Dependency, error) {
	// The cached manifest is authoritative when present.
	sd, err := o.cache.Get(id)
	if err != nil {
		return nil, err
	}
	if sd != nil {
		return sd.Manifest.Depends, nil
	}
	return o.db.DependenciesOf(id)
}
