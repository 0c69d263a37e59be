// Package plan turns source distributions into a build plan of compile,
// archive, link and test nodes, and executes the plan with bounded
// parallelism and incremental-recompilation skip decisions.
package plan

import (
	"sort"

	"github.com/blackwell-systems/crucible/internal/dym"
	"github.com/blackwell-systems/crucible/internal/errs"
)

// UsageReq is the public interface a dependent library consumes, keyed
// by "namespace/name". Uses is transitively expanded when the map is
// frozen; Links holds the declared links, and TopoLinks computes their
// transitive closure.
type UsageReq struct {
	IncludeDirs []string
	// Linkable is the archive (or single object) a consumer links, when
	// the library has one.
	Linkable string
	Uses     []string
	Links    []string
}

// UsageMap is the frozen usage-requirements map. It is built up-front by
// the builder and read-only during execution; libraries never reference
// each other directly, only through these keys.
type UsageMap map[string]UsageReq

// Get resolves a usage key. Unknown keys are fatal for a build, so the
// error carries a did-you-mean hint over the known keys.
func (m UsageMap) Get(key string) (UsageReq, error) {
	if req, ok := m[key]; ok {
		return req, nil
	}
	known := make([]string, 0, len(m))
	for k := range m {
		known = append(known, k)
	}
	sort.Strings(known)
	return UsageReq{}, &errs.Nonesuch{
		What:       "library",
		Given:      key,
		Suggestion: dym.Suggest(key, known),
	}
}

// TransitiveUses expands keys to include every use reachable through
// them, in first-seen order. Cycles terminate because each key is
// visited once.
func (m UsageMap) TransitiveUses(keys []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	var walk func(keys []string) error
	walk = func(keys []string) error {
		for _, key := range keys {
			if seen[key] {
				continue
			}
			seen[key] = true
			req, err := m.Get(key)
			if err != nil {
				return err
			}
			out = append(out, key)
			if err := walk(req.Uses); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(keys); err != nil {
		return nil, err
	}
	return out, nil
}

// TopoLinks orders the transitive link closure of keys so that every
// dependent precedes what it links against, the order a traditional
// linker wants archives in.
func (m UsageMap) TopoLinks(keys []string) ([]string, error) {
	var order []string
	seen := make(map[string]bool)
	var walk func(key string) error
	walk = func(key string) error {
		if seen[key] {
			return nil
		}
		seen[key] = true
		req, err := m.Get(key)
		if err != nil {
			return err
		}
		for _, next := range append(append([]string{}, req.Uses...), req.Links...) {
			if err := walk(next); err != nil {
				return err
			}
		}
		// Post-order: dependencies land before dependents, reversed below.
		order = append(order, key)
		return nil
	}
	for _, key := range keys {
		if err := walk(key); err != nil {
			return nil, err
		}
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order, nil
}
