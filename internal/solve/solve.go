// Package solve resolves a root requirement set into a concrete package
// selection: at most one version per name, satisfying every root and
// transitive dependency interval.
package solve

import (
	"fmt"
	"strings"

	"github.com/blackwell-systems/crucible/internal/pkgid"
)

// Oracle answers the two questions the solver asks of the package
// universe. Implementations typically combine the package database and
// the local cache.
type Oracle interface {
	// VersionsOf returns every known release of name, newest first.
	VersionsOf(name string) ([]pkgid.ID, error)
	// DepsOf returns the dependency constraints of a release.
	DepsOf(id pkgid.ID) ([]pkgid.Dependency, error)
}

// Requirement is one interval demanded of a name, with the package (or
// "root") that demanded it, kept for failure reporting.
type Requirement struct {
	Interval   pkgid.Interval
	RequiredBy string
}

// Failure is an unsatisfiable-constraint error: no version of Name can
// satisfy all the collected requirements at once.
type Failure struct {
	Name         string
	Requirements []Requirement
}

func (f *Failure) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no version of %q satisfies all requirements:", f.Name)
	for _, r := range f.Requirements {
		fmt.Fprintf(&sb, "\n  %s requires %s", r.RequiredBy, r.Interval)
	}
	return sb.String()
}

// Solve picks one version per required name. Names are considered in the
// order they become required (breadth-first from the roots), and within
// a name candidates are tried newest first. Backtracking over earlier
// choices is allowed; the finite version set per name bounds the search.
func Solve(roots []pkgid.Dependency, oracle Oracle) ([]pkgid.ID, error) {
	s := &solver{
		oracle:      oracle,
		constraints: make(map[string][]Requirement),
		chosen:      make(map[string]pkgid.ID),
	}
	for _, dep := range roots {
		s.require("root", dep)
	}
	if err := s.step(0); err != nil {
		return nil, err
	}

	out := make([]pkgid.ID, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.chosen[name])
	}
	return out, nil
}

type solver struct {
	oracle      Oracle
	order       []string // names in the order they became required
	constraints map[string][]Requirement
	chosen      map[string]pkgid.ID
}

// require records a requirement, queueing the name on first sight.
func (s *solver) require(by string, dep pkgid.Dependency) {
	if _, known := s.constraints[dep.Name]; !known {
		s.order = append(s.order, dep.Name)
	}
	s.constraints[dep.Name] = append(s.constraints[dep.Name], Requirement{
		Interval:   dep.Interval,
		RequiredBy: by,
	})
}

// step assigns a version to order[idx] and recurses. New names required
// by the assignment extend the order past idx.
func (s *solver) step(idx int) error {
	if idx == len(s.order) {
		return nil
	}
	name := s.order[idx]
	reqs := s.constraints[name]

	// All intervals on a name combine by intersection; an empty
	// intersection can never be satisfied by any candidate.
	merged := reqs[0].Interval
	for _, r := range reqs[1:] {
		merged = merged.Intersect(r.Interval)
	}
	if merged.Empty() {
		return &Failure{Name: name, Requirements: reqs}
	}

	candidates, err := s.oracle.VersionsOf(name)
	if err != nil {
		return err
	}

	var lastFailure error
	for _, cand := range candidates {
		if !merged.Contains(cand.Version) {
			continue
		}
		err := s.tryCandidate(idx, name, cand)
		if err == nil {
			return nil
		}
		lastFailure = err
	}
	if lastFailure != nil {
		return lastFailure
	}
	return &Failure{Name: name, Requirements: reqs}
}

// tryCandidate tentatively selects cand for name, pushes its dependency
// constraints, and recurses; on any failure the state is rolled back so
// the caller can try the next candidate.
func (s *solver) tryCandidate(idx int, name string, cand pkgid.ID) error {
	deps, err := s.oracle.DepsOf(cand)
	if err != nil {
		return err
	}

	// A dependency of the candidate may contradict an already-selected
	// package; that rules the candidate out before recursing.
	for _, dep := range deps {
		if picked, ok := s.chosen[dep.Name]; ok && !dep.Interval.Contains(picked.Version) {
			return &Failure{
				Name: dep.Name,
				Requirements: append(s.constraints[dep.Name], Requirement{
					Interval:   dep.Interval,
					RequiredBy: cand.String(),
				}),
			}
		}
	}

	orderLen := len(s.order)
	conLens := make(map[string]int, len(deps))
	for _, dep := range deps {
		if _, ok := conLens[dep.Name]; !ok {
			conLens[dep.Name] = len(s.constraints[dep.Name])
		}
	}
	s.chosen[name] = cand
	for _, dep := range deps {
		s.require(cand.String(), dep)
	}

	if err := s.step(idx + 1); err != nil {
		// Roll back this candidate's effects.
		delete(s.chosen, name)
		for _, added := range s.order[orderLen:] {
			delete(s.constraints, added)
		}
		s.order = s.order[:orderLen]
		for depName, n := range conLens {
			if _, still := s.constraints[depName]; still {
				s.constraints[depName] = s.constraints[depName][:n]
			}
		}
		return err
	}
	return nil
}
