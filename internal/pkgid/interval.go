package pkgid

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/blackwell-systems/crucible/internal/errs"
)

// Interval is a half-open version range [Low, High). High may be nil,
// meaning the range is unbounded above.
type Interval struct {
	Low  *semver.Version
	High *semver.Version
}

// Contains reports whether v falls inside the interval.
func (iv Interval) Contains(v *semver.Version) bool {
	if v.LessThan(iv.Low) {
		return false
	}
	if iv.High == nil {
		return true
	}
	return v.LessThan(iv.High)
}

// Empty reports whether the interval contains no versions.
func (iv Interval) Empty() bool {
	return iv.High != nil && !iv.Low.LessThan(iv.High)
}

// Intersect returns the overlap of two intervals. The result may be
// empty; callers should check Empty before relying on it.
func (iv Interval) Intersect(other Interval) Interval {
	low := iv.Low
	if other.Low.GreaterThan(low) {
		low = other.Low
	}
	high := iv.High
	if high == nil {
		high = other.High
	} else if other.High != nil && other.High.LessThan(high) {
		high = other.High
	}
	return Interval{Low: low, High: high}
}

// String renders the interval in the explicit "[low, high)" form.
func (iv Interval) String() string {
	if iv.High == nil {
		return fmt.Sprintf("[%s, +inf)", iv.Low)
	}
	return fmt.Sprintf("[%s, %s)", iv.Low, iv.High)
}

// Dependency is a requirement on a named package: any version inside
// Interval satisfies it.
type Dependency struct {
	Name     string
	Interval Interval
}

// String renders the dependency in the manifest "name range" form.
func (d Dependency) String() string {
	return d.Name + " " + d.Interval.String()
}

// ParseDependency parses a manifest dependency string of the form
// "<name> <range>". Supported range shorthands:
//
//	^1.2.3          [1.2.3, 2.0.0)
//	~1.2.3          [1.2.3, 1.3.0)
//	+1.2.3          [1.2.3, +inf)
//	=1.2.3 / 1.2.3  [1.2.3, 1.2.4)
//	[1.2.3, 2.0.0)  explicit half-open interval
func ParseDependency(s string) (Dependency, error) {
	fields := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(fields) != 2 {
		return Dependency{}, fmt.Errorf("%w: dependency %q must have the form \"<name> <version-range>\"", errs.ErrUser, s)
	}
	name := fields[0]
	if err := ValidateName(name); err != nil {
		return Dependency{}, err
	}
	iv, err := ParseInterval(strings.TrimSpace(fields[1]))
	if err != nil {
		return Dependency{}, fmt.Errorf("invalid range in dependency %q: %w", s, err)
	}
	return Dependency{Name: name, Interval: iv}, nil
}

// ParseInterval parses a version-range string into a half-open interval.
func ParseInterval(s string) (Interval, error) {
	if s == "" {
		return Interval{}, fmt.Errorf("%w: empty version range", errs.ErrUser)
	}

	// Explicit "[low, high)" form.
	if strings.HasPrefix(s, "[") {
		if !strings.HasSuffix(s, ")") {
			return Interval{}, fmt.Errorf("%w: interval %q must end with ')'", errs.ErrUser, s)
		}
		parts := strings.Split(s[1:len(s)-1], ",")
		if len(parts) != 2 {
			return Interval{}, fmt.Errorf("%w: interval %q must have two comma-separated versions", errs.ErrUser, s)
		}
		low, err := semver.StrictNewVersion(strings.TrimSpace(parts[0]))
		if err != nil {
			return Interval{}, fmt.Errorf("%w: invalid low version in %q: %v", errs.ErrUser, s, err)
		}
		high, err := semver.StrictNewVersion(strings.TrimSpace(parts[1]))
		if err != nil {
			return Interval{}, fmt.Errorf("%w: invalid high version in %q: %v", errs.ErrUser, s, err)
		}
		iv := Interval{Low: low, High: high}
		if iv.Empty() {
			return Interval{}, fmt.Errorf("%w: interval %q is empty (low must be below high)", errs.ErrUser, s)
		}
		return iv, nil
	}

	op := byte(0)
	vs := s
	switch s[0] {
	case '^', '~', '+', '=':
		op = s[0]
		vs = s[1:]
	}
	low, err := semver.StrictNewVersion(vs)
	if err != nil {
		return Interval{}, fmt.Errorf("%w: invalid version %q: %v", errs.ErrUser, vs, err)
	}

	var high semver.Version
	switch op {
	case '^':
		high = low.IncMajor()
	case '~':
		high = low.IncMinor()
	case '+':
		return Interval{Low: low}, nil
	default: // '=' and bare versions pin to the next patch
		high = low.IncPatch()
	}
	return Interval{Low: low, High: &high}, nil
}
