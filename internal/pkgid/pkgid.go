// Package pkgid defines package identities and dependency version
// intervals. A package identity is a name plus a semantic version and has
// the textual form "name@version", which round-trips through Parse.
package pkgid

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/blackwell-systems/crucible/internal/errs"
)

// ID uniquely identifies a package release.
type ID struct {
	Name    string
	Version *semver.Version
}

// Parse converts the textual form "name@version" into an ID.
func Parse(s string) (ID, error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return ID{}, fmt.Errorf("%w: package ID %q must have the form name@version", errs.ErrUser, s)
	}
	name := s[:at]
	if err := ValidateName(name); err != nil {
		return ID{}, err
	}
	ver, err := semver.StrictNewVersion(s[at+1:])
	if err != nil {
		return ID{}, fmt.Errorf("%w: invalid version in package ID %q: %v", errs.ErrUser, s, err)
	}
	return ID{Name: name, Version: ver}, nil
}

// String returns the "name@version" form. The result parses back to an
// equal ID.
func (id ID) String() string {
	return id.Name + "@" + id.Version.String()
}

// Less orders IDs by name, then by version.
func (id ID) Less(other ID) bool {
	if id.Name != other.Name {
		return id.Name < other.Name
	}
	return id.Version.LessThan(other.Version)
}

// Equal reports whether two IDs identify the same release.
func (id ID) Equal(other ID) bool {
	return id.Name == other.Name && id.Version.Equal(other.Version)
}

// ValidateName checks the package-name charset: letters, digits,
// underscore, dash and dot, non-empty.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: package name must not be empty", errs.ErrUser)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_', r == '-', r == '.':
		default:
			return fmt.Errorf("%w: invalid character %q in package name %q", errs.ErrUser, r, name)
		}
	}
	return nil
}
