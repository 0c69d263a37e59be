package sdist

import (
	"fmt"
	"os"

	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/pkgid"
)

// SDist is an extracted source distribution on disk.
type SDist struct {
	// Path is the root directory of the distribution, as passed to Load
	// (it is not made absolute).
	Path string
	// Manifest is the parsed package.json5.
	Manifest Manifest
}

// Load opens the directory at path as a source distribution.
func Load(path string) (*SDist, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sdist at %s: %v", errs.ErrIO, path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: sdist path %s is not a directory", errs.ErrUser, path)
	}
	man, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	return &SDist{Path: path, Manifest: man}, nil
}

// ID returns the package identity of the distribution.
func (s *SDist) ID() pkgid.ID {
	return s.Manifest.ID
}
