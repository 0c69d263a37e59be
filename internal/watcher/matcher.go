package watcher

import (
	"path/filepath"

	"github.com/blackwell-systems/crucible/internal/sdist"
	"github.com/blackwell-systems/crucible/internal/source"
)

// Relevant reports whether a change to path can affect build output:
// any classified source or header, or a package/library manifest.
func Relevant(path string) bool {
	if source.Classify(path) != source.Unknown {
		return true
	}
	switch filepath.Base(path) {
	case sdist.ManifestFilename, sdist.LibraryManifestFilename:
		return true
	}
	return false
}
