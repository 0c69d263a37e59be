package sdist

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/blackwell-systems/crucible/internal/dym"
	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/source"
)

// LibraryManifestFilename is the optional per-library manifest.
const LibraryManifestFilename = "library.json5"

// Library is one buildable library inside a source distribution.
type Library struct {
	// Name is the stable library name, derived from the directory; the
	// root library inherits the package name.
	Name string
	// Namespace is the owning package's namespace.
	Namespace string
	// Path is the library root directory.
	Path string
	// SourceRoot is <Path>/src, or "" when the library has no sources.
	SourceRoot string
	// IncludeRoot is the public include root: <Path>/include if present,
	// else <Path>/src.
	IncludeRoot string
	// Uses and Links are "namespace/name" usage keys declared in
	// library.json5.
	Uses  []string
	Links []string
	// TestDriver is the owning package's test-driver choice.
	TestDriver TestDriver
}

// QualifiedName returns the "namespace/name" usage key of the library.
func (l *Library) QualifiedName() string {
	return l.Namespace + "/" + l.Name
}

// SourceFile is one classified file under a library's source root.
type SourceFile struct {
	Path string
	Kind source.Kind
}

// Sources walks the library's source root and returns every classified
// file, sorted by path. Header-only libraries return no entries.
func (l *Library) Sources() ([]SourceFile, error) {
	if l.SourceRoot == "" {
		return nil, nil
	}
	var files []SourceFile
	err := filepath.WalkDir(l.SourceRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if kind := source.Classify(path); kind != source.Unknown {
			files = append(files, SourceFile{Path: path, Kind: kind})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to walk sources of %s: %v", errs.ErrIO, l.Name, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// libraryKeys are the keys accepted in library.json5.
var libraryKeys = []string{"uses", "links"}

// CollectLibraries finds every library in the distribution: the root
// itself plus each direct subdirectory that contains a src or include
// directory. Declared uses/links are read from an optional library.json5
// at each library root.
func (s *SDist) CollectLibraries() ([]*Library, error) {
	var libs []*Library

	root, err := s.libraryAt(s.Path, s.Manifest.ID.Name)
	if err != nil {
		return nil, err
	}
	if root != nil {
		libs = append(libs, root)
	}

	entries, err := os.ReadDir(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read sdist %s: %v", errs.ErrIO, s.Path, err)
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		lib, err := s.libraryAt(filepath.Join(s.Path, e.Name()), e.Name())
		if err != nil {
			return nil, err
		}
		if lib != nil {
			libs = append(libs, lib)
		}
	}

	if len(libs) == 0 {
		return nil, fmt.Errorf("%w: sdist %s contains no libraries (no src or include directory)", errs.ErrUser, s.Path)
	}
	return libs, nil
}

// libraryAt builds a Library for dir when it has a src or include
// directory, or returns nil when it is not a library root.
func (s *SDist) libraryAt(dir, name string) (*Library, error) {
	srcDir := filepath.Join(dir, "src")
	incDir := filepath.Join(dir, "include")
	hasSrc := isDir(srcDir)
	hasInc := isDir(incDir)
	if !hasSrc && !hasInc {
		return nil, nil
	}

	lib := &Library{
		Name:       name,
		Namespace:  s.Manifest.Namespace,
		Path:       dir,
		TestDriver: s.Manifest.TestDriver,
	}
	if hasSrc {
		lib.SourceRoot = srcDir
	}
	if hasInc {
		lib.IncludeRoot = incDir
	} else {
		lib.IncludeRoot = srcDir
	}

	if err := lib.loadManifest(filepath.Join(dir, LibraryManifestFilename)); err != nil {
		return nil, err
	}
	return lib, nil
}

// loadManifest applies an optional library.json5 to the library. A
// missing file is fine; a malformed one is a user error.
func (l *Library) loadManifest(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read %s: %v", errs.ErrIO, path, err)
	}

	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: invalid library manifest %s: %v", errs.ErrUser, path, err)
	}
	for key := range raw {
		if !containsKey(libraryKeys, key) {
			return &errs.Nonesuch{
				What:       "library manifest key",
				Given:      key,
				Suggestion: dym.Suggest(key, libraryKeys),
			}
		}
	}

	l.Uses, err = stringList(raw, "uses", path)
	if err != nil {
		return err
	}
	l.Links, err = stringList(raw, "links", path)
	return err
}

func stringList(raw map[string]any, key, path string) ([]string, error) {
	v, ok := raw[key]
	if !ok {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: %q must be an array of strings", errs.ErrUser, path, key)
	}
	var out []string
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s: %q entries must be strings", errs.ErrUser, path, key)
		}
		out = append(out, s)
	}
	return out, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
