// Package sdist loads source distributions: extracted package directories
// with a package.json5 manifest, containing one or more libraries.
package sdist

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/yosuke-furukawa/json5/encoding/json5"

	"github.com/blackwell-systems/crucible/internal/dym"
	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/pkgid"
)

// ManifestFilename is the manifest file expected at an sdist root.
const ManifestFilename = "package.json5"

// TestDriver names a test-harness integration.
type TestDriver string

const (
	// TestDriverNone disables test-driver support.
	TestDriverNone TestDriver = ""
	// TestDriverCatch supplies the Catch2 header only; each test source
	// provides its own main.
	TestDriverCatch TestDriver = "catch"
	// TestDriverCatchMain additionally supplies a prebuilt Catch2 main
	// object linked into every test.
	TestDriverCatchMain TestDriver = "catch_main"
)

// Manifest is the parsed content of package.json5.
type Manifest struct {
	ID         pkgid.ID
	Namespace  string
	TestDriver TestDriver
	Depends    []pkgid.Dependency
}

// manifest keys accepted in package.json5, used for unknown-key hints.
var manifestKeys = []string{"name", "version", "namespace", "test_driver", "depends"}

// LoadManifest reads and validates the package.json5 at dir.
func LoadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: failed to read manifest %s: %v", errs.ErrIO, path, err)
	}

	var raw map[string]any
	if err := json5.Unmarshal(data, &raw); err != nil {
		return Manifest{}, fmt.Errorf("%w: invalid manifest %s: %v", errs.ErrUser, path, err)
	}
	for key := range raw {
		if !containsKey(manifestKeys, key) {
			return Manifest{}, &errs.Nonesuch{
				What:       "manifest key",
				Given:      key,
				Suggestion: dym.Suggest(key, manifestKeys),
			}
		}
	}

	name, err := stringField(raw, "name", path)
	if err != nil {
		return Manifest{}, err
	}
	if err := pkgid.ValidateName(name); err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
	}

	verStr, err := stringField(raw, "version", path)
	if err != nil {
		return Manifest{}, err
	}
	ver, err := semver.StrictNewVersion(verStr)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest %s has invalid version %q: %v", errs.ErrUser, path, verStr, err)
	}

	namespace, err := stringField(raw, "namespace", path)
	if err != nil {
		return Manifest{}, err
	}
	if namespace == "" {
		return Manifest{}, fmt.Errorf("%w: manifest %s: namespace must not be empty", errs.ErrUser, path)
	}

	man := Manifest{
		ID:        pkgid.ID{Name: name, Version: ver},
		Namespace: namespace,
	}

	if v, ok := raw["test_driver"]; ok {
		s, ok := v.(string)
		if !ok {
			return Manifest{}, fmt.Errorf("%w: manifest %s: test_driver must be a string", errs.ErrUser, path)
		}
		switch TestDriver(s) {
		case TestDriverCatch, TestDriverCatchMain:
			man.TestDriver = TestDriver(s)
		default:
			return Manifest{}, &errs.Nonesuch{
				What:       "test driver",
				Given:      s,
				Suggestion: dym.Suggest(s, []string{string(TestDriverCatch), string(TestDriverCatchMain)}),
			}
		}
	}

	if v, ok := raw["depends"]; ok {
		list, ok := v.([]any)
		if !ok {
			return Manifest{}, fmt.Errorf("%w: manifest %s: depends must be an array of strings", errs.ErrUser, path)
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return Manifest{}, fmt.Errorf("%w: manifest %s: depends entries must be strings", errs.ErrUser, path)
			}
			dep, err := pkgid.ParseDependency(s)
			if err != nil {
				return Manifest{}, fmt.Errorf("manifest %s: %w", path, err)
			}
			man.Depends = append(man.Depends, dep)
		}
	}

	return man, nil
}

func stringField(raw map[string]any, key, path string) (string, error) {
	v, ok := raw[key]
	if !ok {
		return "", fmt.Errorf("%w: manifest %s is missing required key %q", errs.ErrUser, path, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: manifest %s: %q must be a string", errs.ErrUser, path, key)
	}
	return s, nil
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
