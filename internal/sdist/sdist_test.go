package sdist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/source"
)

// writeSDist lays out a minimal source distribution under a temp dir.
func writeSDist(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ManifestFilename), []byte(manifest), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
	return dir
}

const fooManifest = `{
	name: "foo",
	version: "1.0.0",
	namespace: "ns",
}`

func TestLoadManifest(t *testing.T) {
	dir := writeSDist(t, `{
		name: "foo",
		version: "1.2.3",
		namespace: "ns",
		test_driver: "catch_main",
		depends: ["bar ^1.0.0", "baz [1.0.0, 2.0.0)"],
	}`, nil)

	man, err := LoadManifest(dir)
	if err != nil {
		t.Fatalf("LoadManifest failed: %v", err)
	}
	if man.ID.String() != "foo@1.2.3" {
		t.Errorf("ID = %s, want foo@1.2.3", man.ID)
	}
	if man.Namespace != "ns" {
		t.Errorf("Namespace = %q, want ns", man.Namespace)
	}
	if man.TestDriver != TestDriverCatchMain {
		t.Errorf("TestDriver = %q, want catch_main", man.TestDriver)
	}
	if len(man.Depends) != 2 || man.Depends[0].Name != "bar" || man.Depends[1].Name != "baz" {
		t.Errorf("Depends = %v, want bar and baz", man.Depends)
	}
}

func TestLoadManifestMissingFields(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{"missing name", `{version: "1.0.0", namespace: "ns"}`},
		{"missing version", `{name: "foo", namespace: "ns"}`},
		{"missing namespace", `{name: "foo", version: "1.0.0"}`},
		{"empty namespace", `{name: "foo", version: "1.0.0", namespace: ""}`},
		{"bad version", `{name: "foo", version: "one", namespace: "ns"}`},
		{"bad name charset", `{name: "f/oo", version: "1.0.0", namespace: "ns"}`},
		{"bad depends", `{name: "foo", version: "1.0.0", namespace: "ns", depends: ["bar"]}`},
		{"not json5", `nonsense {{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeSDist(t, tt.manifest, nil)
			if _, err := LoadManifest(dir); err == nil {
				t.Error("LoadManifest should have failed")
			}
		})
	}
}

func TestLoadManifestUnknownKeySuggestion(t *testing.T) {
	dir := writeSDist(t, `{name: "foo", version: "1.0.0", namespace: "ns", depnds: []}`, nil)
	_, err := LoadManifest(dir)
	var ns *errs.Nonesuch
	if !errors.As(err, &ns) {
		t.Fatalf("expected Nonesuch for unknown key, got %v", err)
	}
	if ns.Suggestion != "depends" {
		t.Errorf("Suggestion = %q, want depends", ns.Suggestion)
	}
}

func TestLoadManifestBadTestDriver(t *testing.T) {
	dir := writeSDist(t, `{name: "foo", version: "1.0.0", namespace: "ns", test_driver: "cetch"}`, nil)
	_, err := LoadManifest(dir)
	var ns *errs.Nonesuch
	if !errors.As(err, &ns) {
		t.Fatalf("expected Nonesuch for bad test driver, got %v", err)
	}
	if ns.Suggestion != "catch" {
		t.Errorf("Suggestion = %q, want catch", ns.Suggestion)
	}
}

func TestCollectLibrariesRootOnly(t *testing.T) {
	dir := writeSDist(t, fooManifest, map[string]string{
		"src/foo.cpp":       "int foo() { return 1; }\n",
		"src/foo.hpp":       "int foo();\n",
		"include/foo/api.h": "#pragma once\n",
	})

	sd, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	libs, err := sd.CollectLibraries()
	if err != nil {
		t.Fatalf("CollectLibraries failed: %v", err)
	}
	if len(libs) != 1 {
		t.Fatalf("got %d libraries, want 1", len(libs))
	}
	lib := libs[0]
	if lib.Name != "foo" {
		t.Errorf("root library Name = %q, want package name foo", lib.Name)
	}
	if lib.QualifiedName() != "ns/foo" {
		t.Errorf("QualifiedName = %q, want ns/foo", lib.QualifiedName())
	}
	if lib.IncludeRoot != filepath.Join(dir, "include") {
		t.Errorf("IncludeRoot = %q, want the include dir", lib.IncludeRoot)
	}
}

func TestCollectLibrariesIncludeFallsBackToSrc(t *testing.T) {
	dir := writeSDist(t, fooManifest, map[string]string{
		"src/foo.cpp": "",
	})
	sd, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	libs, err := sd.CollectLibraries()
	if err != nil {
		t.Fatalf("CollectLibraries failed: %v", err)
	}
	if libs[0].IncludeRoot != filepath.Join(dir, "src") {
		t.Errorf("IncludeRoot = %q, want src fallback", libs[0].IncludeRoot)
	}
}

func TestCollectLibrariesSubdirectories(t *testing.T) {
	dir := writeSDist(t, fooManifest, map[string]string{
		"src/foo.cpp":          "",
		"extra/src/extra.cpp":  "",
		"extra/library.json5":  `{uses: ["ns/foo"], links: ["other/thing"]}`,
		"docs/readme.md":       "", // no src/include: not a library
		".hidden/src/skip.cpp": "", // dot-prefixed: skipped
	})
	sd, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	libs, err := sd.CollectLibraries()
	if err != nil {
		t.Fatalf("CollectLibraries failed: %v", err)
	}
	if len(libs) != 2 {
		t.Fatalf("got %d libraries, want 2 (root + extra)", len(libs))
	}
	extra := libs[1]
	if extra.Name != "extra" {
		t.Errorf("sub-library Name = %q, want extra", extra.Name)
	}
	if len(extra.Uses) != 1 || extra.Uses[0] != "ns/foo" {
		t.Errorf("Uses = %v, want [ns/foo]", extra.Uses)
	}
	if len(extra.Links) != 1 || extra.Links[0] != "other/thing" {
		t.Errorf("Links = %v, want [other/thing]", extra.Links)
	}
}

func TestCollectLibrariesNoLibraries(t *testing.T) {
	dir := writeSDist(t, fooManifest, map[string]string{"README.md": ""})
	sd, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := sd.CollectLibraries(); err == nil {
		t.Error("CollectLibraries should fail when nothing looks like a library")
	}
}

func TestLibraryManifestUnknownKey(t *testing.T) {
	dir := writeSDist(t, fooManifest, map[string]string{
		"src/foo.cpp":   "",
		"library.json5": `{usus: []}`,
	})
	sd, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	_, err = sd.CollectLibraries()
	var ns *errs.Nonesuch
	if !errors.As(err, &ns) {
		t.Fatalf("expected Nonesuch for unknown library key, got %v", err)
	}
	if ns.Suggestion != "uses" {
		t.Errorf("Suggestion = %q, want uses", ns.Suggestion)
	}
}

func TestLibrarySources(t *testing.T) {
	dir := writeSDist(t, fooManifest, map[string]string{
		"src/foo.cpp":       "",
		"src/foo.hpp":       "",
		"src/foo.test.cpp":  "",
		"src/tool.main.cpp": "",
		"src/notes.txt":     "",
		"src/deep/more.cpp": "",
	})
	sd, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	libs, err := sd.CollectLibraries()
	if err != nil {
		t.Fatalf("CollectLibraries failed: %v", err)
	}
	files, err := libs[0].Sources()
	if err != nil {
		t.Fatalf("Sources failed: %v", err)
	}

	kinds := map[source.Kind]int{}
	for _, f := range files {
		kinds[f.Kind]++
	}
	if kinds[source.Source] != 2 {
		t.Errorf("got %d plain sources, want 2", kinds[source.Source])
	}
	if kinds[source.Header] != 1 {
		t.Errorf("got %d headers, want 1", kinds[source.Header])
	}
	if kinds[source.TestSource] != 1 || kinds[source.AppSource] != 1 {
		t.Errorf("test/app classification missing: %v", kinds)
	}
	if kinds[source.Unknown] != 0 {
		t.Errorf("unknown files should be excluded, got %d", kinds[source.Unknown])
	}
}
