package builder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/blackwell-systems/crucible/internal/cache"
	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/sdist"
)

// toolRecorder is a fake toolchain process: it creates whatever output
// the command names and records every invocation by flavor.
type toolRecorder struct {
	mu       sync.Mutex
	compiles int
	archives int
	links    int
	tests    int
}

func (r *toolRecorder) run(ctx context.Context, argv []string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out, depfile, src string
	isCompile := false
	for i, a := range argv {
		switch a {
		case "-o":
			out = argv[i+1]
		case "-MF":
			depfile = argv[i+1]
		case "-c":
			src = argv[i+1]
			isCompile = true
		}
	}
	switch {
	case isCompile:
		r.compiles++
	case argv[0] == "ar":
		out = argv[2]
		r.archives++
	case out != "":
		r.links++
	default:
		// A bare path: an executed test binary.
		r.tests++
		return "", nil
	}

	if out != "" {
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return "", err
		}
		if err := os.WriteFile(out, []byte("artifact"), 0755); err != nil {
			return "", err
		}
	}
	if depfile != "" && src != "" {
		if err := os.WriteFile(depfile, []byte(out+": "+src+"\n"), 0644); err != nil {
			return "", err
		}
	}
	return "", nil
}

func (r *toolRecorder) counts() (int, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.compiles, r.archives, r.links, r.tests
}

func (r *toolRecorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compiles, r.archives, r.links, r.tests = 0, 0, 0, 0
}

func writeProject(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, sdist.ManifestFilename), []byte(manifest), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create dirs: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", rel, err)
		}
	}
	return dir
}

func testEnv(t *testing.T) (*pkgdb.DB, *cache.Cache) {
	t.Helper()
	db, err := pkgdb.Open(":memory:")
	if err != nil {
		t.Fatalf("pkgdb.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache"), cache.Write)
	if err != nil {
		t.Fatalf("cache.Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return db, c
}

func TestBuildSingleLibraryIncremental(t *testing.T) {
	proj := writeProject(t, `{name: "foo", version: "1.0.0", namespace: "ns"}`, map[string]string{
		"src/foo.cpp": "int foo() { return 42; }\n",
	})
	db, c := testEnv(t)
	rec := &toolRecorder{}
	opts := Options{
		ProjectDir: proj,
		OutDir:     filepath.Join(t.TempDir(), "out"),
		DB:         db,
		Cache:      c,
		Jobs:       2,
		Quiet:      true,
		Runner:     rec.run,
	}

	// First build: one compile, one archive, zero tests.
	if _, err := Build(context.Background(), opts); err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	compiles, archives, links, tests := rec.counts()
	if compiles != 1 || archives != 1 || links != 0 || tests != 0 {
		t.Fatalf("first build ran c=%d a=%d l=%d t=%d, want 1/1/0/0", compiles, archives, links, tests)
	}

	// Second build, nothing changed: zero compiles.
	rec.reset()
	if _, err := Build(context.Background(), opts); err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	compiles, _, _, _ = rec.counts()
	if compiles != 0 {
		t.Errorf("unchanged rebuild ran %d compiles, want 0", compiles)
	}

	// Touch the source to a newer mtime: one compile, one archive.
	future := time.Now().Add(2 * time.Second)
	src := filepath.Join(proj, "src", "foo.cpp")
	if err := os.Chtimes(src, future, future); err != nil {
		t.Fatalf("failed to touch source: %v", err)
	}
	rec.reset()
	if _, err := Build(context.Background(), opts); err != nil {
		t.Fatalf("third Build failed: %v", err)
	}
	compiles, archives, _, _ = rec.counts()
	if compiles != 1 || archives != 1 {
		t.Errorf("touched rebuild ran c=%d a=%d, want 1/1", compiles, archives)
	}
}

func TestBuildResolvesDependenciesFromCache(t *testing.T) {
	proj := writeProject(t, `{
		name: "app",
		version: "1.0.0",
		namespace: "ns",
		depends: ["bar [1.0.0, 2.0.0)"],
	}`, map[string]string{
		"src/app.cpp":   "",
		"library.json5": `{uses: ["dep/bar"]}`,
	})
	db, c := testEnv(t)

	// Two bar releases in the cache; the solver must take 1.2.0.
	for _, v := range []string{"1.0.0", "1.2.0"} {
		barDir := writeProject(t, `{name: "bar", version: "`+v+`", namespace: "dep"}`, map[string]string{
			"src/bar.cpp":       "// " + v + "\n",
			"include/bar/bar.h": "#pragma once\n",
		})
		bar, err := sdist.Load(barDir)
		if err != nil {
			t.Fatalf("failed to load bar sdist: %v", err)
		}
		if err := c.AddSDist(bar, cache.Fail); err != nil {
			t.Fatalf("failed to cache bar@%s: %v", v, err)
		}
	}

	rec := &toolRecorder{}
	out := filepath.Join(t.TempDir(), "out")
	opts := Options{
		ProjectDir: proj,
		OutDir:     out,
		DB:         db,
		Cache:      c,
		Jobs:       2,
		Quiet:      true,
		Runner:     rec.run,
	}
	if _, err := Build(context.Background(), opts); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	compiles, archives, _, _ := rec.counts()
	if compiles != 2 || archives != 2 {
		t.Errorf("build ran c=%d a=%d, want app and the solved bar@1.2.0 (2/2)", compiles, archives)
	}
	// The chosen version's archive landed in the output tree.
	if _, err := os.Stat(filepath.Join(out, "bar", "bar", "libbar.a")); err != nil {
		t.Errorf("bar archive missing: %v", err)
	}
}

func TestBuildMissingDependencyIsUserError(t *testing.T) {
	proj := writeProject(t, `{
		name: "app",
		version: "1.0.0",
		namespace: "ns",
		depends: ["ghost ^1.0.0"],
	}`, map[string]string{"src/app.cpp": ""})
	db, c := testEnv(t)

	opts := Options{
		ProjectDir: proj,
		OutDir:     filepath.Join(t.TempDir(), "out"),
		DB:         db,
		Cache:      c,
		Quiet:      true,
		Runner:     (&toolRecorder{}).run,
	}
	if _, err := Build(context.Background(), opts); err == nil {
		t.Fatal("Build should fail when a dependency cannot be solved")
	}
}

func TestBuildWithCatchMainDriver(t *testing.T) {
	proj := writeProject(t, `{
		name: "foo",
		version: "1.0.0",
		namespace: "ns",
		test_driver: "catch_main",
	}`, map[string]string{
		"src/foo.cpp":      "",
		"src/foo.test.cpp": "",
	})
	db, c := testEnv(t)
	rec := &toolRecorder{}
	out := filepath.Join(t.TempDir(), "out")
	opts := Options{
		ProjectDir: proj,
		OutDir:     out,
		DB:         db,
		Cache:      c,
		Jobs:       2,
		Quiet:      true,
		Runner:     rec.run,
	}

	if _, err := Build(context.Background(), opts); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// The driver header materializes once under the output root.
	header := filepath.Join(out, "_catch2", "include", "catch2", "catch.hpp")
	if _, err := os.Stat(header); err != nil {
		t.Errorf("driver header missing: %v", err)
	}

	// foo.cpp, foo.test.cpp and the driver main: three compiles; the
	// test binary links and runs.
	compiles, _, links, tests := rec.counts()
	if compiles != 3 {
		t.Errorf("ran %d compiles, want 3 (source, test, driver main)", compiles)
	}
	if links != 1 || tests != 1 {
		t.Errorf("ran l=%d t=%d, want one linked and one executed test", links, tests)
	}
}

func TestBuildExport(t *testing.T) {
	proj := writeProject(t, `{name: "foo", version: "1.0.0", namespace: "ns"}`, map[string]string{
		"src/foo.cpp":       "",
		"include/foo/api.h": "#pragma once\n",
	})
	db, c := testEnv(t)
	out := filepath.Join(t.TempDir(), "out")
	opts := Options{
		ProjectDir: proj,
		OutDir:     out,
		DB:         db,
		Cache:      c,
		Quiet:      true,
		Export:     true,
		Runner:     (&toolRecorder{}).run,
	}
	if _, err := Build(context.Background(), opts); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	exportRoot := filepath.Join(out, "foo.lpk")
	lmp, err := os.ReadFile(filepath.Join(exportRoot, "package.lmp"))
	if err != nil {
		t.Fatalf("package.lmp missing: %v", err)
	}
	if !strings.Contains(string(lmp), "Name: foo") || !strings.Contains(string(lmp), "Namespace: ns") {
		t.Errorf("package.lmp content wrong: %q", lmp)
	}

	lml, err := os.ReadFile(filepath.Join(exportRoot, "foo", "foo.lml"))
	if err != nil {
		t.Fatalf("foo.lml missing: %v", err)
	}
	for _, want := range []string{"Type: Library", "Include-Path: include", "Path: libfoo.a"} {
		if !strings.Contains(string(lml), want) {
			t.Errorf("foo.lml missing %q: %q", want, lml)
		}
	}
	if _, err := os.Stat(filepath.Join(exportRoot, "foo", "include", "foo", "api.h")); err != nil {
		t.Errorf("exported header missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportRoot, "foo", "libfoo.a")); err != nil {
		t.Errorf("exported archive missing: %v", err)
	}
}
