package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/sdist"
)

// useTempState points the global --db/--cache-dir state at temp
// locations for the duration of one test.
func useTempState(t *testing.T) {
	t.Helper()
	oldDB, oldCache := dbPath, cacheDir
	dbPath = filepath.Join(t.TempDir(), "pkgs.db")
	cacheDir = filepath.Join(t.TempDir(), "cache")
	t.Cleanup(func() {
		dbPath, cacheDir = oldDB, oldCache
	})
}

func writeSDistDir(t *testing.T, name, version string) string {
	t.Helper()
	dir := t.TempDir()
	manifest := `{name: "` + name + `", version: "` + version + `", namespace: "ns"}`
	if err := os.WriteFile(filepath.Join(dir, sdist.ManifestFilename), []byte(manifest), 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "src"), 0755); err != nil {
		t.Fatalf("failed to create src: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "src", name+".cpp"), []byte(""), 0644); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	return dir
}

func TestParseIfExists(t *testing.T) {
	for _, valid := range []string{"fail", "ignore", "replace"} {
		if _, err := parseIfExists(valid); err != nil {
			t.Errorf("parseIfExists(%q) failed: %v", valid, err)
		}
	}
	if _, err := parseIfExists("overwrite"); err == nil {
		t.Error("parseIfExists should reject unknown modes")
	}
}

func TestPkgImportAndLs(t *testing.T) {
	useTempState(t)
	dir := writeSDistDir(t, "foo", "1.0.0")

	pkgImportIfExists = "fail"
	if err := runPkgImport(pkgImportCmd, []string{dir}); err != nil {
		t.Fatalf("pkg import failed: %v", err)
	}

	// A second import of the same package must respect --if-exists.
	if err := runPkgImport(pkgImportCmd, []string{dir}); err == nil {
		t.Error("re-import with --if-exists=fail should fail")
	}
	pkgImportIfExists = "replace"
	if err := runPkgImport(pkgImportCmd, []string{dir}); err != nil {
		t.Errorf("re-import with --if-exists=replace failed: %v", err)
	}

	// The cache now holds the entry under its canonical name.
	if _, err := os.Stat(filepath.Join(cacheDir, "foo@1.0.0", sdist.ManifestFilename)); err != nil {
		t.Errorf("cached entry missing: %v", err)
	}

	if err := runPkgLs(pkgLsCmd, nil); err != nil {
		t.Errorf("pkg ls failed: %v", err)
	}
}

func TestRepoExportRoundTrip(t *testing.T) {
	useTempState(t)

	// Import two packages, export the cache as an index, then add that
	// index as a remote over HTTP and confirm the listings arrive.
	for _, nv := range [][2]string{{"foo", "1.0.0"}, {"bar", "2.0.0"}} {
		dir := writeSDistDir(t, nv[0], nv[1])
		pkgImportIfExists = "fail"
		if err := runPkgImport(pkgImportCmd, []string{dir}); err != nil {
			t.Fatalf("pkg import failed: %v", err)
		}
	}

	exportDir := t.TempDir()
	repoExportName = "exported"
	if err := runRepoExport(repoExportCmd, []string{exportDir}); err != nil {
		t.Fatalf("repo export failed: %v", err)
	}

	srv := httptest.NewServer(http.FileServer(http.Dir(exportDir)))
	defer srv.Close()

	if err := runRepoAdd(repoAddCmd, []string{srv.URL}); err != nil {
		t.Fatalf("repo add failed: %v", err)
	}

	db, err := pkgdb.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open package db: %v", err)
	}
	defer db.Close()

	all, err := db.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("imported %d listings, want 2", len(all))
	}

	rem, err := db.GetRemote("exported")
	if err != nil {
		t.Fatalf("remote not registered under its declared name: %v", err)
	}
	if rem.URL != srv.URL {
		t.Errorf("remote URL = %q, want %q", rem.URL, srv.URL)
	}

	if err := runRepoLs(repoLsCmd, nil); err != nil {
		t.Errorf("repo ls failed: %v", err)
	}
	if err := runRepoRemove(repoRemoveCmd, []string{"exported"}); err != nil {
		t.Errorf("repo remove failed: %v", err)
	}
	if err := runRepoRemove(repoRemoveCmd, []string{"exported"}); err == nil {
		t.Error("removing a missing remote should fail")
	}
}

func TestUnknownSubcommandSuggests(t *testing.T) {
	RootCmd.SetArgs([]string{"biuld"})
	defer RootCmd.SetArgs(nil)
	if err := RootCmd.Execute(); err == nil {
		t.Error("unknown subcommand should error (with a suggestion)")
	}
}
