package remote

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/pkgid"
)

// indexServer serves a repo.db file with ETag-based conditional GET, and
// counts how many full bodies it served.
type indexServer struct {
	path      string
	etag      string
	fullSends int
}

func (s *indexServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/"+IndexFilename {
		http.NotFound(w, r)
		return
	}
	if s.etag != "" && r.Header.Get("If-None-Match") == s.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if s.etag != "" {
		w.Header().Set("ETag", s.etag)
	}
	s.fullSends++
	data, err := os.ReadFile(s.path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

func mustID(t *testing.T, s string) pkgid.ID {
	t.Helper()
	id, err := pkgid.Parse(s)
	if err != nil {
		t.Fatalf("bad test pkg id %q: %v", s, err)
	}
	return id
}

func mustDep(t *testing.T, s string) pkgid.Dependency {
	t.Helper()
	dep, err := pkgid.ParseDependency(s)
	if err != nil {
		t.Fatalf("bad test dependency %q: %v", s, err)
	}
	return dep
}

func writeTestIndex(t *testing.T, name string, listings []pkgdb.Listing) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "repo.db")
	if err := WriteIndex(path, name, listings); err != nil {
		t.Fatalf("WriteIndex failed: %v", err)
	}
	return path
}

func openTestDB(t *testing.T) *pkgdb.DB {
	t.Helper()
	d, err := pkgdb.Open(filepath.Join(t.TempDir(), "pkgs.db"))
	if err != nil {
		t.Fatalf("pkgdb.Open failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestAddImportsIndex(t *testing.T) {
	index := writeTestIndex(t, "testrepo", []pkgdb.Listing{
		{ID: mustID(t, "foo@1.0.0"), Description: "the foo library"},
		{ID: mustID(t, "bar@2.1.0"), Deps: []pkgid.Dependency{mustDep(t, "foo ^1.0.0")}},
	})
	srv := &indexServer{path: index, etag: `"e1"`}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	db := openTestDB(t)
	sync := NewSyncer(db)

	rem, err := sync.Add(context.Background(), ts.URL)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if rem.Name != "testrepo" {
		t.Errorf("remote name = %q, want the index's self-declared testrepo", rem.Name)
	}

	all, err := db.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("imported %d packages, want 2", len(all))
	}

	bar, err := db.Get(mustID(t, "bar@2.1.0"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(bar.Deps) != 1 || bar.Deps[0].Name != "foo" {
		t.Errorf("bar deps = %v, want the imported foo constraint", bar.Deps)
	}

	// "dds:" shorthand expands against the remote base URL.
	foo, err := db.Get(mustID(t, "foo@1.0.0"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := "dds+" + ts.URL + "/foo@1.0.0"
	if foo.RemoteURL != want {
		t.Errorf("foo URL = %q, want expanded shorthand %q", foo.RemoteURL, want)
	}
}

func TestUpdateUsesConditionalFetch(t *testing.T) {
	index := writeTestIndex(t, "testrepo", []pkgdb.Listing{
		{ID: mustID(t, "foo@1.0.0")},
	})
	srv := &indexServer{path: index, etag: `"e1"`}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	db := openTestDB(t)
	sync := NewSyncer(db)

	if _, err := sync.Add(context.Background(), ts.URL); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if srv.fullSends != 1 {
		t.Fatalf("Add should download once, served %d bodies", srv.fullSends)
	}

	rem, err := db.GetRemote("testrepo")
	if err != nil {
		t.Fatalf("GetRemote failed: %v", err)
	}
	if rem.ETag != `"e1"` {
		t.Fatalf("ETag = %q not persisted after Add", rem.ETag)
	}

	// Second sync: the stored validator turns it into a 304 skip.
	if err := sync.Update(context.Background(), rem); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if srv.fullSends != 1 {
		t.Errorf("unchanged remote should be a 304 skip, server sent %d bodies", srv.fullSends)
	}

	all, err := db.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("304 skip must not change the package set, have %d rows", len(all))
	}
}

func TestUpdateReplacesListings(t *testing.T) {
	index := writeTestIndex(t, "testrepo", []pkgdb.Listing{
		{ID: mustID(t, "foo@1.0.0")},
		{ID: mustID(t, "gone@0.1.0")},
	})
	srv := &indexServer{path: index, etag: `"e1"`}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	db := openTestDB(t)
	sync := NewSyncer(db)
	if _, err := sync.Add(context.Background(), ts.URL); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// The remote drops "gone" and adds a newer foo.
	srv.path = writeTestIndex(t, "testrepo", []pkgdb.Listing{
		{ID: mustID(t, "foo@1.0.0")},
		{ID: mustID(t, "foo@1.1.0")},
	})
	srv.etag = `"e2"`

	rem, err := db.GetRemote("testrepo")
	if err != nil {
		t.Fatalf("GetRemote failed: %v", err)
	}
	if err := sync.Update(context.Background(), rem); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	all, err := db.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	var names []string
	for _, l := range all {
		names = append(names, l.ID.String())
	}
	if len(all) != 2 || names[0] != "foo@1.0.0" || names[1] != "foo@1.1.0" {
		t.Errorf("after update have %v, want exactly the new index contents", names)
	}
}

func TestImportIsAllOrNothing(t *testing.T) {
	index := writeTestIndex(t, "testrepo", []pkgdb.Listing{
		{ID: mustID(t, "foo@1.0.0")},
		{ID: mustID(t, "bar@1.0.0")},
	})
	srv := &indexServer{path: index, etag: `"e1"`}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	db := openTestDB(t)
	sync := NewSyncer(db)
	if _, err := sync.Add(context.Background(), ts.URL); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Publish a poisoned index: a duplicated dependency row, legal in
	// the index itself but violating the local UNIQUE(pkg_id, dep_name)
	// constraint mid-import.
	bad := srv.path + ".bad"
	if err := copyFile(srv.path, bad); err != nil {
		t.Fatalf("failed to copy index: %v", err)
	}
	poison, err := sql.Open("sqlite", bad)
	if err != nil {
		t.Fatalf("failed to open poisoned index: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := poison.Exec(
			"INSERT INTO repo_package_deps (package_id, dep_name, low, high) VALUES (1, 'dup', '1.0.0', '2.0.0')"); err != nil {
			t.Fatalf("failed to poison index: %v", err)
		}
	}
	poison.Close()
	srv.path = bad
	srv.etag = `"e2"`

	rem, err := db.GetRemote("testrepo")
	if err != nil {
		t.Fatalf("GetRemote failed: %v", err)
	}
	if err := sync.Update(context.Background(), rem); err == nil {
		t.Fatal("Update should fail on a poisoned index")
	}

	// All-or-nothing: the original import must be intact.
	all, err := db.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("failed import must roll back completely, have %d rows", len(all))
	}

	// And the validators must not advance past the failed import.
	rem, err = db.GetRemote("testrepo")
	if err != nil {
		t.Fatalf("GetRemote failed: %v", err)
	}
	if rem.ETag != `"e1"` {
		t.Errorf("ETag advanced to %q despite a failed import", rem.ETag)
	}
}

func TestUpdateAllCompacts(t *testing.T) {
	index := writeTestIndex(t, "testrepo", []pkgdb.Listing{
		{ID: mustID(t, "foo@1.0.0")},
	})
	srv := &indexServer{path: index, etag: `"e1"`}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	db := openTestDB(t)
	sync := NewSyncer(db)
	if _, err := sync.Add(context.Background(), ts.URL); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := sync.UpdateAll(context.Background()); err != nil {
		t.Fatalf("UpdateAll failed: %v", err)
	}
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
