package output

import (
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"

	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/pkgid"
	"github.com/blackwell-systems/crucible/internal/plan"
)

func listing(t *testing.T, id, desc string, deps int) pkgdb.Listing {
	t.Helper()
	parsed, err := pkgid.Parse(id)
	if err != nil {
		t.Fatalf("bad test id %q: %v", id, err)
	}
	l := pkgdb.Listing{ID: parsed, Description: desc}
	for i := 0; i < deps; i++ {
		low := semver.MustParse("1.0.0")
		l.Deps = append(l.Deps, pkgid.Dependency{Name: "dep", Interval: pkgid.Interval{Low: low}})
	}
	return l
}

func TestRenderListingTable(t *testing.T) {
	tests := []struct {
		name     string
		listings []pkgdb.Listing
		contains []string
	}{
		{
			name:     "empty",
			contains: []string{"No packages known"},
		},
		{
			name: "rows",
			listings: []pkgdb.Listing{
				listing(t, "fmt@8.1.1", "formatting library", 0),
				listing(t, "spdlog@1.9.2", "fast logging", 1),
			},
			contains: []string{"fmt", "8.1.1", "spdlog", "fast logging"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RenderListingTable(tt.listings)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("table missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestRenderRemoteTable(t *testing.T) {
	got := RenderRemoteTable(nil)
	if !strings.Contains(got, "No remotes registered") {
		t.Errorf("empty table should hint at repo add, got:\n%s", got)
	}

	got = RenderRemoteTable([]pkgdb.Remote{{Name: "main", URL: "https://pkgs.example.com"}})
	for _, want := range []string{"main", "https://pkgs.example.com"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
}

func TestRenderTestResults(t *testing.T) {
	results := []plan.TestResult{
		{Path: "out/foo/foo.test", ExitCode: 0, Output: "all good\n"},
		{Path: "out/foo/bar.test", ExitCode: 1, Output: "assertion failed at bar.cpp:7\n"},
	}
	got := RenderTestResults(results)

	for _, want := range []string{"PASS", "FAIL", "out/foo/bar.test", "assertion failed at bar.cpp:7", "1/2 tests passed"} {
		if !strings.Contains(got, want) {
			t.Errorf("results missing %q:\n%s", want, got)
		}
	}
	// Passing tests do not dump their output.
	if strings.Contains(got, "all good") {
		t.Errorf("passing test output should be suppressed:\n%s", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-ten", 11, "exactly-ten"},
		{"a-very-long-package-name", 10, "a-very-..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
