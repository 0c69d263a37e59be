// Package source classifies project files by suffix convention. The
// classification is the only file-taxonomy contract the planner and the
// execution engine rely on.
package source

import (
	"path/filepath"
	"strings"
)

// Kind is the classification of a project file.
type Kind int

const (
	// Unknown files are neither headers nor compilable sources and are
	// ignored by the planner.
	Unknown Kind = iota
	// Header files contribute include content and never compile.
	Header
	// Source files compile into objects that join the library archive.
	Source
	// TestSource files (stem ending in ".test") compile and link into a
	// test executable, only when tests are enabled.
	TestSource
	// AppSource files (stem ending in ".main") compile and link into an
	// application executable, only when apps are enabled.
	AppSource
)

func (k Kind) String() string {
	switch k {
	case Header:
		return "header"
	case Source:
		return "source"
	case TestSource:
		return "test_source"
	case AppSource:
		return "app_source"
	default:
		return "unknown"
	}
}

var headerExts = map[string]bool{
	".h":   true,
	".hpp": true,
	".hxx": true,
	".h++": true,
	".hh":  true,
	".inl": true,
	".ipp": true,
}

var sourceExts = map[string]bool{
	".c":   true,
	".cpp": true,
	".cxx": true,
	".c++": true,
	".cc":  true,
}

// Classify maps a path to its Kind. It is pure: the same path always
// yields the same result, and only the file name is consulted.
func Classify(path string) Kind {
	base := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(base))
	switch {
	case headerExts[ext]:
		return Header
	case sourceExts[ext]:
		stem := strings.TrimSuffix(base, filepath.Ext(base))
		switch {
		case strings.HasSuffix(stem, ".test"):
			return TestSource
		case strings.HasSuffix(stem, ".main"):
			return AppSource
		default:
			return Source
		}
	default:
		return Unknown
	}
}
