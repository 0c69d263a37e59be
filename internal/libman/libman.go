// Package libman writes the exported library and package descriptors:
// plain key-value text files consumed by build systems that import a
// built package ("*.lml" per library, "package.lmp" per package).
package libman

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blackwell-systems/crucible/internal/errs"
)

// Library is the exported description of one built library. Paths are
// relative to the descriptor file.
type Library struct {
	Name string
	// IncludePath is the public include root.
	IncludePath string
	// Path is the built archive; empty for header-only libraries.
	Path  string
	Uses  []string
	Links []string
}

// WriteLibrary writes the ".lml" descriptor for lib at path.
func WriteLibrary(path string, lib Library) error {
	var sb strings.Builder
	writeKV(&sb, "Type", "Library")
	writeKV(&sb, "Name", lib.Name)
	if lib.IncludePath != "" {
		writeKV(&sb, "Include-Path", lib.IncludePath)
	}
	if lib.Path != "" {
		writeKV(&sb, "Path", lib.Path)
	}
	for _, use := range lib.Uses {
		writeKV(&sb, "Uses", use)
	}
	for _, link := range lib.Links {
		writeKV(&sb, "Links", link)
	}
	return writeFile(path, sb.String())
}

// WritePackage writes the "package.lmp" descriptor at path.
func WritePackage(path, name, namespace string) error {
	var sb strings.Builder
	writeKV(&sb, "Type", "Package")
	writeKV(&sb, "Name", name)
	writeKV(&sb, "Namespace", namespace)
	return writeFile(path, sb.String())
}

func writeKV(sb *strings.Builder, key, value string) {
	fmt.Fprintf(sb, "%s: %s\n", key, value)
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: failed to create directory for %s: %v", errs.ErrIO, path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", errs.ErrIO, path, err)
	}
	return nil
}
