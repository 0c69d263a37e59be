// Package toolchain assembles compiler, archiver and linker command
// lines. The build planner treats it as an opaque collaborator: it asks
// for argv vectors and for help reading the dependency files the
// compiler emits. Loading toolchain descriptions from configuration is
// out of scope; the default describes a GNU-style gcc/clang toolchain.
package toolchain

import (
	"path/filepath"
	"strings"
)

// DepsMode selects how header dependencies are captured during a
// compile.
type DepsMode int

const (
	// DepsNone disables dependency capture; every compile node is
	// rebuilt each time.
	DepsNone DepsMode = iota
	// DepsGNU passes -MD/-MF and reads a Makefile-style .d file.
	DepsGNU
)

// Toolchain describes how to drive one compiler family.
type Toolchain struct {
	CCompiler   string
	CXXCompiler string
	// Archiver is the command prefix for creating a static archive,
	// e.g. {"ar", "rcs"}.
	Archiver []string
	// Linker is the executable-link driver, typically the C++ compiler.
	Linker string

	CFlags       []string
	CXXFlags     []string
	WarningFlags []string

	Deps DepsMode

	ObjectSuffix  string
	ArchivePrefix string
	ArchiveSuffix string
}

// DefaultGNU returns a gcc/clang-flavored toolchain.
func DefaultGNU() *Toolchain {
	return &Toolchain{
		CCompiler:     "cc",
		CXXCompiler:   "c++",
		Archiver:      []string{"ar", "rcs"},
		Linker:        "c++",
		CXXFlags:      []string{"-std=c++17", "-fPIC", "-pthread"},
		CFlags:        []string{"-fPIC", "-pthread"},
		WarningFlags:  []string{"-Wall", "-Wextra", "-Wpedantic"},
		Deps:          DepsGNU,
		ObjectSuffix:  ".o",
		ArchivePrefix: "lib",
		ArchiveSuffix: ".a",
	}
}

// CompileSpec is everything a single compile needs beyond the toolchain
// itself.
type CompileSpec struct {
	Source         string
	Object         string
	IncludeDirs    []string
	Defines        []string
	EnableWarnings bool
}

// cExtensions marks sources compiled with the C driver; everything else
// uses the C++ driver.
var cExtensions = map[string]bool{".c": true}

// CompileCommand builds the argv for one compile. With DepsGNU the
// command also writes a dependency file next to the object.
func (tc *Toolchain) CompileCommand(spec CompileSpec) []string {
	isC := cExtensions[strings.ToLower(filepath.Ext(spec.Source))]

	var argv []string
	if isC {
		argv = append(argv, tc.CCompiler)
		argv = append(argv, tc.CFlags...)
	} else {
		argv = append(argv, tc.CXXCompiler)
		argv = append(argv, tc.CXXFlags...)
	}
	if spec.EnableWarnings {
		argv = append(argv, tc.WarningFlags...)
	}
	for _, dir := range spec.IncludeDirs {
		argv = append(argv, "-I", dir)
	}
	for _, def := range spec.Defines {
		argv = append(argv, "-D", def)
	}
	if tc.Deps == DepsGNU {
		argv = append(argv, "-MD", "-MF", tc.DepfilePath(spec.Object))
	}
	argv = append(argv, "-c", spec.Source, "-o", spec.Object)
	return argv
}

// DepfilePath returns where the dependency file for object lands.
func (tc *Toolchain) DepfilePath(object string) string {
	return object + ".d"
}

// ArchiveCommand builds the argv that collects objects into archive.
func (tc *Toolchain) ArchiveCommand(objects []string, archive string) []string {
	argv := append([]string{}, tc.Archiver...)
	argv = append(argv, archive)
	argv = append(argv, objects...)
	return argv
}

// LinkCommand builds the argv that links inputs (objects first, then
// archives in topological order) into an executable.
func (tc *Toolchain) LinkCommand(inputs []string, output string) []string {
	argv := []string{tc.Linker}
	argv = append(argv, inputs...)
	argv = append(argv, "-o", output)
	return argv
}

// ObjectPath derives the object file path for a source file, relative to
// root, under outDir. The source-relative path is kept with the object
// suffix appended, so distinct sources can never collide.
func (tc *Toolchain) ObjectPath(outDir, root, src string) string {
	rel, err := filepath.Rel(root, src)
	if err != nil {
		rel = filepath.Base(src)
	}
	return filepath.Join(outDir, rel+tc.ObjectSuffix)
}

// ArchivePath derives the archive path for a library name under outDir.
func (tc *Toolchain) ArchivePath(outDir, name string) string {
	return filepath.Join(outDir, tc.ArchivePrefix+name+tc.ArchiveSuffix)
}

// CommandString renders an argv as the single string stored in (and
// compared against) the compilation database.
func CommandString(argv []string) string {
	return strings.Join(argv, " ")
}
