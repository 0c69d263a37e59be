package plan

import (
	"path/filepath"
	"strings"

	"github.com/blackwell-systems/crucible/internal/sdist"
	"github.com/blackwell-systems/crucible/internal/source"
	"github.com/blackwell-systems/crucible/internal/toolchain"
)

// Synthetic usage keys registered when a package declares a test driver.
// Their headers (and for Catch-Main, a prebuilt main object) are
// materialized once under the build output root.
const (
	DriverCatchKey     = ".crucible/Catch"
	DriverCatchMainKey = ".crucible/Catch-Main"
)

// Params configures planning and execution for one build invocation.
type Params struct {
	Toolchain      *toolchain.Toolchain
	OutRoot        string
	Jobs           int
	EnableTests    bool
	EnableApps     bool
	EnableWarnings bool
}

// Package is one sdist's contribution to the plan.
type Package struct {
	Name      string
	Namespace string
	Libraries []*sdist.Library
}

// CompileFilePlan is one planned compile. CommandStr is the verbatim
// string the compilation database compares for staleness; the command
// itself targets TempObject, which is renamed onto Object on success.
type CompileFilePlan struct {
	Source     sdist.SourceFile
	Object     string
	TempObject string
	Depfile    string
	Command    []string
	CommandStr string
}

// ArchivePlan collects a library's non-test, non-app objects into a
// static archive.
type ArchivePlan struct {
	Library string
	Objects []string
	Archive string
}

// LinkKind distinguishes the two executable node flavors.
type LinkKind int

const (
	LinkApp LinkKind = iota
	LinkTest
)

// LinkPlan links one test or app entry object against its transitive
// archives, already in linker order.
type LinkPlan struct {
	Kind   LinkKind
	Entry  *CompileFilePlan
	Inputs []string
	Output string
}

// LibraryPlan is the planned work of one library.
type LibraryPlan struct {
	Library  *sdist.Library
	Compiles []*CompileFilePlan
	Archive  *ArchivePlan
	Links    []*LinkPlan
}

// PackagePlan groups a package's library plans.
type PackagePlan struct {
	Name      string
	Namespace string
	Libraries []*LibraryPlan
}

// BuildPlan is the full planned graph for one invocation. The planner
// owns it; the execution engine reads it and records results into the
// compilation database only.
type BuildPlan struct {
	Packages []*PackagePlan
	Params   Params
}

// New plans the build of pkgs against the frozen usage-requirements map.
func New(pkgs []*Package, ureqs UsageMap, params Params) (*BuildPlan, error) {
	bp := &BuildPlan{Params: params}
	for _, pkg := range pkgs {
		pp := &PackagePlan{Name: pkg.Name, Namespace: pkg.Namespace}
		for _, lib := range pkg.Libraries {
			lp, err := planLibrary(pkg, lib, ureqs, params)
			if err != nil {
				return nil, err
			}
			pp.Libraries = append(pp.Libraries, lp)
		}
		bp.Packages = append(bp.Packages, pp)
	}
	return bp, nil
}

func planLibrary(pkg *Package, lib *sdist.Library, ureqs UsageMap, params Params) (*LibraryPlan, error) {
	tc := params.Toolchain
	libDir := filepath.Join(params.OutRoot, pkg.Name, lib.Name)

	includes, err := libraryIncludes(lib, ureqs)
	if err != nil {
		return nil, err
	}

	// Test sources additionally see the test driver's headers.
	testIncludes := includes
	driverKey := ""
	switch lib.TestDriver {
	case sdist.TestDriverCatch:
		driverKey = DriverCatchKey
	case sdist.TestDriverCatchMain:
		driverKey = DriverCatchMainKey
	}
	if driverKey != "" {
		extra, err := usageIncludes(ureqs, []string{driverKey})
		if err != nil {
			return nil, err
		}
		testIncludes = append(append([]string{}, includes...), extra...)
	}

	files, err := lib.Sources()
	if err != nil {
		return nil, err
	}

	lp := &LibraryPlan{Library: lib}
	var archiveObjects []string
	var entries []*CompileFilePlan

	for _, file := range files {
		switch file.Kind {
		case source.Header:
			continue
		case source.TestSource:
			if !params.EnableTests {
				continue
			}
		case source.AppSource:
			if !params.EnableApps {
				continue
			}
		}

		spec := toolchain.CompileSpec{
			Source:         file.Path,
			IncludeDirs:    includes,
			EnableWarnings: params.EnableWarnings,
		}
		if file.Kind == source.TestSource {
			spec.IncludeDirs = testIncludes
		}

		object := tc.ObjectPath(libDir, lib.SourceRoot, file.Path)
		spec.Object = object + ".tmp"
		cmd := tc.CompileCommand(spec)

		cp := &CompileFilePlan{
			Source:     file,
			Object:     object,
			TempObject: spec.Object,
			Depfile:    tc.DepfilePath(spec.Object),
			Command:    cmd,
			CommandStr: toolchain.CommandString(cmd),
		}
		lp.Compiles = append(lp.Compiles, cp)

		switch file.Kind {
		case source.Source:
			archiveObjects = append(archiveObjects, object)
		case source.TestSource, source.AppSource:
			entries = append(entries, cp)
		}
	}

	if len(archiveObjects) > 0 {
		lp.Archive = &ArchivePlan{
			Library: lib.QualifiedName(),
			Objects: archiveObjects,
			Archive: tc.ArchivePath(libDir, lib.Name),
		}
	}

	for _, entry := range entries {
		link, err := planLink(lp, entry, driverKey, ureqs, libDir)
		if err != nil {
			return nil, err
		}
		lp.Links = append(lp.Links, link)
	}
	return lp, nil
}

// libraryIncludes is the include-path set for the library's own
// compiles: its own roots plus every transitive use's exported dirs.
func libraryIncludes(lib *sdist.Library, ureqs UsageMap) ([]string, error) {
	includes := []string{lib.IncludeRoot}
	if lib.SourceRoot != "" && lib.SourceRoot != lib.IncludeRoot {
		includes = append(includes, lib.SourceRoot)
	}
	extra, err := usageIncludes(ureqs, lib.Uses)
	if err != nil {
		return nil, err
	}
	return append(includes, extra...), nil
}

func usageIncludes(ureqs UsageMap, keys []string) ([]string, error) {
	expanded, err := ureqs.TransitiveUses(keys)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, key := range expanded {
		req, err := ureqs.Get(key)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, req.IncludeDirs...)
	}
	return dirs, nil
}

// planLink assembles one executable node: the entry object, the
// library's own archive, then the transitive link closure in linker
// order.
func planLink(lp *LibraryPlan, entry *CompileFilePlan, driverKey string, ureqs UsageMap, libDir string) (*LinkPlan, error) {
	kind := LinkApp
	if entry.Source.Kind == source.TestSource {
		kind = LinkTest
	}

	inputs := []string{entry.Object}
	if lp.Archive != nil {
		inputs = append(inputs, lp.Archive.Archive)
	}

	keys := append([]string{}, lp.Library.Uses...)
	keys = append(keys, lp.Library.Links...)
	if kind == LinkTest && driverKey != "" {
		keys = append(keys, driverKey)
	}
	ordered, err := ureqs.TopoLinks(keys)
	if err != nil {
		return nil, err
	}
	for _, key := range ordered {
		req, err := ureqs.Get(key)
		if err != nil {
			return nil, err
		}
		if req.Linkable != "" {
			inputs = append(inputs, req.Linkable)
		}
	}

	base := filepath.Base(entry.Source.Path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return &LinkPlan{
		Kind:   kind,
		Entry:  entry,
		Inputs: inputs,
		Output: filepath.Join(libDir, stem),
	}, nil
}

// Compiles enumerates every compile node in the plan.
func (bp *BuildPlan) Compiles() []*CompileFilePlan {
	var out []*CompileFilePlan
	for _, pp := range bp.Packages {
		for _, lp := range pp.Libraries {
			out = append(out, lp.Compiles...)
		}
	}
	return out
}

// Archives enumerates every archive node in the plan.
func (bp *BuildPlan) Archives() []*ArchivePlan {
	var out []*ArchivePlan
	for _, pp := range bp.Packages {
		for _, lp := range pp.Libraries {
			if lp.Archive != nil {
				out = append(out, lp.Archive)
			}
		}
	}
	return out
}

// Links enumerates every link node in the plan.
func (bp *BuildPlan) Links() []*LinkPlan {
	var out []*LinkPlan
	for _, pp := range bp.Packages {
		for _, lp := range pp.Libraries {
			out = append(out, lp.Links...)
		}
	}
	return out
}
