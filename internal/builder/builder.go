// Package builder drives a whole build invocation: it resolves the root
// project's dependencies, gathers the source distributions, freezes the
// usage-requirements map, plans the graph, and runs the four stages in
// order with the compilation database deciding what may be skipped.
package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/blackwell-systems/crucible/internal/cache"
	"github.com/blackwell-systems/crucible/internal/compdb"
	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/output"
	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/plan"
	"github.com/blackwell-systems/crucible/internal/sdist"
	"github.com/blackwell-systems/crucible/internal/solve"
	"github.com/blackwell-systems/crucible/internal/source"
	"github.com/blackwell-systems/crucible/internal/toolchain"
)

// Options configures one build invocation.
type Options struct {
	// ProjectDir is the root project's source distribution.
	ProjectDir string
	// OutDir is the build output root; the compilation database lives
	// inside it.
	OutDir string

	Toolchain *toolchain.Toolchain
	DB        *pkgdb.DB
	Cache     *cache.Cache

	Jobs       int
	NoTests    bool
	NoApps     bool
	NoWarnings bool
	Export     bool
	Quiet      bool

	// Runner overrides how external commands are spawned (tests use a
	// fake); nil means real subprocesses.
	Runner plan.CommandRunner
}

// Build runs the full pipeline for the project at Options.ProjectDir.
// Test results, when tests ran, are returned for rendering even when the
// test stage fails.
func Build(ctx context.Context, opts Options) ([]plan.TestResult, error) {
	if opts.Jobs <= 0 {
		opts.Jobs = runtime.NumCPU()
	}
	if opts.Toolchain == nil {
		opts.Toolchain = toolchain.DefaultGNU()
	}

	root, err := sdist.Load(opts.ProjectDir)
	if err != nil {
		return nil, err
	}

	sdists, err := gatherSDists(root, opts)
	if err != nil {
		return nil, err
	}

	pkgs, err := collectPackages(sdists, opts)
	if err != nil {
		return nil, err
	}
	pkgs, err = prepareTestDrivers(opts.OutDir, pkgs)
	if err != nil {
		return nil, err
	}

	ureqs, err := freezeUsageMap(pkgs, opts)
	if err != nil {
		return nil, err
	}

	params := plan.Params{
		Toolchain:      opts.Toolchain,
		OutRoot:        opts.OutDir,
		Jobs:           opts.Jobs,
		EnableTests:    !opts.NoTests,
		EnableApps:     !opts.NoApps,
		EnableWarnings: !opts.NoWarnings,
	}
	bp, err := plan.New(pkgs, ureqs, params)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create build output root %s: %v", errs.ErrIO, opts.OutDir, err)
	}
	db, err := compdb.Open(filepath.Join(opts.OutDir, compdb.Filename))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	runner := opts.Runner
	if runner == nil {
		runner = plan.ExecRunner
	}
	env := &plan.Env{DB: db, Runner: runner}
	if !opts.Quiet {
		var barOnce sync.Once
		var bar *output.ProgressBar
		env.OnCompileProgress = func(done, total int) {
			barOnce.Do(func() { bar = output.NewProgress(total, "Compiling") })
			bar.Increment()
			if done == total {
				bar.Finish()
			}
		}
	}

	// Stage barrier: a failed stage stops the pipeline.
	if err := bp.CompileAll(ctx, env); err != nil {
		return nil, err
	}
	if err := bp.ArchiveAll(ctx, env); err != nil {
		return nil, err
	}
	if err := bp.LinkAll(ctx, env); err != nil {
		return nil, err
	}

	if !opts.Quiet {
		var artifacts []string
		for _, node := range bp.Archives() {
			artifacts = append(artifacts, node.Archive)
		}
		for _, node := range bp.Links() {
			artifacts = append(artifacts, node.Output)
		}
		fmt.Print(output.RenderArtifactSummary(artifacts))
	}

	var results []plan.TestResult
	if !opts.NoTests {
		results, err = bp.RunAllTests(ctx, env)
		if err != nil {
			return results, err
		}
	}

	if opts.Export {
		if err := exportProject(root, bp, ureqs, opts); err != nil {
			return results, err
		}
	}
	return results, nil
}

// gatherSDists resolves the root manifest's dependencies and collects
// the source distributions to build: the project itself plus one cache
// entry per solved package.
func gatherSDists(root *sdist.SDist, opts Options) ([]*sdist.SDist, error) {
	sdists := []*sdist.SDist{root}
	if len(root.Manifest.Depends) == 0 {
		return sdists, nil
	}

	solved, err := solve.Solve(root.Manifest.Depends, &oracle{db: opts.DB, cache: opts.Cache})
	if err != nil {
		return nil, err
	}
	for _, id := range solved {
		sd, err := opts.Cache.Get(id)
		if err != nil {
			return nil, err
		}
		if sd == nil {
			return nil, fmt.Errorf("%w: dependency %s is not in the package cache (import it with 'crucible pkg import')", errs.ErrUser, id)
		}
		sdists = append(sdists, sd)
	}
	return sdists, nil
}

// collectPackages walks each distribution for its libraries.
func collectPackages(sdists []*sdist.SDist, opts Options) ([]*plan.Package, error) {
	var pkgs []*plan.Package
	for _, sd := range sdists {
		libs, err := sd.CollectLibraries()
		if err != nil {
			return nil, err
		}
		pkgs = append(pkgs, &plan.Package{
			Name:      sd.ID().Name,
			Namespace: sd.Manifest.Namespace,
			Libraries: libs,
		})
	}
	return pkgs, nil
}

// freezeUsageMap builds the read-only usage-requirements map: one entry
// per library keyed "namespace/name", with transitive uses expanded.
// Execution never mutates it.
func freezeUsageMap(pkgs []*plan.Package, opts Options) (plan.UsageMap, error) {
	ureqs := plan.UsageMap{}
	for _, pkg := range pkgs {
		for _, lib := range pkg.Libraries {
			req := plan.UsageReq{
				IncludeDirs: []string{lib.IncludeRoot},
				Uses:        lib.Uses,
				Links:       lib.Links,
			}
			linkable, err := libraryLinkable(pkg, lib, opts)
			if err != nil {
				return nil, err
			}
			req.Linkable = linkable
			ureqs[lib.QualifiedName()] = req
		}
	}

	// Expand each entry's uses to the transitive closure now that every
	// key is registered; unknown keys surface here, before planning.
	for key, req := range ureqs {
		expanded, err := ureqs.TransitiveUses(req.Uses)
		if err != nil {
			return nil, err
		}
		req.Uses = expanded
		ureqs[key] = req
	}
	return ureqs, nil
}

// libraryLinkable returns the archive path a consumer links, or "" for a
// header-only library.
func libraryLinkable(pkg *plan.Package, lib *sdist.Library, opts Options) (string, error) {
	files, err := lib.Sources()
	if err != nil {
		return "", err
	}
	for _, f := range files {
		if f.Kind == source.Source {
			libDir := filepath.Join(opts.OutDir, pkg.Name, lib.Name)
			return opts.Toolchain.ArchivePath(libDir, lib.Name), nil
		}
	}
	return "", nil
}
