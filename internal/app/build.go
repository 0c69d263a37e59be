package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/crucible/internal/builder"
	"github.com/blackwell-systems/crucible/internal/cache"
	"github.com/blackwell-systems/crucible/internal/output"
	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/watcher"
)

var (
	buildProject    string
	buildOut        string
	buildJobs       int
	buildNoTests    bool
	buildNoApps     bool
	buildNoWarnings bool
	buildExport     bool
	buildWatch      bool
	buildQuiet      bool

	buildCmd = &cobra.Command{
		Use:   "build",
		Short: "Compile, archive, link and test the current project",
		Long: `Build the project: resolve its dependencies against the package
database and the local cache, plan the compile/archive/link/test graph,
and execute it with bounded parallelism.

Unchanged translation units are skipped using the compilation database
under the output root: a source is recompiled only when its planned
command changed, or when it or any header it included was modified.

Interrupting a build (Ctrl-C) lets in-flight compiles finish; outputs
are written to temporary paths and renamed, so a cancelled build never
leaves a torn object behind.`,
		Example: `  # Build with defaults (output under ./_build)
  crucible build

  # Faster iteration: skip tests and warnings
  crucible build --no-tests --no-warnings

  # Export the built package for consumers
  crucible build --export

  # Rebuild on every source change
  crucible build --watch`,
		RunE: runBuild,
	}
)

func init() {
	buildCmd.Flags().StringVar(&buildProject, "project", ".", "project directory to build")
	buildCmd.Flags().StringVar(&buildOut, "out", "_build", "build output directory")
	buildCmd.Flags().IntVar(&buildJobs, "jobs", runtime.NumCPU(), "maximum parallel jobs")
	buildCmd.Flags().BoolVar(&buildNoTests, "no-tests", false, "do not compile or run tests")
	buildCmd.Flags().BoolVar(&buildNoApps, "no-apps", false, "do not compile applications")
	buildCmd.Flags().BoolVar(&buildNoWarnings, "no-warnings", false, "disable compiler warnings")
	buildCmd.Flags().BoolVar(&buildExport, "export", false, "export the built package as <out>/<name>.lpk")
	buildCmd.Flags().BoolVar(&buildWatch, "watch", false, "rebuild automatically when sources change")
	buildCmd.Flags().BoolVar(&buildQuiet, "quiet", false, "suppress progress output")
}

func runBuild(cmd *cobra.Command, args []string) error {
	dbPath, err := getDBPath()
	if err != nil {
		return err
	}
	db, err := pkgdb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	cacheRoot, err := getCacheDir()
	if err != nil {
		return err
	}
	pc, err := cache.Open(cacheRoot, cache.Read)
	if err != nil {
		return err
	}
	defer pc.Close()

	// SIGINT flips the context; stages poll it between nodes.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	opts := builder.Options{
		ProjectDir: buildProject,
		OutDir:     buildOut,
		DB:         db,
		Cache:      pc,
		Jobs:       buildJobs,
		NoTests:    buildNoTests,
		NoApps:     buildNoApps,
		NoWarnings: buildNoWarnings,
		Export:     buildExport,
		Quiet:      buildQuiet,
	}

	if !buildWatch {
		return buildOnce(ctx, opts)
	}

	// Watch mode: build, then rebuild on each debounced change until
	// interrupted.
	if err := buildOnce(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	w, err := watcher.New(buildProject)
	if err != nil {
		return err
	}
	defer w.Close()

	fmt.Println("Watching for changes; press Ctrl-C to stop.")
	err = w.Run(ctx, func() {
		if err := buildOnce(ctx, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func buildOnce(ctx context.Context, opts builder.Options) error {
	results, err := builder.Build(ctx, opts)
	if len(results) > 0 && !opts.Quiet {
		fmt.Print(output.RenderTestResults(results))
	}
	return err
}
