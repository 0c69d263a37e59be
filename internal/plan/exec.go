package plan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/crucible/internal/compdb"
	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/toolchain"
)

// CommandRunner executes one external command and returns its combined
// output. Tests substitute a fake; the default spawns the process.
type CommandRunner func(ctx context.Context, argv []string) (string, error)

// ExecRunner runs argv as a subprocess. In-flight processes are allowed
// to finish on cancellation; outputs are atomic, so a finished process
// never leaves a half-written artifact behind.
func ExecRunner(ctx context.Context, argv []string) (string, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// Env is the execution environment shared by all stages of one build.
type Env struct {
	DB     *compdb.DB
	Runner CommandRunner
	// OnCompileProgress, when set, is called after each compile node
	// finishes with the completed and total stale counts.
	OnCompileProgress func(done, total int)
}

// TestResult is the captured outcome of one executed test binary.
type TestResult struct {
	Path     string
	ExitCode int
	Output   string
}

// UpToDate applies the staleness rule to one compile node: the object
// exists, the recorded command equals the planned command verbatim, a
// non-empty input set is recorded, and no recorded input has been
// modified since. Anything else means rebuild.
func UpToDate(db *compdb.DB, node *CompileFilePlan) (bool, error) {
	if _, err := os.Stat(node.Object); err != nil {
		return false, nil
	}
	rec, err := db.CommandOf(node.Source.Path)
	if err != nil {
		return false, err
	}
	if rec == nil || rec.Command != node.CommandStr {
		return false, nil
	}
	inputs, err := db.InputsOf(node.Object)
	if err != nil {
		return false, err
	}
	if len(inputs) == 0 {
		// The dependency set is populated lazily; a first-ever compile
		// has none recorded and must run.
		return false, nil
	}
	for _, in := range inputs {
		info, err := os.Stat(in.InputPath)
		if err != nil {
			return false, nil
		}
		if info.ModTime().After(in.MTime) {
			return false, nil
		}
	}
	return true, nil
}

// CompileAll compiles every stale node with a worker pool of
// Params.Jobs. Failed nodes do not stop peers; the stage runs to
// completion and surfaces one aggregated error.
func (bp *BuildPlan) CompileAll(ctx context.Context, env *Env) error {
	var stale []*CompileFilePlan
	for _, node := range bp.Compiles() {
		ok, err := UpToDate(env.DB, node)
		if err != nil {
			return err
		}
		if !ok {
			stale = append(stale, node)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	var (
		mu       sync.Mutex
		done     int
		failures []*NodeFailure
	)
	g := new(errgroup.Group)
	g.SetLimit(bp.Params.Jobs)
	for _, node := range stale {
		node := node
		// Cancellation is polled between nodes; in-flight compiles run
		// to completion.
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fail := compileOne(ctx, env, node)
			mu.Lock()
			if fail != nil {
				failures = append(failures, fail)
			}
			done++
			completed := done
			mu.Unlock()
			if env.OnCompileProgress != nil {
				env.OnCompileProgress(completed, len(stale))
			}
			return nil
		})
	}
	g.Wait()

	if len(failures) > 0 {
		return &StageError{Stage: "compile", Failures: failures}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("compile stage: %w", errs.ErrCancelled)
	}
	return nil
}

// compileOne runs a single compile node and, on success, refreshes the
// compilation database: the freshly observed input set replaces the old
// one, then the compilation record itself is stored.
func compileOne(ctx context.Context, env *Env, node *CompileFilePlan) *NodeFailure {
	if err := os.MkdirAll(filepath.Dir(node.Object), 0755); err != nil {
		return &NodeFailure{Node: node.Source.Path, Err: err, ExitCode: -1, Output: err.Error()}
	}

	start := time.Now()
	out, err := env.Runner(ctx, node.Command)
	duration := time.Since(start)
	if err != nil {
		return &NodeFailure{
			Node:     node.Source.Path,
			Command:  node.CommandStr,
			Output:   out,
			ExitCode: exitCode(err),
			Err:      err,
		}
	}

	if err := os.Rename(node.TempObject, node.Object); err != nil {
		return &NodeFailure{Node: node.Source.Path, Command: node.CommandStr, Output: err.Error(), ExitCode: -1, Err: err}
	}

	inputs := readDepfile(node)
	if err := env.DB.ForgetInputs(node.Object); err != nil {
		fmt.Fprintf(os.Stderr, "crucible: %v\n", err)
	}
	for _, input := range inputs {
		info, statErr := os.Stat(input)
		if statErr != nil {
			continue
		}
		if err := env.DB.RecordInput(node.Object, input, info.ModTime()); err != nil {
			fmt.Fprintf(os.Stderr, "crucible: %v\n", err)
		}
	}
	if err := env.DB.RecordCompilation(node.Source.Path, node.CommandStr, out, duration); err != nil {
		fmt.Fprintf(os.Stderr, "crucible: %v\n", err)
	}
	return nil
}

// readDepfile parses the compiler's dependency output for node. Without
// one (or with an unreadable one) the source file itself is the input
// set, so the node still records a non-empty set.
func readDepfile(node *CompileFilePlan) []string {
	data, err := os.ReadFile(node.Depfile)
	if err != nil {
		return []string{node.Source.Path}
	}
	os.Remove(node.Depfile)
	inputs, err := toolchain.ParseDepfile(string(data))
	if err != nil || len(inputs) == 0 {
		return []string{node.Source.Path}
	}
	return inputs
}

// ArchiveAll runs the archiver for every library whose archive is
// missing or older than any member object.
func (bp *BuildPlan) ArchiveAll(ctx context.Context, env *Env) error {
	var failures []*NodeFailure
	for _, node := range bp.Archives() {
		if ctx.Err() != nil {
			break
		}
		fresh, err := outputFresh(node.Archive, node.Objects)
		if err != nil {
			return err
		}
		if fresh {
			continue
		}

		tmp := node.Archive + ".tmp"
		os.Remove(tmp)
		argv := bp.Params.Toolchain.ArchiveCommand(node.Objects, tmp)
		out, err := env.Runner(ctx, argv)
		if err == nil {
			err = os.Rename(tmp, node.Archive)
		}
		if err != nil {
			failures = append(failures, &NodeFailure{
				Node:     node.Library,
				Command:  toolchain.CommandString(argv),
				Output:   out,
				ExitCode: exitCode(err),
				Err:      err,
			})
		}
	}
	if len(failures) > 0 {
		return &StageError{Stage: "archive", Failures: failures}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("archive stage: %w", errs.ErrCancelled)
	}
	return nil
}

// LinkAll links every test and app node whose output is missing or
// older than any input.
func (bp *BuildPlan) LinkAll(ctx context.Context, env *Env) error {
	var failures []*NodeFailure
	for _, node := range bp.Links() {
		if ctx.Err() != nil {
			break
		}
		fresh, err := outputFresh(node.Output, node.Inputs)
		if err != nil {
			return err
		}
		if fresh {
			continue
		}

		tmp := node.Output + ".tmp"
		os.Remove(tmp)
		argv := bp.Params.Toolchain.LinkCommand(node.Inputs, tmp)
		out, err := env.Runner(ctx, argv)
		if err == nil {
			err = os.Chmod(tmp, 0755)
		}
		if err == nil {
			err = os.Rename(tmp, node.Output)
		}
		if err != nil {
			failures = append(failures, &NodeFailure{
				Node:     node.Output,
				Command:  toolchain.CommandString(argv),
				Output:   out,
				ExitCode: exitCode(err),
				Err:      err,
			})
		}
	}
	if len(failures) > 0 {
		return &StageError{Stage: "link", Failures: failures}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("link stage: %w", errs.ErrCancelled)
	}
	return nil
}

// RunAllTests executes every linked test binary, up to Params.Jobs at a
// time, capturing output. Any nonzero exit is a test failure; all
// results are returned for reporting either way.
func (bp *BuildPlan) RunAllTests(ctx context.Context, env *Env) ([]TestResult, error) {
	var tests []*LinkPlan
	for _, node := range bp.Links() {
		if node.Kind == LinkTest {
			tests = append(tests, node)
		}
	}
	if len(tests) == 0 {
		return nil, nil
	}

	results := make([]TestResult, len(tests))
	g := new(errgroup.Group)
	g.SetLimit(bp.Params.Jobs)
	for i, node := range tests {
		i, node := i, node
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := env.Runner(ctx, []string{node.Output})
			results[i] = TestResult{Path: node.Output, ExitCode: exitCode(err), Output: out}
			return nil
		})
	}
	g.Wait()
	if ctx.Err() != nil {
		return results, fmt.Errorf("test stage: %w", errs.ErrCancelled)
	}

	var failures []*NodeFailure
	for _, res := range results {
		if res.ExitCode != 0 {
			failures = append(failures, &NodeFailure{
				Node:     res.Path,
				Output:   res.Output,
				ExitCode: res.ExitCode,
			})
		}
	}
	if len(failures) > 0 {
		return results, &StageError{Stage: "test", Failures: failures}
	}
	return results, nil
}

// outputFresh reports whether out exists and is no older than any input.
func outputFresh(out string, inputs []string) (bool, error) {
	info, err := os.Stat(out)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("%w: failed to stat %s: %v", errs.ErrIO, out, err)
	}
	for _, in := range inputs {
		inInfo, err := os.Stat(in)
		if err != nil {
			// A missing input means an earlier stage will recreate it;
			// rebuild to be safe.
			return false, nil
		}
		if inInfo.ModTime().After(info.ModTime()) {
			return false, nil
		}
	}
	return true, nil
}

// exitCode extracts a process exit code from a runner error; -1 when the
// process never ran. A nil error is exit 0.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
