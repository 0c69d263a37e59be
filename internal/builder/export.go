package builder

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/libman"
	"github.com/blackwell-systems/crucible/internal/plan"
	"github.com/blackwell-systems/crucible/internal/sdist"
	"github.com/blackwell-systems/crucible/internal/source"
)

// exportProject writes <out>/<name>.lpk/ for the root package after a
// successful build: the package descriptor, and per library its public
// headers, its archive, and a libman descriptor with paths relative to
// the export root.
func exportProject(root *sdist.SDist, bp *plan.BuildPlan, ureqs plan.UsageMap, opts Options) error {
	exportRoot := filepath.Join(opts.OutDir, root.ID().Name+".lpk")
	if err := os.RemoveAll(exportRoot); err != nil {
		return fmt.Errorf("%w: failed to clear export root %s: %v", errs.ErrIO, exportRoot, err)
	}

	if err := libman.WritePackage(filepath.Join(exportRoot, "package.lmp"), root.ID().Name, root.Manifest.Namespace); err != nil {
		return err
	}

	var rootPlan *plan.PackagePlan
	for _, pp := range bp.Packages {
		if pp.Name == root.ID().Name {
			rootPlan = pp
			break
		}
	}
	if rootPlan == nil {
		return errs.Invariantf("root package %s missing from its own build plan", root.ID().Name)
	}

	for _, lp := range rootPlan.Libraries {
		lib := lp.Library
		libDir := filepath.Join(exportRoot, lib.Name)

		desc := libman.Library{
			Name:  lib.Name,
			Uses:  lib.Uses,
			Links: lib.Links,
		}

		includeDst := filepath.Join(libDir, "include")
		if err := copyHeaders(lib.IncludeRoot, includeDst); err != nil {
			return err
		}
		desc.IncludePath = "include"

		if lp.Archive != nil {
			archiveName := filepath.Base(lp.Archive.Archive)
			if err := copyRegular(lp.Archive.Archive, filepath.Join(libDir, archiveName)); err != nil {
				return err
			}
			desc.Path = archiveName
		}

		if err := libman.WriteLibrary(filepath.Join(libDir, lib.Name+".lml"), desc); err != nil {
			return err
		}
	}
	return nil
}

// copyHeaders copies only the header files under src, preserving layout.
func copyHeaders(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: failed to walk %s: %v", errs.ErrIO, src, err)
		}
		if d.IsDir() {
			return nil
		}
		if source.Classify(path) != source.Header {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("%w: failed to relativize %s: %v", errs.ErrIO, path, err)
		}
		return copyRegular(path, filepath.Join(dst, rel))
	})
}

func copyRegular(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", errs.ErrIO, filepath.Dir(dst), err)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: failed to open %s: %v", errs.ErrIO, src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", errs.ErrIO, dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("%w: failed to copy %s: %v", errs.ErrIO, src, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("%w: failed to finish %s: %v", errs.ErrIO, dst, err)
	}
	return nil
}
