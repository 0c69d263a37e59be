package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/crucible/internal/cache"
	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/output"
	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/sdist"
)

var (
	pkgImportIfExists string

	pkgCmd = &cobra.Command{
		Use:   "pkg",
		Short: "Inspect and manage packages",
	}

	pkgLsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List all known packages",
		Long: `List every package listing in the package database, as imported from
registered remotes or stored locally.`,
		RunE: runPkgLs,
	}

	pkgImportCmd = &cobra.Command{
		Use:   "import <path>...",
		Short: "Import local source distributions into the package cache",
		Long: `Import one or more extracted source distributions into the local
package cache, keyed by the name@version of each package.json5.

The import is atomic: the distribution is staged into a hidden temporary
directory inside the cache and renamed into place, so an interrupted
import never leaves a half-copied package under its canonical name.`,
		Example: `  # Import a vendored dependency
  crucible pkg import ./vendor/fmt-8.1.1

  # Re-import over an existing cache entry
  crucible pkg import ./vendor/fmt-8.1.1 --if-exists=replace`,
		Args: cobra.MinimumNArgs(1),
		RunE: runPkgImport,
	}
)

func init() {
	pkgImportCmd.Flags().StringVar(&pkgImportIfExists, "if-exists", "fail", "what to do when the package is already cached: fail, ignore or replace")
	pkgCmd.AddCommand(pkgLsCmd)
	pkgCmd.AddCommand(pkgImportCmd)
}

func runPkgLs(cmd *cobra.Command, args []string) error {
	dbPath, err := getDBPath()
	if err != nil {
		return err
	}
	db, err := pkgdb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	listings, err := db.All()
	if err != nil {
		return err
	}
	fmt.Print(output.RenderListingTable(listings))
	return nil
}

func runPkgImport(cmd *cobra.Command, args []string) error {
	onExists, err := parseIfExists(pkgImportIfExists)
	if err != nil {
		return err
	}

	cacheRoot, err := getCacheDir()
	if err != nil {
		return err
	}
	pc, err := cache.Open(cacheRoot, cache.Write)
	if err != nil {
		return err
	}
	defer pc.Close()

	for _, path := range args {
		sd, err := sdist.Load(path)
		if err != nil {
			return err
		}
		if err := pc.AddSDist(sd, onExists); err != nil {
			return err
		}
		fmt.Printf("Imported %s\n", sd.ID())
	}
	return nil
}

func parseIfExists(s string) (cache.IfExists, error) {
	switch s {
	case "fail":
		return cache.Fail, nil
	case "ignore":
		return cache.Ignore, nil
	case "replace":
		return cache.Replace, nil
	default:
		return 0, fmt.Errorf("%w: --if-exists must be fail, ignore or replace (got %q)", errs.ErrUser, s)
	}
}
