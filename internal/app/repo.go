package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/crucible/internal/cache"
	"github.com/blackwell-systems/crucible/internal/output"
	"github.com/blackwell-systems/crucible/internal/pkgdb"
	"github.com/blackwell-systems/crucible/internal/remote"
)

var (
	repoExportName string

	repoCmd = &cobra.Command{
		Use:   "repo",
		Short: "Manage remote package indexes",
	}

	repoAddCmd = &cobra.Command{
		Use:   "add <url>",
		Short: "Register a remote package index",
		Long: `Download the index at <url>/repo.db, register the remote under its
self-declared name, and import its package listings. Re-adding an
existing remote updates its URL.`,
		Args: cobra.ExactArgs(1),
		RunE: runRepoAdd,
	}

	repoRemoveCmd = &cobra.Command{
		Use:   "remove <name>",
		Short: "Unregister a remote and drop its packages",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoRemove,
	}

	repoUpdateCmd = &cobra.Command{
		Use:   "update",
		Short: "Refresh every registered remote",
		Long: `Fetch each remote's index and merge its listings into the package
database. Unchanged remotes are skipped via HTTP conditional requests
(ETag / Last-Modified). Each import is one transaction: a remote whose
index fails validation changes nothing.`,
		RunE: runRepoUpdate,
	}

	repoLsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List registered remotes",
		RunE:  runRepoLs,
	}

	repoExportCmd = &cobra.Command{
		Use:   "export <dir>",
		Short: "Write a repo.db index describing the local package cache",
		Long: `Write <dir>/repo.db listing every package in the local cache, in the
format 'crucible repo add' consumes. Serving <dir> (plus the cached
package directories) with any static file server makes this machine a
remote for other crucible installs.`,
		Args: cobra.ExactArgs(1),
		RunE: runRepoExport,
	}
)

func init() {
	repoExportCmd.Flags().StringVar(&repoExportName, "name", "local", "self-declared name of the exported remote")
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoUpdateCmd)
	repoCmd.AddCommand(repoLsCmd)
	repoCmd.AddCommand(repoExportCmd)
}

func openSyncer() (*pkgdb.DB, *remote.Syncer, error) {
	dbPath, err := getDBPath()
	if err != nil {
		return nil, nil, err
	}
	db, err := pkgdb.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	return db, remote.NewSyncer(db), nil
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	db, sync, err := openSyncer()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner := output.NewSpinner(fmt.Sprintf("Fetching index from %s", args[0]))
	spinner.Start()
	rem, err := sync.Add(ctx, args[0])
	spinner.Stop()
	if err != nil {
		return err
	}
	fmt.Printf("Added remote %q (%s)\n", rem.Name, rem.URL)
	return nil
}

func runRepoRemove(cmd *cobra.Command, args []string) error {
	db, sync, err := openSyncer()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := sync.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed remote %q and its packages\n", args[0])
	return nil
}

func runRepoUpdate(cmd *cobra.Command, args []string) error {
	db, sync, err := openSyncer()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	spinner := output.NewSpinner("Updating remotes")
	spinner.Start()
	err = sync.UpdateAll(ctx)
	spinner.Stop()
	return err
}

func runRepoLs(cmd *cobra.Command, args []string) error {
	dbPath, err := getDBPath()
	if err != nil {
		return err
	}
	db, err := pkgdb.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	remotes, err := db.AllRemotes()
	if err != nil {
		return err
	}
	fmt.Print(output.RenderRemoteTable(remotes))
	return nil
}

func runRepoExport(cmd *cobra.Command, args []string) error {
	cacheRoot, err := getCacheDir()
	if err != nil {
		return err
	}
	pc, err := cache.Open(cacheRoot, cache.Read)
	if err != nil {
		return err
	}
	defer pc.Close()

	sdists, err := pc.IterSDists()
	if err != nil {
		return err
	}
	var listings []pkgdb.Listing
	for _, sd := range sdists {
		listings = append(listings, pkgdb.Listing{
			ID:   sd.ID(),
			Deps: sd.Manifest.Depends,
		})
	}

	indexPath := filepath.Join(args[0], remote.IndexFilename)
	if err := remote.WriteIndex(indexPath, repoExportName, listings); err != nil {
		return err
	}
	fmt.Printf("Wrote %s with %d package(s)\n", indexPath, len(listings))
	return nil
}
