// Package app wires the crucible subcommands. Each command file owns
// one verb; main maps returned errors to exit codes.
package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var (
	dbPath   string
	cacheDir string

	// RootCmd is the root command for crucible
	RootCmd = &cobra.Command{
		Use:   "crucible",
		Short: "Package-aware build tool for C and C++",
		Long: `crucible resolves dependencies from remote package indexes, caches
source distributions locally, and drives a compiler toolchain with
incremental recompilation.

Projects follow a simple layout convention: a package.json5 manifest at
the root, sources under src/, public headers under include/. Tests are
sources whose stem ends in ".test"; applications end in ".main".

Quick Start:
  1. crucible repo add https://pkgs.example.com
  2. crucible repo update
  3. crucible build

Examples:
  # Build the project in the current directory
  crucible build

  # Build with 8 parallel compile jobs, without running tests
  crucible build --jobs 8 --no-tests

  # Rebuild automatically on source changes
  crucible build --watch

  # List every known package
  crucible pkg ls

  # Import a local source distribution into the cache
  crucible pkg import ./vendor/fmt-8.1.1`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	// Global flags
	RootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "package database path (default: ~/.crucible/pkgs.db)")
	RootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "package cache directory (default: ~/.crucible/cache)")

	// Enable cobra's built-in suggestion feature for unknown subcommands
	RootCmd.SuggestionsMinimumDistance = 2

	// Register subcommands
	RootCmd.AddCommand(buildCmd)
	RootCmd.AddCommand(pkgCmd)
	RootCmd.AddCommand(repoCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// getDBPath returns the package database path, using the flag value or
// the default under ~/.crucible.
func getDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	dir, err := crucibleDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "pkgs.db"), nil
}

// getCacheDir returns the package cache root, using the flag value or
// the default under ~/.crucible.
func getCacheDir() (string, error) {
	if cacheDir != "" {
		return cacheDir, nil
	}
	dir, err := crucibleDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache"), nil
}

// crucibleDir returns ~/.crucible, creating it if needed.
func crucibleDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	dir := filepath.Join(home, ".crucible")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create crucible directory: %w", err)
	}
	return dir, nil
}
