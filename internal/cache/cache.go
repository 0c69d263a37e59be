// Package cache is the on-disk package cache: one directory per
// name@version holding an extracted source distribution, guarded by a
// cooperative lock file so concurrent crucible processes do not trample
// each other's imports.
package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/blackwell-systems/crucible/internal/errs"
	"github.com/blackwell-systems/crucible/internal/pkgid"
	"github.com/blackwell-systems/crucible/internal/sdist"
)

// Mode selects what an opener may do with the cache.
type Mode int

const (
	// Read allows enumeration only.
	Read Mode = iota
	// Write additionally allows imports.
	Write
)

// IfExists selects the behavior of AddSDist when the destination is
// already populated.
type IfExists int

const (
	// Fail rejects the import.
	Fail IfExists = iota
	// Ignore keeps the existing contents and warns.
	Ignore
	// Replace swaps in the new contents.
	Replace
)

// lockFilename is the cooperative lock under the cache root. The dot
// prefix keeps it invisible to IterSDists.
const lockFilename = ".lock"

// tmpImportDir is the staging directory for imports. The dot prefix
// keeps half-imported packages invisible to IterSDists.
const tmpImportDir = ".tmp-import"

// Cache is an open, locked package cache.
type Cache struct {
	root string
	mode Mode
	lock *flock.Flock
}

// Open locks and opens the cache rooted at root, creating it on first
// use. When another process holds the lock, a wait message is logged and
// Open blocks until the lock is released.
func Open(root string, mode Mode) (*Cache, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create package cache root %s: %v", errs.ErrIO, root, err)
	}

	lock := flock.New(filepath.Join(root, lockFilename))
	locked, err := tryLock(lock, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to lock package cache %s: %v", errs.ErrIO, root, err)
	}
	if !locked {
		fmt.Fprintf(os.Stderr, "crucible: waiting for another process to release the package cache at %s\n", root)
		if err := blockingLock(lock, mode); err != nil {
			return nil, fmt.Errorf("%w: failed to lock package cache %s: %v", errs.ErrIO, root, err)
		}
	}

	return &Cache{root: root, mode: mode, lock: lock}, nil
}

func tryLock(lock *flock.Flock, mode Mode) (bool, error) {
	if mode == Write {
		return lock.TryLock()
	}
	return lock.TryRLock()
}

func blockingLock(lock *flock.Flock, mode Mode) error {
	if mode == Write {
		return lock.Lock()
	}
	return lock.RLock()
}

// Close releases the cache lock.
func (c *Cache) Close() error {
	return c.lock.Unlock()
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// PathOf returns the canonical directory for a package id, whether or
// not it is present.
func (c *Cache) PathOf(id pkgid.ID) string {
	return filepath.Join(c.root, id.String())
}

// AddSDist imports the distribution into the cache under its canonical
// name@version directory. The import stages into a dot-prefixed
// temporary directory and renames into place, so a partially copied
// package is never visible under its canonical name.
func (c *Cache) AddSDist(sd *sdist.SDist, onExists IfExists) error {
	if c.mode != Write {
		return errs.Invariantf("AddSDist on a read-mode package cache")
	}

	dest := c.PathOf(sd.ID())
	if _, err := os.Stat(dest); err == nil {
		switch onExists {
		case Fail:
			return fmt.Errorf("%w: package %s is already in the cache (use --if-exists=replace to overwrite)", errs.ErrUser, sd.ID())
		case Ignore:
			fmt.Fprintf(os.Stderr, "crucible: package %s is already in the cache; keeping the existing copy\n", sd.ID())
			return nil
		case Replace:
			// Fall through to the import.
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to probe cache entry %s: %v", errs.ErrIO, dest, err)
	}

	tmp := filepath.Join(c.root, tmpImportDir)
	if err := os.RemoveAll(tmp); err != nil {
		return fmt.Errorf("%w: failed to clear import staging directory: %v", errs.ErrIO, err)
	}
	if err := copyTree(sd.Path, tmp); err != nil {
		os.RemoveAll(tmp)
		return err
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("%w: failed to remove old cache entry %s: %v", errs.ErrIO, dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("%w: failed to move %s into the cache: %v", errs.ErrIO, sd.ID(), err)
	}
	return nil
}

// Get returns the cached distribution for id, or nil when absent.
func (c *Cache) Get(id pkgid.ID) (*sdist.SDist, error) {
	path := c.PathOf(id)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: failed to probe cache entry %s: %v", errs.ErrIO, path, err)
	}
	return sdist.Load(path)
}

// IterSDists returns every cached distribution, sorted by directory
// name. Dot-prefixed entries (the lock, import staging) are skipped
// silently; entries that fail to parse are logged and skipped so one
// corrupt entry does not hide the rest of the cache.
func (c *Cache) IterSDists() ([]*sdist.SDist, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read package cache %s: %v", errs.ErrIO, c.root, err)
	}

	var out []*sdist.SDist
	for _, e := range entries {
		if e.Name()[0] == '.' {
			continue
		}
		if !e.IsDir() {
			continue
		}
		sd, err := sdist.Load(filepath.Join(c.root, e.Name()))
		if err != nil {
			fmt.Fprintf(os.Stderr, "crucible: skipping unreadable cache entry %s: %v\n", e.Name(), err)
			continue
		}
		out = append(out, sd)
	}
	return out, nil
}

// copyTree copies the directory tree at src to dst, which must not
// exist.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: failed to walk %s: %v", errs.ErrIO, src, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("%w: failed to relativize %s: %v", errs.ErrIO, path, err)
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("%w: failed to create %s: %v", errs.ErrIO, target, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks and other specials have no place in an sdist.
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
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
