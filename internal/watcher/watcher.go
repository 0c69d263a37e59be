// Package watcher implements the --watch build mode: it observes the
// project's source tree and fires a rebuild callback when a source,
// header or manifest changes, debouncing editor save bursts.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/blackwell-systems/crucible/internal/errs"
)

// debounceWindow batches rapid successive events (editors often write a
// file several times per save) into one rebuild.
const debounceWindow = 500 * time.Millisecond

// Watcher observes one or more source trees.
type Watcher struct {
	fsw   *fsnotify.Watcher
	roots []string
}

// New creates a Watcher over the given root directories, registering
// every subdirectory. Directories created later are picked up as their
// create events arrive.
func New(roots ...string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create filesystem watcher: %v", errs.ErrIO, err)
	}
	w := &Watcher{fsw: fsw, roots: roots}
	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Close releases the underlying watches.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run blocks, invoking onChange after each debounced batch of relevant
// events, until ctx is cancelled or the event stream fails.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("%w: filesystem watcher closed", errs.ErrIO)
			}
			// New directories join the watch so nested creates are seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						fmt.Fprintf(os.Stderr, "crucible: %v\n", err)
					}
				}
			}
			if !Relevant(event.Name) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("%w: filesystem watcher closed", errs.ErrIO)
			}
			fmt.Fprintf(os.Stderr, "crucible: watch error: %v\n", err)

		case <-timerC:
			timer = nil
			timerC = nil
			onChange()
		}
	}
}

// addTree registers dir and every directory below it, skipping
// dot-prefixed entries (VCS metadata, cache staging).
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("%w: failed to walk %s: %v", errs.ErrIO, root, err)
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("%w: failed to watch %s: %v", errs.ErrIO, path, err)
		}
		return nil
	})
}
