// Package watch re-runs a check whenever files under the root change.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce coalesces editor save bursts into one run.
const DefaultDebounce = 300 * time.Millisecond

// Options configure a watch loop.
type Options struct {
	Root     string
	Debounce time.Duration
	Logger   *logrus.Logger
}

// Run watches the root recursively and invokes fn after each settled burst
// of changes. fn runs once immediately. Run blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options, fn func() error) error {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := addRecursive(watcher, opts.Root); err != nil {
		return err
	}
	if err := fn(); err != nil {
		opts.Logger.WithError(err).Warn("Check run failed")
	}

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(opts.Debounce, func() {
			select {
			case pending <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if skipEvent(event) {
				continue
			}
			// New directories must be watched before anything inside
			// them changes.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addRecursive(watcher, event.Name)
				}
			}
			schedule()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			opts.Logger.WithError(err).Warn("Watch error")
		case <-pending:
			if err := fn(); err != nil {
				opts.Logger.WithError(err).Warn("Check run failed")
			}
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		name := entry.Name()
		if name == ".git" || name == ".sloc-guard" {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// skipEvent drops noise from state files and lock churn.
func skipEvent(event fsnotify.Event) bool {
	base := filepath.Base(event.Name)
	if strings.HasSuffix(base, ".lock") || strings.HasSuffix(base, ".tmp") {
		return true
	}
	return strings.Contains(filepath.ToSlash(event.Name), "/.sloc-guard/") ||
		strings.Contains(filepath.ToSlash(event.Name), "/.git/")
}
