// Package observer defines the external signal contract the daemon uses
// to learn that a sync is due (spec §4.13/§4.15), plus an fsnotify-based
// reference implementation that watches the local sync root for changes.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source is implemented by anything that can tell the daemon a sync is
// due. The reconciliation loop always re-derives its own difference from
// scratch (spec §4.8), so a Source need only signal "something changed"
// — it carries no path-level detail.
type Source interface {
	// Notify returns a channel that receives a value each time a sync
	// should run. The channel is closed when ctx is canceled.
	Notify(ctx context.Context) <-chan struct{}
}

// Ticker is a Source that fires at a fixed interval (spec §3's
// SyncInterval, used when no filesystem watch is configured).
type Ticker struct {
	Interval time.Duration
}

// Notify implements Source.
func (t Ticker) Notify(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(t.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- struct{}{}:
				default:
				}
			}
		}
	}()

	return out
}

// FSWatcher is a Source backed by fsnotify, recursively watching root and
// debouncing bursts of events into a single signal once the filesystem
// goes quiet for Debounce (grounded on the teacher's buffer.go debounce
// loop, adapted here to plain change signals rather than grouped
// per-path event records).
type FSWatcher struct {
	root     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewFSWatcher creates a watcher rooted at root. The underlying fsnotify
// watcher is not started until Notify is called.
func NewFSWatcher(root string, debounce time.Duration, logger *slog.Logger) *FSWatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &FSWatcher{root: root, debounce: debounce, logger: logger}
}

// Notify implements Source.
func (w *FSWatcher) Notify(ctx context.Context) <-chan struct{} {
	out := make(chan struct{}, 1)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Error("creating fsnotify watcher", "error", err)
		close(out)

		return out
	}

	if err := w.addTree(fw, w.root); err != nil {
		w.logger.Error("watching sync root", "error", err)
		fw.Close()
		close(out)

		return out
	}

	w.mu.Lock()
	w.watcher = fw
	w.mu.Unlock()

	go w.debounceLoop(ctx, fw, out)

	return out
}

// addTree registers a watch on dir and every subdirectory beneath it.
func (w *FSWatcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if werr := fw.Add(p); werr != nil {
				return fmt.Errorf("watching %s: %w", p, werr)
			}
		}

		return nil
	})
}

func (w *FSWatcher) debounceLoop(ctx context.Context, fw *fsnotify.Watcher, out chan<- struct{}) {
	defer close(out)
	defer fw.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	active := false

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fw.Events:
			if !ok {
				return
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(fw, ev.Name); err != nil {
						w.logger.Warn("watching new directory", "path", ev.Name, "error", err)
					}
				}
			}

			if !timer.Stop() && active {
				<-timer.C
			}

			timer.Reset(w.debounce)
			active = true

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}

			w.logger.Warn("fsnotify error", "error", err)

		case <-timer.C:
			active = false

			select {
			case out <- struct{}{}:
			default:
			}
		}
	}
}
