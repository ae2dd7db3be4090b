// Package remotedb implements the remote metadata database (RMDB, spec
// §4.4): a pathstore.Store whose value column holds last_sync (UTC epoch
// seconds, fractional), shared by every client of a given remote.
package remotedb

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lostatc/zielen/internal/pathstore"
)

// DB is the remote metadata database. It lives under <RemoteDir>/.zielen/
// so that every client mounting the same remote observes the same
// authoritative last_sync timestamps.
type DB struct {
	store *pathstore.Store
}

// Open opens or creates the RMDB at dbPath. Unlike LPDB, RMDB may be
// written by multiple independent client processes, so it is not opened in
// WAL mode (WAL is a poor fit across network filesystems); instead callers
// rely on the mount's own locking plus SQLite's busy timeout, which
// retries a locked database for a few seconds before giving up.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*DB, error) {
	store, err := pathstore.Open(ctx, dbPath, logger, false)
	if err != nil {
		return nil, err
	}

	return &DB{store: store}, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error { return d.store.Close() }

// Entry is a single remote path and its last-sync timestamp.
type Entry struct {
	Path      string
	Directory bool
	LastSync  time.Time
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromEpoch(f float64) time.Time {
	secs := int64(f)
	nanos := int64((f - float64(secs)) * 1e9)

	return time.Unix(secs, nanos).UTC()
}

// AddPaths inserts files and directories, stamping last_sync to now.
func (d *DB) AddPaths(ctx context.Context, files, dirs []string, now time.Time) error {
	epoch := toEpoch(now)

	inserts := make([]pathstore.Insert, 0, len(files)+len(dirs))
	for _, f := range files {
		inserts = append(inserts, pathstore.Insert{Path: f, Directory: false, Value: epoch})
	}

	for _, dir := range dirs {
		inserts = append(inserts, pathstore.Insert{Path: dir, Directory: true, Value: epoch})
	}

	if err := d.store.InsertPaths(ctx, inserts); err != nil {
		return fmt.Errorf("rmdb add paths: %w", err)
	}

	return nil
}

// RmPaths cascade-deletes the given subtrees and garbage-collects
// orphaned collision rows.
func (d *DB) RmPaths(ctx context.Context, paths []string) error {
	for _, p := range paths {
		if err := d.store.RemoveSubtree(ctx, p); err != nil {
			return fmt.Errorf("rmdb rm paths: %w", err)
		}
	}

	return d.store.GCOrphanCollisions(ctx)
}

// UpdateSyncTime overwrites last_sync for the given paths.
func (d *DB) UpdateSyncTime(ctx context.Context, paths []string, now time.Time) error {
	epoch := toEpoch(now)

	for _, p := range paths {
		if err := d.store.SetValue(ctx, p, epoch); err != nil {
			return fmt.Errorf("rmdb update sync time %q: %w", p, err)
		}
	}

	return nil
}

// Get returns the entry at path, if present.
func (d *DB) Get(ctx context.Context, path string) (Entry, bool, error) {
	n, ok, err := d.store.Get(ctx, path)
	if err != nil || !ok {
		return Entry{}, ok, err
	}

	return Entry{Path: n.Path, Directory: n.Directory, LastSync: fromEpoch(n.Value)}, true, nil
}

// Tree returns every path under root ("" = whole tree).
func (d *DB) Tree(ctx context.Context, root string) ([]Entry, error) {
	return d.subtree(ctx, root, pathstore.SubtreeFilter{})
}

// Files returns every file entry under root.
func (d *DB) Files(ctx context.Context, root string) ([]Entry, error) {
	return d.subtree(ctx, root, pathstore.SubtreeFilter{FilesOnly: true})
}

// Directories returns every directory entry under root.
func (d *DB) Directories(ctx context.Context, root string) ([]Entry, error) {
	return d.subtree(ctx, root, pathstore.SubtreeFilter{DirectoryOnly: true})
}

// UpdatedSince returns every path whose last_sync is strictly greater than
// t, i.e. paths a client has updated since t.
func (d *DB) UpdatedSince(ctx context.Context, t time.Time) ([]Entry, error) {
	min := toEpoch(t)

	candidates, err := d.subtree(ctx, "", pathstore.SubtreeFilter{MinValue: &min})
	if err != nil {
		return nil, err
	}

	result := candidates[:0]

	for _, e := range candidates {
		if e.LastSync.After(t) {
			result = append(result, e)
		}
	}

	return result, nil
}

func (d *DB) subtree(ctx context.Context, root string, filter pathstore.SubtreeFilter) ([]Entry, error) {
	nodes, err := d.store.Subtree(ctx, root, filter)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		entries[i] = Entry{Path: n.Path, Directory: n.Directory, LastSync: fromEpoch(n.Value)}
	}

	return entries, nil
}
