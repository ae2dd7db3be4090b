// Package localdb implements the local priority database (LPDB, spec
// §4.3): a pathstore.Store whose value column holds per-path priority,
// maintained under the directory-priority roll-up invariant.
package localdb

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/lostatc/zielen/internal/pathstore"
)

// DB is the local priority database. Opened in WAL mode; writes are
// serialized through a single connection using SQLite's default
// transactions.
type DB struct {
	store  *pathstore.Store
	logger *slog.Logger
}

// Open opens or creates the LPDB at dbPath.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*DB, error) {
	store, err := pathstore.Open(ctx, dbPath, logger, true)
	if err != nil {
		return nil, err
	}

	return &DB{store: store, logger: logger}, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error { return d.store.Close() }

// Entry is a single materialized-or-symlinked path with its priority.
type Entry struct {
	Path      string
	Directory bool
	Priority  float64
}

// AddPaths inserts files and directories at the given initial priority
// (spec §4.3 add_paths). Separate file/dir lists exist solely to let
// callers mark empty directories explicitly.
func (d *DB) AddPaths(ctx context.Context, files, dirs []string, priority float64) error {
	inserts := make([]pathstore.Insert, 0, len(files)+len(dirs))
	for _, f := range files {
		inserts = append(inserts, pathstore.Insert{Path: f, Directory: false, Value: priority})
	}

	for _, dir := range dirs {
		inserts = append(inserts, pathstore.Insert{Path: dir, Directory: true, Value: priority})
	}

	if err := d.store.InsertPaths(ctx, inserts); err != nil {
		return fmt.Errorf("lpdb add paths: %w", err)
	}

	return d.rollUpFor(ctx, append(append([]string{}, files...), dirs...))
}

// AddInflated inserts files and directories at the current maximum file
// priority (spec §4.3 add_inflated, "InflatePriority" config option).
func (d *DB) AddInflated(ctx context.Context, files, dirs []string) error {
	max, err := d.store.MaxValue(ctx, true, 0)
	if err != nil {
		return err
	}

	return d.AddPaths(ctx, files, dirs, max)
}

// RmPaths cascade-deletes the given subtrees and rolls up the priority of
// their former parents, then garbage-collects orphaned collision rows.
func (d *DB) RmPaths(ctx context.Context, paths []string) error {
	parents := make([]string, 0, len(paths))

	for _, p := range paths {
		ancestors, err := d.store.Ancestors(ctx, p)
		if err != nil {
			return err
		}

		for _, e := range ancestors {
			if e.Depth > 0 {
				// Resolve back to a path string for roll-up bookkeeping via
				// a second query; cheap relative to the delete itself.
				node, ok, err := d.store.NodeByID(ctx, e.Ancestor)
				if err != nil {
					return err
				}

				if ok {
					parents = append(parents, node.Path)
				}
			}
		}

		if err := d.store.RemoveSubtree(ctx, p); err != nil {
			return fmt.Errorf("lpdb rm paths: %w", err)
		}
	}

	if err := d.store.GCOrphanCollisions(ctx); err != nil {
		return err
	}

	return d.rollUpFor(ctx, parents)
}

// Increment adds delta to every path's priority and rolls up.
func (d *DB) Increment(ctx context.Context, paths []string, delta float64) error {
	for _, p := range paths {
		if err := d.store.IncrementValue(ctx, p, delta); err != nil {
			return fmt.Errorf("lpdb increment %q: %w", p, err)
		}
	}

	return d.rollUpFor(ctx, paths)
}

// Decay multiplies every priority by factor (spec §4.3: factor = 0.5^(Δ/H)).
// No roll-up is required since decay is linear and uniform.
func (d *DB) Decay(ctx context.Context, factor float64) error {
	return d.store.ScaleAllValues(ctx, factor)
}

// DecayFactor computes 0.5^(intervalSeconds/halfLifeSeconds).
func DecayFactor(intervalSeconds, halfLifeSeconds float64) float64 {
	if halfLifeSeconds <= 0 {
		return 1
	}

	return math.Pow(0.5, intervalSeconds/halfLifeSeconds)
}

// rollUpFor marks every ancestor of the given mutated paths (plus the
// paths themselves, if directories) for recomputation and performs the
// roll-up in strictly decreasing depth order.
func (d *DB) rollUpFor(ctx context.Context, mutated []string) error {
	var toRecheck []string

	for _, p := range mutated {
		ancestors, err := d.store.Ancestors(ctx, p)
		if err != nil {
			return err
		}

		for _, e := range ancestors {
			node, ok, err := d.store.NodeByID(ctx, e.Ancestor)
			if err != nil {
				return err
			}

			if !ok || (e.Depth == 0 && !node.Directory) {
				continue
			}

			toRecheck = append(toRecheck, node.Path)
		}
	}

	if len(toRecheck) == 0 {
		return nil
	}

	return d.store.RollUpDirectories(ctx, toRecheck)
}

// Tree returns every path under root ("" = whole tree).
func (d *DB) Tree(ctx context.Context, root string) ([]Entry, error) {
	nodes, err := d.store.Subtree(ctx, root, pathstore.SubtreeFilter{})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		entries[i] = Entry{Path: n.Path, Directory: n.Directory, Priority: n.Value}
	}

	return entries, nil
}

// Get returns the entry at path, if present.
func (d *DB) Get(ctx context.Context, path string) (Entry, bool, error) {
	n, ok, err := d.store.Get(ctx, path)
	if err != nil || !ok {
		return Entry{}, ok, err
	}

	return Entry{Path: n.Path, Directory: n.Directory, Priority: n.Value}, true, nil
}

// Files returns every file (non-directory) entry under root.
func (d *DB) Files(ctx context.Context, root string) ([]Entry, error) {
	nodes, err := d.store.Subtree(ctx, root, pathstore.SubtreeFilter{FilesOnly: true})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		entries[i] = Entry{Path: n.Path, Directory: n.Directory, Priority: n.Value}
	}

	return entries, nil
}

// Directories returns every directory entry under root.
func (d *DB) Directories(ctx context.Context, root string) ([]Entry, error) {
	nodes, err := d.store.Subtree(ctx, root, pathstore.SubtreeFilter{DirectoryOnly: true})
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(nodes))
	for i, n := range nodes {
		entries[i] = Entry{Path: n.Path, Directory: n.Directory, Priority: n.Value}
	}

	return entries, nil
}
