// Package materialize implements the materializer (spec §4.11): it lays
// down a symlink tree mirroring the remote directory, transfers the files
// selected for local materialization over those symlinks, and removes
// paths that fell out of the selection.
package materialize

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// depth counts path separators, used to order operations from trunk to
// leaf (or leaf to trunk).
func depth(p string) int { return strings.Count(p, "/") }

// SymlinkTree recursively recreates srcDir's shape under destDir as a
// tree of symlinks: one symlink per file in files, one real directory per
// entry in dirs. It does not scan srcDir itself; the caller supplies the
// relative paths to avoid redundant filesystem queries (spec §4.11,
// grounded on fstools.py's symlink_tree). It returns the relative paths
// actually created.
func SymlinkTree(srcDir, destDir string, files, dirs []string, overwrite bool) ([]string, error) {
	all := make([]string, 0, len(files)+len(dirs))
	isDir := make(map[string]bool, len(dirs))

	for _, d := range dirs {
		all = append(all, d)
		isDir[d] = true
	}

	for _, f := range files {
		all = append(all, f)
	}

	sort.Slice(all, func(i, j int) bool { return depth(all[i]) < depth(all[j]) })

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", destDir, err)
	}

	var created []string

	for _, rel := range all {
		destPath := filepath.Join(destDir, rel)

		if isDir[rel] {
			if err := os.Mkdir(destPath, 0o755); err != nil {
				if os.IsExist(err) {
					continue
				}

				return created, fmt.Errorf("creating directory %s: %w", destPath, err)
			}

			created = append(created, rel)

			continue
		}

		srcPath := filepath.Join(srcDir, rel)

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return created, fmt.Errorf("creating parent of %s: %w", destPath, err)
		}

		if err := os.Symlink(srcPath, destPath); err != nil {
			if !os.IsExist(err) {
				return created, fmt.Errorf("symlinking %s: %w", destPath, err)
			}

			if !overwrite {
				continue
			}

			if rmErr := os.Remove(destPath); rmErr != nil {
				return created, fmt.Errorf("removing existing %s before overwrite: %w", destPath, rmErr)
			}

			if err := os.Symlink(srcPath, destPath); err != nil {
				return created, fmt.Errorf("symlinking %s: %w", destPath, err)
			}
		}

		created = append(created, rel)
	}

	return created, nil
}

// ProgressFunc is called after each file transfer completes, with the
// cumulative bytes transferred and the total bytes the whole transfer
// will move (0 if unknown). The CLI wires this to a progress indicator
// when attached to a terminal (spec §6).
type ProgressFunc func(transferred, total int64)

// TransferTree copies every path in files from srcDir to destDir,
// preserving symlinks as symlinks, with up to concurrency files in
// flight at once via errgroup. Each destination file is written to a
// ".partial" sibling and atomically renamed into place, so a crash
// mid-transfer never leaves a half-written file at its final path (spec
// §4.11, grounded on onedrive-go's partial-file-then-rename download
// pattern).
func TransferTree(ctx context.Context, srcDir, destDir string, files []string, concurrency int, progress ProgressFunc) error {
	if concurrency < 1 {
		concurrency = 1
	}

	sizes := make(map[string]int64, len(files))

	var total int64

	for _, rel := range files {
		info, err := os.Lstat(filepath.Join(srcDir, rel))
		if err != nil {
			return fmt.Errorf("stat %s: %w", rel, err)
		}

		sizes[rel] = info.Size()
		total += info.Size()
	}

	var transferred int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, rel := range files {
		rel := rel

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := transferOne(filepath.Join(srcDir, rel), filepath.Join(destDir, rel)); err != nil {
				return fmt.Errorf("transferring %s: %w", rel, err)
			}

			if progress != nil {
				sofar := atomic.AddInt64(&transferred, sizes[rel])
				progress(sofar, total)
			}

			return nil
		})
	}

	return g.Wait()
}

func transferOne(srcPath, destPath string) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(srcPath)
		if err != nil {
			return err
		}

		os.Remove(destPath)

		return os.Symlink(target, destPath)
	}

	if info.IsDir() {
		return os.MkdirAll(destPath, info.Mode().Perm())
	}

	return copyFile(srcPath, destPath, info)
}

func copyFile(srcPath, destPath string, info os.FileInfo) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	partial := destPath + ".partial"

	dst, err := os.OpenFile(partial, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(partial)

		return err
	}

	if err := dst.Close(); err != nil {
		os.Remove(partial)

		return err
	}

	if err := os.Chtimes(partial, info.ModTime(), info.ModTime()); err != nil {
		os.Remove(partial)

		return err
	}

	return os.Rename(partial, destPath)
}

// ComputeStale returns the subset of knownPaths that are neither in
// retainedClosure nor an ancestor of a path in retainedClosure — i.e.
// paths that can be safely removed to make room for the current
// selection (spec §4.11, grounded on filelogic.py's compute_stale).
// descendantsOf must return every path within (and including) path's
// subtree.
func ComputeStale(knownPaths []string, retainedClosure map[string]bool, descendantsOf func(path string) []string) []string {
	var stale []string

	for _, p := range knownPaths {
		if retainedClosure[p] {
			continue
		}

		ancestorOfRetained := false

		for _, d := range descendantsOf(p) {
			if retainedClosure[d] {
				ancestorOfRetained = true

				break
			}
		}

		if !ancestorOfRetained {
			stale = append(stale, p)
		}
	}

	return stale
}

// RemoveStale deletes each stale path from root, deepest paths first so a
// directory's contents are gone before the directory itself is removed.
// Symlinks are left for SymlinkTree to overwrite rather than removed
// here (spec §4.11).
func RemoveStale(root string, stalePaths []string) error {
	ordered := make([]string, len(stalePaths))
	copy(ordered, stalePaths)
	sort.Slice(ordered, func(i, j int) bool { return depth(ordered[i]) > depth(ordered[j]) })

	for _, rel := range ordered {
		full := filepath.Join(root, rel)

		info, err := os.Lstat(full)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return fmt.Errorf("stat %s: %w", full, err)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			continue
		}

		if info.IsDir() {
			if err := os.Remove(full); err != nil && !os.IsExist(err) {
				// Non-empty directories (stray symlinks not yet replaced)
				// are left for the next symlink pass to clean up.
				continue
			}

			continue
		}

		if err := os.Remove(full); err != nil {
			return fmt.Errorf("removing %s: %w", full, err)
		}
	}

	return nil
}
