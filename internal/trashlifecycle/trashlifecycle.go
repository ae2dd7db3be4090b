// Package trashlifecycle implements the remote trash lifecycle (spec
// §4.12): moving deleted remote paths into a trash directory with a
// collision-safe name, and aging trash entries out after a retention
// period.
package trashlifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CollisionName returns a filename that does not already appear in
// existing, following the "(n)" convention: "report.txt" colliding once
// becomes "report(1).txt", then "report(2).txt", and so on.
func CollisionName(name string, existing map[string]bool) string {
	if !existing[name] {
		return name
	}

	ext := filepath.Ext(name)
	stem := name[:len(name)-len(ext)]

	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s(%d)%s", stem, n, ext)
		if !existing[candidate] {
			return candidate
		}
	}
}

// EnsureTrashDir creates trashDir if it does not already exist.
func EnsureTrashDir(trashDir string) error {
	if err := os.MkdirAll(trashDir, 0o755); err != nil {
		return fmt.Errorf("creating trash directory: %w", err)
	}

	return nil
}

func listNames(trashDir string) (map[string]bool, error) {
	entries, err := os.ReadDir(trashDir)
	if os.IsNotExist(err) {
		return map[string]bool{}, nil
	}

	if err != nil {
		return nil, err
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	return names, nil
}

// Move renames srcAbsPath into trashDir, resolving any filename collision
// via CollisionName, and stamps the trashed entry's mtime to now so
// Cleanup can age it out from the moment it was trashed rather than its
// original modification time. It returns the path the entry was moved to.
// A missing source (a previous sync may already have moved it) is not an
// error; it returns an empty path.
func Move(srcAbsPath, trashDir string, now time.Time) (string, error) {
	if err := EnsureTrashDir(trashDir); err != nil {
		return "", err
	}

	names, err := listNames(trashDir)
	if err != nil {
		return "", fmt.Errorf("listing trash directory: %w", err)
	}

	dest := filepath.Join(trashDir, CollisionName(filepath.Base(srcAbsPath), names))

	if err := os.Rename(srcAbsPath, dest); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}

		return "", fmt.Errorf("moving %s to trash: %w", srcAbsPath, err)
	}

	if err := os.Chtimes(dest, now, now); err != nil {
		return dest, fmt.Errorf("stamping trash entry mtime: %w", err)
	}

	return dest, nil
}

// Cleanup removes every top-level trash entry whose modification time is
// at or before now.Add(-maxAge), returning the paths it removed (spec
// §4.12: TrashCleanupPeriod).
func Cleanup(trashDir string, maxAge time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(trashDir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading trash directory: %w", err)
	}

	cutoff := now.Add(-maxAge)

	var removed []string

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		full := filepath.Join(trashDir, e.Name())
		if err := os.RemoveAll(full); err != nil {
			return removed, fmt.Errorf("removing aged trash entry %s: %w", full, err)
		}

		removed = append(removed, full)
	}

	return removed, nil
}
