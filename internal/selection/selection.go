// Package selection implements the priority-based selection engine (spec
// §4.10): given a storage budget, decide which directories and then which
// remaining files stay materialized locally, the rest being left as
// symlinks into the remote tree.
package selection

import "sort"

// FileCandidate is one file eligible for local materialization.
type FileCandidate struct {
	Path     string
	Priority float64
	Size     int64
}

// Result is the outcome of a selection pass.
type Result struct {
	RemainingSpace int64
	Paths          []string
}

// adjustedPriority divides priority by size when accountForSize is set, so
// that a high-priority but enormous file doesn't crowd out many
// high-priority small ones. A zero-size candidate yields a zero adjusted
// priority rather than dividing by zero.
func adjustedPriority(priority float64, size int64, accountForSize bool) float64 {
	if !accountForSize {
		return priority
	}

	if size == 0 {
		return 0
	}

	return priority / float64(size)
}

// SelectFiles greedily keeps files materialized in priority order until
// spaceLimit is exhausted. symlinkSize is the disk usage a path costs once
// it is replaced by a symlink instead (every unselected file still costs
// one symlink's worth of space), mirroring filelogic.py's
// prioritize_files.
func SelectFiles(candidates []FileCandidate, spaceLimit, symlinkSize int64, accountForSize bool) Result {
	ordered := make([]FileCandidate, len(candidates))
	copy(ordered, candidates)

	// Sort by path first (for determinism across ties), then stably by
	// descending adjusted priority — mirrors the two-pass Python sort so
	// that equal-priority files always resolve the same way run to run.
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })
	sort.SliceStable(ordered, func(i, j int) bool {
		return adjustedPriority(ordered[i].Priority, ordered[i].Size, accountForSize) >
			adjustedPriority(ordered[j].Priority, ordered[j].Size, accountForSize)
	})

	remaining := spaceLimit

	var selected []string

	for _, c := range ordered {
		candidateRemaining := remaining - c.Size + symlinkSize
		if candidateRemaining > 0 {
			selected = append(selected, c.Path)
			remaining = candidateRemaining
		}
	}

	return Result{RemainingSpace: remaining, Paths: selected}
}

// DirCandidate is one directory eligible for local materialization.
type DirCandidate struct {
	Path     string
	Priority float64
	// Size is the directory's total remote disk usage (the sum of every
	// file beneath it), computed by the caller from a remote scan.
	Size int64
}

// PathInfo describes one path contained within a directory's subtree.
type PathInfo struct {
	Path      string
	Directory bool
}

// SelectDirs greedily keeps directories materialized in priority order,
// skipping any directory already covered by a previously selected
// ancestor and any directory whose own size exceeds storageLimit outright
// (spec §4.10, mirroring filelogic.py's prioritize_dirs).
//
// subtreeOf(path) must return every path beneath path (an entry for path
// itself may be included or left out), used to compute which
// files/subdirectories a directory
// selection subsumes. fileCount is the total number of known files,
// used to seed the space accounting as though every file were currently
// a symlink (one symlinkSize unit each) before any directory is selected.
func SelectDirs(
	candidates []DirCandidate,
	subtreeOf func(path string) []PathInfo,
	fileCount int,
	storageLimit int64,
	spaceLimit int64,
	symlinkSize int64,
	accountForSize bool,
) Result {
	ordered := make([]DirCandidate, len(candidates))
	copy(ordered, candidates)

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Path < ordered[j].Path })
	sort.SliceStable(ordered, func(i, j int) bool {
		return adjustedPriority(ordered[i].Priority, ordered[i].Size, accountForSize) >
			adjustedPriority(ordered[j].Priority, ordered[j].Size, accountForSize)
	})

	sizeOf := make(map[string]int64, len(ordered))
	for _, c := range ordered {
		sizeOf[c.Path] = c.Size
	}

	selectedDirs := make(map[string]bool)
	selectedSubdirs := make(map[string]bool)
	selectedFiles := make(map[string]bool)

	remaining := spaceLimit - int64(fileCount)*symlinkSize

	for _, c := range ordered {
		if selectedSubdirs[c.Path] {
			continue
		}

		if c.Size > storageLimit {
			continue
		}

		var containedFiles, containedDirs []string

		subdirsSize := int64(0)
		newFiles := int64(0)

		for _, sub := range subtreeOf(c.Path) {
			if sub.Directory {
				containedDirs = append(containedDirs, sub.Path)

				if selectedDirs[sub.Path] {
					subdirsSize += sizeOf[sub.Path]
				}
			} else {
				containedFiles = append(containedFiles, sub.Path)

				if !selectedFiles[sub.Path] {
					newFiles++
				}
			}
		}

		candidateRemaining := remaining - c.Size + subdirsSize + newFiles*symlinkSize
		if candidateRemaining < 0 {
			continue
		}

		for _, d := range containedDirs {
			selectedSubdirs[d] = true
			delete(selectedDirs, d)
		}

		for _, f := range containedFiles {
			selectedFiles[f] = true
		}

		selectedDirs[c.Path] = true
		remaining = candidateRemaining
	}

	paths := make([]string, 0, len(selectedDirs))
	for p := range selectedDirs {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return Result{RemainingSpace: remaining, Paths: paths}
}
