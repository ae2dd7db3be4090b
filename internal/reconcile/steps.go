package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lostatc/zielen/internal/conflict"
	"github.com/lostatc/zielen/internal/difference"
	"github.com/lostatc/zielen/internal/dirscan"
	"github.com/lostatc/zielen/internal/localdb"
	"github.com/lostatc/zielen/internal/materialize"
	"github.com/lostatc/zielen/internal/remotedb"
	"github.com/lostatc/zielen/internal/safety"
	"github.com/lostatc/zielen/internal/selection"
	"github.com/lostatc/zielen/internal/trashlifecycle"
	"github.com/lostatc/zielen/internal/trashoracle"
)

// applyDeletions propagates diff.DeletedLocal (files gone from the local
// tree) into the remote trash or a permanent removal, and removes
// diff.DeletedRemote entries' local copies, in both cases cascading the
// removal into LPDB/RMDB (spec §4.14's APPLY_DELETIONS step).
//
// Only diff.TrashBound paths (the subset of DeletedLocal still tracked in
// RMDB) are candidates for the trash-oracle/trash-lifecycle dance at all;
// the rest were already removed remotely by an earlier pass and need no
// further filesystem action here. Of the TrashBound candidates, UseTrash
// (spec's Config table: "When true, deletions go to remote `.trash`; else
// permanent") picks between trashlifecycle.Move and a direct permanent
// removal once the trash-reuse oracle rules out the user's own desktop
// trash having already claimed the path.
func (c *Coordinator) applyDeletions(ctx context.Context, diff difference.Diff, now time.Time, report *Report) error {
	if len(diff.DeletedLocal) > 0 {
		trashDir := filepath.Join(c.cfg.RemoteRoot, ".zielen", "Trash")

		trashBound := make(map[string]bool, len(diff.TrashBound))
		for _, p := range diff.TrashBound {
			trashBound[p] = true
		}

		for _, p := range diff.DeletedLocal {
			if !trashBound[p] {
				continue
			}

			remoteAbs := filepath.Join(c.cfg.RemoteRoot, p)

			reused, err := trashoracle.Contains(remoteAbs, c.cfg.TrashDirs)
			if err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("checking trash oracle for %s: %v", p, err))

				continue
			}

			if reused {
				if err := os.RemoveAll(remoteAbs); err != nil && !os.IsNotExist(err) {
					report.Failures = append(report.Failures, fmt.Sprintf("removing %s (already in user trash): %v", p, err))

					continue
				}

				report.ReusedFromTrash++

				continue
			}

			if !c.cfg.UseTrash {
				if err := os.RemoveAll(remoteAbs); err != nil && !os.IsNotExist(err) {
					report.Failures = append(report.Failures, fmt.Sprintf("permanently removing %s: %v", p, err))
				}

				continue
			}

			if _, err := trashlifecycle.Move(remoteAbs, trashDir, now); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("trashing %s: %v", p, err))

				continue
			}

			report.TrashedRemote++
		}

		if err := c.cfg.LPDB.RmPaths(ctx, diff.DeletedLocal); err != nil {
			return fmt.Errorf("removing deleted-local paths from LPDB: %w", err)
		}

		if err := c.cfg.RMDB.RmPaths(ctx, diff.DeletedLocal); err != nil {
			return fmt.Errorf("removing deleted-local paths from RMDB: %w", err)
		}
	}

	if len(diff.DeletedRemote) > 0 {
		for _, p := range diff.DeletedRemote {
			localAbs := filepath.Join(c.cfg.LocalRoot, p)
			if err := os.Remove(localAbs); err != nil && !os.IsNotExist(err) {
				report.Failures = append(report.Failures, fmt.Sprintf("removing local copy of %s: %v", p, err))
			}
		}

		if err := c.cfg.LPDB.RmPaths(ctx, diff.DeletedRemote); err != nil {
			return fmt.Errorf("removing deleted-remote paths from LPDB: %w", err)
		}

		if err := c.cfg.RMDB.RmPaths(ctx, diff.DeletedRemote); err != nil {
			return fmt.Errorf("removing deleted-remote paths from RMDB: %w", err)
		}
	}

	return nil
}

// resolveConflicts renames the older copy aside for every path modified on
// both sides (spec §4.9/§4.14's RESOLVE_CONFLICTS step) and returns the
// set of paths that should be pushed up to the remote: every newly added
// local path, plus every modified-local path that either has no remote
// conflict or won its conflict. Every renamed conflict copy is registered
// as a brand new tracked path on the side it landed on (spec §4.9: "the
// renamed path is inserted into LPDB/RMDB; the old path is removed" —
// here the original path is never removed, only the loser's copy moves
// aside under a new name), so the normal additions/selection machinery
// propagates it to the other side like any other new file.
func (c *Coordinator) resolveConflicts(ctx context.Context, localScan, remoteScan []dirscan.Entry, diff difference.Diff, now time.Time, report *Report) []string {
	localModTime := modTimeIndex(localScan)
	remoteModTime := modTimeIndex(remoteScan)

	remoteModified := make(map[string]bool, len(diff.ModifiedRemote))
	for _, p := range diff.ModifiedRemote {
		remoteModified[p] = true
	}

	toRemote := append([]string{}, diff.AddedLocal...)

	for _, p := range diff.ModifiedLocal {
		if !remoteModified[p] {
			toRemote = append(toRemote, p)

			continue
		}

		report.Conflicts++

		localAbs := filepath.Join(c.cfg.LocalRoot, p)
		remoteAbs := filepath.Join(c.cfg.RemoteRoot, p)
		res := conflict.Resolve(localAbs, localModTime[p], remoteModTime[p], now)

		if res.Older == conflict.SideLocal {
			conflictAbs := res.ConflictPath
			if err := os.Rename(localAbs, conflictAbs); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("renaming conflicting %s aside: %v", p, err))

				continue
			}

			rel, err := filepath.Rel(c.cfg.LocalRoot, conflictAbs)
			if err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("resolving conflict path for %s: %v", p, err))

				continue
			}

			if err := c.cfg.LPDB.AddPaths(ctx, []string{rel}, nil, 1); err != nil {
				report.Failures = append(report.Failures, fmt.Sprintf("tracking conflict copy %s: %v", rel, err))

				continue
			}

			// The local copy lost, so the original path now needs to be
			// refilled from the newer remote copy during materialization;
			// the conflict copy itself is local-only so it must be pushed.
			toRemote = append(toRemote, rel)

			continue
		}

		// The remote copy is older: rename it aside on the remote tree,
		// then push the local (newer) copy into the now-vacated original
		// path like an ordinary transfer.
		conflictAbs := conflict.Path(remoteAbs, now)
		if err := os.Rename(remoteAbs, conflictAbs); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("renaming conflicting %s aside: %v", p, err))

			continue
		}

		rel, err := filepath.Rel(c.cfg.RemoteRoot, conflictAbs)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("resolving conflict path for %s: %v", p, err))

			continue
		}

		if err := c.cfg.RMDB.AddPaths(ctx, []string{rel}, nil, now); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("tracking conflict copy %s: %v", rel, err))

			continue
		}

		toRemote = append(toRemote, p)
	}

	return toRemote
}

func modTimeIndex(entries []dirscan.Entry) map[string]time.Time {
	idx := make(map[string]time.Time, len(entries))
	for _, e := range entries {
		idx[e.Path] = time.Unix(0, e.ModTime)
	}

	return idx
}

// transferToRemote pushes every path in files from the local tree to the
// remote tree, one path at a time so a single failure is reported without
// aborting the rest (spec §4.14 failure semantics).
func (c *Coordinator) transferToRemote(ctx context.Context, files []string, report *Report) {
	for _, f := range files {
		if err := materialize.TransferTree(ctx, c.cfg.LocalRoot, c.cfg.RemoteRoot, []string{f}, 1, nil); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("transferring %s to remote: %v", f, err))
		}
	}
}

// recordAdditions registers newly-discovered paths in LPDB/RMDB and bumps
// RMDB's last_sync for everything modified on either side this pass.
func (c *Coordinator) recordAdditions(ctx context.Context, diff difference.Diff, localScan, remoteScan []dirscan.Entry, now time.Time) error {
	localKind := kindIndex(localScan)
	remoteKind := kindIndex(remoteScan)

	newLocalFiles, newLocalDirs := splitByKind(diff.AddedLocal, localKind)
	if len(newLocalFiles) > 0 || len(newLocalDirs) > 0 {
		if err := c.addNewPaths(ctx, newLocalFiles, newLocalDirs, now); err != nil {
			return err
		}
	}

	newRemoteFiles, newRemoteDirs := splitByKind(diff.AddedRemote, remoteKind)
	if len(newRemoteFiles) > 0 || len(newRemoteDirs) > 0 {
		if err := c.addNewPaths(ctx, newRemoteFiles, newRemoteDirs, now); err != nil {
			return err
		}
	}

	modified := append(append([]string{}, diff.ModifiedLocal...), diff.ModifiedRemote...)
	if len(modified) > 0 {
		if err := c.cfg.RMDB.UpdateSyncTime(ctx, modified, now); err != nil {
			return fmt.Errorf("updating RMDB sync time: %w", err)
		}
	}

	return nil
}

func (c *Coordinator) addNewPaths(ctx context.Context, files, dirs []string, now time.Time) error {
	if c.cfg.InflatePriority {
		if err := c.cfg.LPDB.AddInflated(ctx, files, dirs); err != nil {
			return fmt.Errorf("adding inflated-priority paths to LPDB: %w", err)
		}
	} else if err := c.cfg.LPDB.AddPaths(ctx, files, dirs, 0); err != nil {
		return fmt.Errorf("adding paths to LPDB: %w", err)
	}

	if err := c.cfg.RMDB.AddPaths(ctx, files, dirs, now); err != nil {
		return fmt.Errorf("adding paths to RMDB: %w", err)
	}

	return nil
}

func kindIndex(entries []dirscan.Entry) map[string]dirscan.Kind {
	idx := make(map[string]dirscan.Kind, len(entries))
	for _, e := range entries {
		idx[e.Path] = e.Kind
	}

	return idx
}

func splitByKind(paths []string, kind map[string]dirscan.Kind) (files, dirs []string) {
	for _, p := range paths {
		if kind[p] == dirscan.KindDir {
			dirs = append(dirs, p)
		} else {
			files = append(files, p)
		}
	}

	return files, dirs
}

// selectAndMaterialize runs the selection engine over every tracked path
// and brings the local tree's symlink/real-file mix in line with the
// result (spec §4.10/§4.11, the SELECT and MATERIALIZE_LOCAL steps).
func (c *Coordinator) selectAndMaterialize(ctx context.Context, remoteScan []dirscan.Entry, report *Report) error {
	lpdbFiles, err := c.cfg.LPDB.Files(ctx, "")
	if err != nil {
		return fmt.Errorf("reading LPDB files: %w", err)
	}

	lpdbDirs, err := c.cfg.LPDB.Directories(ctx, "")
	if err != nil {
		return fmt.Errorf("reading LPDB directories: %w", err)
	}

	sizeOf := make(map[string]int64, len(remoteScan))

	for _, e := range remoteScan {
		if e.Kind == dirscan.KindFile {
			sizeOf[e.Path] = e.Size
		}
	}

	excludedResident := make(map[string]bool)

	var excludedSize int64

	if c.cfg.LocalExclude != nil {
		for _, f := range lpdbFiles {
			matched, err := c.cfg.LocalExclude.MatchesPath(c.cfg.RemoteRoot, f.Path)
			if err != nil {
				return fmt.Errorf("evaluating local exclude patterns: %w", err)
			}

			if matched {
				excludedResident[f.Path] = true
				excludedSize += sizeOf[f.Path]
			}
		}
	}

	dirSize := computeDirSizes(lpdbDirs, sizeOf)
	subtreeIndex := buildSubtreeIndex(lpdbDirs, lpdbFiles)

	dirCandidates := make([]selection.DirCandidate, 0, len(lpdbDirs))
	for _, d := range lpdbDirs {
		dirCandidates = append(dirCandidates, selection.DirCandidate{Path: d.Path, Priority: d.Priority, Size: dirSize[d.Path]})
	}

	fileCandidates := make([]selection.FileCandidate, 0, len(lpdbFiles))
	for _, f := range lpdbFiles {
		if excludedResident[f.Path] {
			continue
		}

		fileCandidates = append(fileCandidates, selection.FileCandidate{Path: f.Path, Priority: f.Priority, Size: sizeOf[f.Path]})
	}

	spaceLimit := c.cfg.StorageLimit - excludedSize

	dirResult := selection.SelectDirs(
		dirCandidates,
		func(path string) []selection.PathInfo { return subtreeIndex[path] },
		len(lpdbFiles),
		c.cfg.StorageLimit,
		spaceLimit,
		blockSize,
		c.cfg.AccountForSize,
	)

	selectedDirs := make(map[string]bool, len(dirResult.Paths))
	for _, p := range dirResult.Paths {
		selectedDirs[p] = true
	}

	remainingCandidates := make([]selection.FileCandidate, 0, len(fileCandidates))

	for _, f := range fileCandidates {
		if underSelectedDir(f.Path, selectedDirs) {
			continue
		}

		remainingCandidates = append(remainingCandidates, f)
	}

	fileResult := selection.SelectFiles(remainingCandidates, dirResult.RemainingSpace, blockSize, c.cfg.AccountForSize)

	materializeSet := make(map[string]bool)
	for p := range excludedResident {
		materializeSet[p] = true
	}

	for _, p := range fileResult.Paths {
		materializeSet[p] = true
	}

	for _, d := range dirResult.Paths {
		for _, info := range subtreeIndex[d] {
			if !info.Directory {
				materializeSet[info.Path] = true
			}
		}
	}

	allFiles := make([]string, 0, len(lpdbFiles))
	for _, f := range lpdbFiles {
		allFiles = append(allFiles, f.Path)
	}

	allDirs := make([]string, 0, len(lpdbDirs))
	for _, d := range lpdbDirs {
		allDirs = append(allDirs, d.Path)
	}

	knownPaths := append(append([]string{}, allFiles...), allDirs...)

	stale := materialize.ComputeStale(knownPaths, materializeSet, func(path string) []string {
		return descendantsAndSelf(path, knownPaths)
	})

	if err := materialize.RemoveStale(c.cfg.LocalRoot, stale); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("removing stale local paths: %v", err))
	}

	report.RemovedStale = len(stale)

	created, err := materialize.SymlinkTree(c.cfg.RemoteRoot, c.cfg.LocalRoot, allFiles, allDirs, true)
	if err != nil {
		return fmt.Errorf("laying down symlink tree: %w", err)
	}

	report.SymlinkedFiles = len(created)

	toMaterialize := make([]string, 0, len(materializeSet))
	for p := range materializeSet {
		toMaterialize = append(toMaterialize, p)
	}

	sort.Strings(toMaterialize)

	var neededBytes int64
	for _, p := range toMaterialize {
		neededBytes += sizeOf[p]
	}

	if err := safety.Check(c.cfg.LocalRoot, neededBytes); err != nil {
		return err
	}

	concurrency := c.cfg.TransferConcurrency
	if concurrency < 1 {
		concurrency = 4
	}

	if err := materialize.TransferTree(ctx, c.cfg.RemoteRoot, c.cfg.LocalRoot, toMaterialize, concurrency, nil); err != nil {
		report.Failures = append(report.Failures, fmt.Sprintf("materializing selection: %v", err))
	} else {
		report.MaterializedFiles = len(toMaterialize)
	}

	return nil
}

// removeExcludedRemote deletes every RMDB-tracked path that newly matches
// the remote exclude patterns (spec §4.14's REMOVE_EXCLUDED_REMOTE step):
// the scanners themselves never surface such paths, so the only way to
// find them is to match patterns directly against what RMDB still tracks.
func (c *Coordinator) removeExcludedRemote(ctx context.Context, rmdbEntries []remotedb.Entry, report *Report) error {
	if c.cfg.RemoteExclude == nil {
		return nil
	}

	result, err := c.cfg.RemoteExclude.Matches(c.cfg.RemoteRoot)
	if err != nil {
		return fmt.Errorf("evaluating remote exclude patterns: %w", err)
	}

	var toRemove []string

	for _, e := range rmdbEntries {
		if result.Contains(e.Path) {
			toRemove = append(toRemove, e.Path)
		}
	}

	if len(toRemove) == 0 {
		return nil
	}

	for _, p := range toRemove {
		abs := filepath.Join(c.cfg.RemoteRoot, p)
		if err := os.RemoveAll(abs); err != nil && !os.IsNotExist(err) {
			report.Failures = append(report.Failures, fmt.Sprintf("removing newly-excluded remote path %s: %v", p, err))
		}
	}

	if err := c.cfg.RMDB.RmPaths(ctx, toRemove); err != nil {
		return fmt.Errorf("removing newly-excluded paths from RMDB: %w", err)
	}

	if err := c.cfg.LPDB.RmPaths(ctx, toRemove); err != nil {
		return fmt.Errorf("removing newly-excluded paths from LPDB: %w", err)
	}

	return nil
}

func computeDirSizes(dirs []localdb.Entry, sizeOf map[string]int64) map[string]int64 {
	result := make(map[string]int64, len(dirs))

	for _, d := range dirs {
		prefix := d.Path + "/"

		var total int64

		for p, size := range sizeOf {
			if strings.HasPrefix(p, prefix) {
				total += size
			}
		}

		result[d.Path] = total
	}

	return result
}

func buildSubtreeIndex(dirs, files []localdb.Entry) map[string][]selection.PathInfo {
	index := make(map[string][]selection.PathInfo, len(dirs))

	for _, d := range dirs {
		prefix := d.Path + "/"

		var infos []selection.PathInfo

		for _, other := range dirs {
			if other.Path != d.Path && strings.HasPrefix(other.Path, prefix) {
				infos = append(infos, selection.PathInfo{Path: other.Path, Directory: true})
			}
		}

		for _, f := range files {
			if strings.HasPrefix(f.Path, prefix) {
				infos = append(infos, selection.PathInfo{Path: f.Path, Directory: false})
			}
		}

		index[d.Path] = infos
	}

	return index
}

func underSelectedDir(path string, selectedDirs map[string]bool) bool {
	for d := range selectedDirs {
		if strings.HasPrefix(path, d+"/") {
			return true
		}
	}

	return false
}

func descendantsAndSelf(path string, knownPaths []string) []string {
	prefix := path + "/"

	out := []string{path}

	for _, p := range knownPaths {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}

	return out
}

func sumSizes(scan []dirscan.Entry, paths []string) int64 {
	sizeOf := make(map[string]int64, len(scan))
	for _, e := range scan {
		sizeOf[e.Path] = e.Size
	}

	var total int64
	for _, p := range paths {
		total += sizeOf[p]
	}

	return total
}
