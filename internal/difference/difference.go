// Package difference implements the bidirectional difference engine (spec
// §4.8): it compares LPDB, RMDB, a local filesystem scan, and a remote
// filesystem scan to compute added/modified/deleted path sets.
package difference

import (
	"time"

	"github.com/lostatc/zielen/internal/dirscan"
	"github.com/lostatc/zielen/internal/localdb"
	"github.com/lostatc/zielen/internal/remotedb"
)

// Input bundles every source the engine reads.
type Input struct {
	LocalScan  []dirscan.Entry
	RemoteScan []dirscan.Entry
	LPDB       []localdb.Entry
	RMDB       []remotedb.Entry
	LastSync   time.Time
}

// Diff is the engine's output (spec §4.8).
type Diff struct {
	AddedLocal     []string
	AddedRemote    []string
	ModifiedLocal  []string
	ModifiedRemote []string
	DeletedLocal   []string
	DeletedRemote  []string
	// TrashBound is the subset of DeletedLocal whose remote copy is still
	// tracked in RMDB — the candidates for the UseTrash/DisableTrash
	// decision (spec §4.8's "remote-deletion set ... that still exist in
	// the remote RMDB projection"; see DESIGN.md for the resolution of
	// the "local=false" wording, since RMDB carries no such column).
	// DeletedLocal paths absent from this set have already been removed
	// from RMDB by an earlier, interrupted pass and need no further
	// remote action beyond the LPDB/RMDB cascade applyDeletions already
	// performs.
	TrashBound []string
}

type scanIndex struct {
	byPath map[string]dirscan.Entry
}

func indexScan(entries []dirscan.Entry) scanIndex {
	idx := scanIndex{byPath: make(map[string]dirscan.Entry, len(entries))}
	for _, e := range entries {
		idx.byPath[e.Path] = e
	}

	return idx
}

type lpdbIndex struct {
	byPath map[string]localdb.Entry
}

func indexLPDB(entries []localdb.Entry) lpdbIndex {
	idx := lpdbIndex{byPath: make(map[string]localdb.Entry, len(entries))}
	for _, e := range entries {
		idx.byPath[e.Path] = e
	}

	return idx
}

type rmdbIndex struct {
	byPath map[string]remotedb.Entry
}

func indexRMDB(entries []remotedb.Entry) rmdbIndex {
	idx := rmdbIndex{byPath: make(map[string]remotedb.Entry, len(entries))}
	for _, e := range entries {
		idx.byPath[e.Path] = e
	}

	return idx
}

// Compute evaluates the full difference between the four inputs.
func Compute(in Input) Diff {
	localScan := indexScan(in.LocalScan)
	remoteScan := indexScan(in.RemoteScan)
	lpdb := indexLPDB(in.LPDB)
	rmdb := indexRMDB(in.RMDB)

	d := Diff{}

	d.AddedLocal = addedLocal(localScan, lpdb)
	d.AddedRemote = addedRemote(remoteScan, lpdb)
	d.ModifiedLocal = modifiedLocal(in.LocalScan, lpdb, in.LastSync)
	d.ModifiedRemote = modifiedRemote(in.RemoteScan, lpdb, rmdb, in.LastSync)
	d.DeletedLocal = pruneDescendants(deletedFrom(in.LPDB, localScan), d.directoryPathsIn(in.LPDB))
	d.DeletedRemote = pruneDescendants(deletedFrom(in.LPDB, remoteScan), d.directoryPathsIn(in.LPDB))
	d.TrashBound = trashBound(d.DeletedLocal, rmdb)

	return d
}

func (d Diff) directoryPathsIn(entries []localdb.Entry) map[string]bool {
	dirs := make(map[string]bool)

	for _, e := range entries {
		if e.Directory {
			dirs[e.Path] = true
		}
	}

	return dirs
}

func addedLocal(localScan scanIndex, lpdb lpdbIndex) []string {
	var added []string

	for p, e := range localScan.byPath {
		if e.Kind == dirscan.KindSymlink && e.Unsafe {
			continue
		}

		if _, known := lpdb.byPath[p]; known {
			continue
		}

		added = append(added, p)
	}

	return added
}

func addedRemote(remoteScan scanIndex, lpdb lpdbIndex) []string {
	var added []string

	for p := range remoteScan.byPath {
		if _, known := lpdb.byPath[p]; known {
			continue
		}

		added = append(added, p)
	}

	return added
}

func modifiedLocal(localScan []dirscan.Entry, lpdb lpdbIndex, lastSync time.Time) []string {
	var modified []string

	for _, e := range localScan {
		if e.Kind != dirscan.KindFile {
			continue
		}

		if e.Kind == dirscan.KindSymlink && e.Unsafe {
			continue
		}

		if _, known := lpdb.byPath[e.Path]; !known {
			continue
		}

		if time.Unix(0, e.ModTime).After(lastSync) {
			modified = append(modified, e.Path)
		}
	}

	return modified
}

func modifiedRemote(remoteScan []dirscan.Entry, lpdb lpdbIndex, rmdb rmdbIndex, lastSync time.Time) []string {
	seen := make(map[string]bool)

	var modified []string

	for _, e := range remoteScan {
		if e.Kind != dirscan.KindFile {
			continue
		}

		if _, known := lpdb.byPath[e.Path]; !known {
			continue
		}

		if time.Unix(0, e.ModTime).After(lastSync) {
			if !seen[e.Path] {
				seen[e.Path] = true

				modified = append(modified, e.Path)
			}
		}
	}

	for p, e := range rmdb.byPath {
		if e.Directory {
			continue
		}

		if e.LastSync.After(lastSync) && !seen[p] {
			seen[p] = true

			modified = append(modified, p)
		}
	}

	return modified
}

func deletedFrom(lpdb []localdb.Entry, scan scanIndex) []string {
	var deleted []string

	for _, e := range lpdb {
		if _, present := scan.byPath[e.Path]; !present {
			deleted = append(deleted, e.Path)
		}
	}

	return deleted
}

// pruneDescendants removes any deleted path whose ancestor directory is
// also in the deleted set, since deleting the directory subsumes it (spec
// §4.8: "if the path is a directory, prune its descendants from the
// deletion set").
func pruneDescendants(deleted []string, knownDirs map[string]bool) []string {
	deletedSet := make(map[string]bool, len(deleted))
	for _, p := range deleted {
		deletedSet[p] = true
	}

	var pruned []string

	for _, p := range deleted {
		if hasDeletedAncestor(p, deletedSet) {
			continue
		}

		pruned = append(pruned, p)
	}

	return pruned
}

func hasDeletedAncestor(p string, deletedSet map[string]bool) bool {
	for {
		idx := lastSlash(p)
		if idx < 0 {
			return false
		}

		p = p[:idx]

		if deletedSet[p] {
			return true
		}
	}
}

func lastSlash(p string) int {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return i
		}
	}

	return -1
}

// trashBound returns the subset of deletedLocal paths still present in
// RMDB: the ones whose remote copy genuinely needs a trash-or-permanent
// decision, as opposed to a path some other client already removed
// remotely in an earlier pass.
func trashBound(deletedLocal []string, rmdb rmdbIndex) []string {
	var bound []string

	for _, p := range deletedLocal {
		if _, present := rmdb.byPath[p]; present {
			bound = append(bound, p)
		}
	}

	return bound
}
