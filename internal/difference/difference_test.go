package difference

import (
	"testing"
	"time"

	"github.com/lostatc/zielen/internal/dirscan"
	"github.com/lostatc/zielen/internal/localdb"
	"github.com/lostatc/zielen/internal/remotedb"
	"github.com/stretchr/testify/assert"
)

func TestCompute_AddedLocalExcludesKnownAndUnsafe(t *testing.T) {
	in := Input{
		LocalScan: []dirscan.Entry{
			{Path: "new.txt", Kind: dirscan.KindFile},
			{Path: "known.txt", Kind: dirscan.KindFile},
			{Path: "bad_link", Kind: dirscan.KindSymlink, Unsafe: true},
		},
		LPDB: []localdb.Entry{{Path: "known.txt"}},
	}

	d := Compute(in)
	assert.ElementsMatch(t, []string{"new.txt"}, d.AddedLocal)
}

func TestCompute_AddedRemoteExcludesKnown(t *testing.T) {
	in := Input{
		RemoteScan: []dirscan.Entry{
			{Path: "new.txt", Kind: dirscan.KindFile},
			{Path: "known.txt", Kind: dirscan.KindFile},
		},
		LPDB: []localdb.Entry{{Path: "known.txt"}},
	}

	d := Compute(in)
	assert.ElementsMatch(t, []string{"new.txt"}, d.AddedRemote)
}

func TestCompute_ModifiedLocalRequiresNewerModTime(t *testing.T) {
	lastSync := time.Unix(1000, 0)

	in := Input{
		LocalScan: []dirscan.Entry{
			{Path: "old.txt", Kind: dirscan.KindFile, ModTime: time.Unix(500, 0).UnixNano()},
			{Path: "new.txt", Kind: dirscan.KindFile, ModTime: time.Unix(2000, 0).UnixNano()},
		},
		LPDB:     []localdb.Entry{{Path: "old.txt"}, {Path: "new.txt"}},
		LastSync: lastSync,
	}

	d := Compute(in)
	assert.ElementsMatch(t, []string{"new.txt"}, d.ModifiedLocal)
}

func TestCompute_ModifiedRemoteChecksScanAndRMDB(t *testing.T) {
	lastSync := time.Unix(1000, 0)

	in := Input{
		RemoteScan: []dirscan.Entry{
			{Path: "scan_touched.txt", Kind: dirscan.KindFile, ModTime: time.Unix(2000, 0).UnixNano()},
		},
		RMDB: []remotedb.Entry{
			{Path: "db_touched.txt", LastSync: time.Unix(3000, 0)},
			{Path: "db_stale.txt", LastSync: time.Unix(500, 0)},
		},
		LPDB: []localdb.Entry{
			{Path: "scan_touched.txt"},
			{Path: "db_touched.txt"},
			{Path: "db_stale.txt"},
		},
		LastSync: lastSync,
	}

	d := Compute(in)
	assert.ElementsMatch(t, []string{"scan_touched.txt", "db_touched.txt"}, d.ModifiedRemote)
}

func TestCompute_DeletedPrunesDescendantsOfDeletedDirectory(t *testing.T) {
	in := Input{
		LocalScan: []dirscan.Entry{},
		LPDB: []localdb.Entry{
			{Path: "dir", Directory: true},
			{Path: "dir/child.txt"},
			{Path: "standalone.txt"},
		},
	}

	d := Compute(in)
	assert.ElementsMatch(t, []string{"dir", "standalone.txt"}, d.DeletedLocal)
}

func TestCompute_TrashBoundOnlyForPathsStillTrackedInRMDB(t *testing.T) {
	in := Input{
		LocalScan:  []dirscan.Entry{},
		RemoteScan: []dirscan.Entry{},
		LPDB: []localdb.Entry{
			{Path: "tracked.txt"},
			{Path: "already_gone.txt"},
		},
		RMDB: []remotedb.Entry{
			{Path: "tracked.txt"},
		},
	}

	d := Compute(in)
	assert.ElementsMatch(t, []string{"tracked.txt", "already_gone.txt"}, d.DeletedLocal)
	assert.ElementsMatch(t, []string{"tracked.txt"}, d.TrashBound)
	assert.NotContains(t, d.TrashBound, "already_gone.txt")
}
