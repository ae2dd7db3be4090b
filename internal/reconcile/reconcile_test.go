package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lostatc/zielen/internal/localdb"
	"github.com/lostatc/zielen/internal/pathexclude"
	"github.com/lostatc/zielen/internal/remotedb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, storageLimit int64, accountForSize bool) (*Coordinator, string, string) {
	t.Helper()

	localRoot := t.TempDir()
	remoteRoot := t.TempDir()
	dbDir := t.TempDir()

	ctx := context.Background()

	lpdb, err := localdb.Open(ctx, filepath.Join(dbDir, "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { lpdb.Close() })

	rmdb, err := remotedb.Open(ctx, filepath.Join(dbDir, "remote.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { rmdb.Close() })

	c := New(Config{
		LocalRoot:      localRoot,
		RemoteRoot:     remoteRoot,
		StorageLimit:   storageLimit,
		AccountForSize: accountForSize,
		LPDB:           lpdb,
		RMDB:           rmdb,
	})

	return c, localRoot, remoteRoot
}

func writeFile(t *testing.T, root, rel string, size int) {
	t.Helper()

	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, make([]byte, size), 0o644))
}

// seedBothSides writes the same files to both local and remote and tracks
// them in LPDB/RMDB, simulating the state right after a prior successful
// sync pass (the precondition every scenario test starts from).
func seedBothSides(t *testing.T, c *Coordinator, localRoot, remoteRoot string, files map[string]int) {
	t.Helper()

	ctx := context.Background()

	var names []string
	for rel, size := range files {
		writeFile(t, localRoot, rel, size)
		writeFile(t, remoteRoot, rel, size)
		names = append(names, rel)
	}

	dirs := impliedDirs(names)

	require.NoError(t, c.cfg.LPDB.AddPaths(ctx, names, dirs, 1))
	require.NoError(t, c.cfg.RMDB.AddPaths(ctx, names, dirs, time.Now()))
}

// impliedDirs returns every intermediate directory prefix of paths, so a
// batch of file-only inserts still carries the explicit ancestor entries
// the closure-table store requires (pathstore.InsertPaths never creates
// them implicitly).
func impliedDirs(paths []string) []string {
	seen := make(map[string]bool)

	var dirs []string

	for _, p := range paths {
		dir := filepath.Dir(p)
		for dir != "." && dir != "/" && dir != "" {
			if !seen[dir] {
				seen[dir] = true

				dirs = append(dirs, dir)
			}

			dir = filepath.Dir(dir)
		}
	}

	return dirs
}

func TestRunOnce_NewLocalFilePropagatesToRemote(t *testing.T) {
	c, localRoot, remoteRoot := newTestCoordinator(t, 1<<20, false)

	seedBothSides(t, c, localRoot, remoteRoot, map[string]int{
		"letters/a.txt":       10,
		"letters/upper/A.txt": 10,
		"numbers/1.txt":       10,
	})

	lastSync := time.Now().Add(-time.Hour)

	// New file created locally after the last sync.
	time.Sleep(10 * time.Millisecond)
	writeFile(t, localRoot, "letters/upper/B.txt", 4096*2)

	report, err := c.RunOnce(context.Background(), lastSync, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.AddedLocal)

	_, err = os.Stat(filepath.Join(remoteRoot, "letters/upper/B.txt"))
	assert.NoError(t, err)
}

func TestRunOnce_SizeAwarePrioritizationLeavesLargestSymlinked(t *testing.T) {
	blockSz := int64(4096)
	c, localRoot, remoteRoot := newTestCoordinator(t, 10*blockSz, true)

	seedBothSides(t, c, localRoot, remoteRoot, map[string]int{
		"letters/a.txt":       int(3 * blockSz),
		"letters/upper/A.txt": int(4 * blockSz),
		"numbers/1.txt":       int(7 * blockSz),
		"_.txt":               int(1 * blockSz),
	})

	now := time.Now()

	report, err := c.RunOnce(context.Background(), now, time.Time{}, now)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)

	info, err := os.Lstat(filepath.Join(localRoot, "numbers/1.txt"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0, "largest file should remain a symlink")

	for _, rel := range []string{"letters/a.txt", "letters/upper/A.txt", "_.txt"} {
		info, err := os.Lstat(filepath.Join(localRoot, rel))
		require.NoError(t, err)
		assert.True(t, info.Mode()&os.ModeSymlink == 0, "%s should be materialized", rel)
	}
}

func TestRunOnce_ConflictRenamesOlderSideAside(t *testing.T) {
	c, localRoot, remoteRoot := newTestCoordinator(t, 1<<20, false)

	seedBothSides(t, c, localRoot, remoteRoot, map[string]int{
		"letters/a.txt": 10,
	})

	lastSync := time.Now()
	time.Sleep(10 * time.Millisecond)

	// Local modified first (older change)...
	require.NoError(t, os.WriteFile(filepath.Join(localRoot, "letters/a.txt"), []byte("local-version"), 0o644))
	time.Sleep(10 * time.Millisecond)
	// ...then remote modified more recently, so the local copy is the one
	// renamed aside and the original path is refilled from remote.
	require.NoError(t, os.WriteFile(filepath.Join(remoteRoot, "letters/a.txt"), []byte("remote-version"), 0o644))

	report, err := c.RunOnce(context.Background(), lastSync, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Conflicts)

	entries, err := os.ReadDir(filepath.Join(localRoot, "letters"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "original path plus one renamed conflict copy")
}

func TestRunOnce_IdempotentSecondPassMakesNoChanges(t *testing.T) {
	c, localRoot, remoteRoot := newTestCoordinator(t, 1<<20, false)

	seedBothSides(t, c, localRoot, remoteRoot, map[string]int{
		"letters/a.txt": 10,
	})

	now := time.Now()

	_, err := c.RunOnce(context.Background(), now.Add(-time.Minute), time.Time{}, now)
	require.NoError(t, err)

	report2, err := c.RunOnce(context.Background(), now, time.Time{}, now.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, report2.AddedLocal)
	assert.Zero(t, report2.AddedRemote)
	assert.Zero(t, report2.Conflicts)
	assert.Empty(t, report2.Failures)

	_ = localRoot
	_ = remoteRoot
}

// newTestCoordinatorWithConfig is like newTestCoordinator but lets the
// caller adjust fields newTestCoordinator doesn't expose (TrashDirs,
// UseTrash, RemoteExclude, ...).
func newTestCoordinatorWithConfig(t *testing.T, mutate func(*Config)) (*Coordinator, string, string) {
	t.Helper()

	localRoot := t.TempDir()
	remoteRoot := t.TempDir()
	dbDir := t.TempDir()

	ctx := context.Background()

	lpdb, err := localdb.Open(ctx, filepath.Join(dbDir, "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { lpdb.Close() })

	rmdb, err := remotedb.Open(ctx, filepath.Join(dbDir, "remote.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { rmdb.Close() })

	cfg := Config{
		LocalRoot:  localRoot,
		RemoteRoot: remoteRoot,
		LPDB:       lpdb,
		RMDB:       rmdb,
	}

	mutate(&cfg)

	return New(cfg), localRoot, remoteRoot
}

// TestRunOnce_TrashReuseBypassesRemoteTrash covers spec.md's Scenario C: a
// file removed locally by the user straight into their desktop trash is
// recognized by the trash-reuse oracle and permanently removed from the
// remote rather than duplicated into the remote .trash, even though
// UseTrash is enabled.
func TestRunOnce_TrashReuseBypassesRemoteTrash(t *testing.T) {
	desktopTrash := t.TempDir()

	c, localRoot, remoteRoot := newTestCoordinatorWithConfig(t, func(cfg *Config) {
		cfg.UseTrash = true
		cfg.TrashDirs = []string{desktopTrash}
	})

	seedBothSides(t, c, localRoot, remoteRoot, map[string]int{
		"letters/a.txt": 10,
	})

	lastSync := time.Now()
	time.Sleep(10 * time.Millisecond)

	content, err := os.ReadFile(filepath.Join(localRoot, "letters/a.txt"))
	require.NoError(t, err)

	// The user drags the file into their desktop trash: it disappears
	// from the synced tree and an identical copy lands in one of
	// TrashDirs.
	require.NoError(t, os.Remove(filepath.Join(localRoot, "letters/a.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(desktopTrash, "a.txt"), content, 0o644))

	report, err := c.RunOnce(context.Background(), lastSync, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Equal(t, 1, report.ReusedFromTrash)
	assert.Zero(t, report.TrashedRemote)

	_, err = os.Stat(filepath.Join(remoteRoot, "letters/a.txt"))
	assert.True(t, os.IsNotExist(err), "remote copy should be permanently removed")

	trashEntries, err := os.ReadDir(filepath.Join(remoteRoot, ".zielen", "Trash"))
	if err == nil {
		assert.Empty(t, trashEntries, "remote .trash should stay empty on a reuse match")
	}
}

// TestRunOnce_StorageLimitRespectedWhenPeerAddsLargeRemoteFile covers
// spec.md's Scenario E: another client adds a large file directly to the
// shared remote tree; with the storage limit already accounted for by
// this client's existing materialized files, the new file is left
// symlinked rather than pulled down, and nothing already materialized is
// evicted to make room.
func TestRunOnce_StorageLimitRespectedWhenPeerAddsLargeRemoteFile(t *testing.T) {
	blockSz := int64(4096)
	c, localRoot, remoteRoot := newTestCoordinator(t, 10*blockSz, true)

	seedBothSides(t, c, localRoot, remoteRoot, map[string]int{
		"numbers/1.txt": int(7 * blockSz),
	})

	lastSync := time.Now()
	time.Sleep(10 * time.Millisecond)

	// Another client adds a file straight to the remote tree; this
	// client's local scan and LPDB have never seen it.
	writeFile(t, remoteRoot, "letters/upper/B.txt", int(5*blockSz))

	report, err := c.RunOnce(context.Background(), lastSync, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report.Failures)
	// "letters", "letters/upper", and "letters/upper/B.txt" are all new
	// relative to LPDB.
	assert.Equal(t, 3, report.AddedRemote)

	info, err := os.Lstat(filepath.Join(localRoot, "letters/upper/B.txt"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0, "B.txt should stay symlinked, over budget")

	info, err = os.Lstat(filepath.Join(localRoot, "numbers/1.txt"))
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink == 0, "previously materialized file should remain materialized")
}

// TestRunOnce_ExcludedFileRemovedOnceAllClientsExclude covers spec.md's
// Scenario F: a file excluded by only one of two clients sharing a
// remote stays put (the other client still wants it); once the combined
// remote-exclude pool reflects both clients' patterns, the next sync to
// touch it removes it from the remote tree and from that client's LPDB.
func TestRunOnce_ExcludedFileRemovedOnceAllClientsExclude(t *testing.T) {
	ctx := context.Background()
	remoteRoot := t.TempDir()
	dbDir := t.TempDir()

	rmdb, err := remotedb.Open(ctx, filepath.Join(dbDir, "remote.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { rmdb.Close() })

	writeFile(t, remoteRoot, "letters/upper/B.txt", 10)

	// Client 1: excludes the file locally, but the shared remote-exclude
	// pool doesn't carry the pattern yet (client 2 hasn't contributed it),
	// so removeExcludedRemote has nothing to act on. Its own sync still
	// picks up the file as a brand-new remote addition and tracks it
	// (being tracked in RMDB is what makes it eligible for
	// removeExcludedRemote later), and, as a locally excluded file that
	// still exists on the remote, materializes it.
	localRoot1 := t.TempDir()
	dbDir1 := t.TempDir()

	lpdb1, err := localdb.Open(ctx, filepath.Join(dbDir1, "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { lpdb1.Close() })

	c1 := New(Config{
		LocalRoot:     localRoot1,
		RemoteRoot:    remoteRoot,
		LPDB:          lpdb1,
		RMDB:          rmdb,
		LocalExclude:  pathexclude.New([]string{"/letters/upper/B.txt"}),
		RemoteExclude: pathexclude.New(nil),
	})

	lastSync := time.Now()
	time.Sleep(10 * time.Millisecond)

	report1, err := c1.RunOnce(ctx, lastSync, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report1.Failures)

	_, err = os.Stat(filepath.Join(remoteRoot, "letters/upper/B.txt"))
	assert.NoError(t, err, "remote file should survive while only one client excludes it")

	// Client 2 now also excludes the pattern, and the shared pool (the
	// merged RemoteExclude a real session would build from every client's
	// committed exclude file) reflects both clients' patterns. Client 2
	// has never synced before, so the file is still a brand-new remote
	// addition from its point of view too.
	localRoot2 := t.TempDir()
	dbDir2 := t.TempDir()

	lpdb2, err := localdb.Open(ctx, filepath.Join(dbDir2, "local.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { lpdb2.Close() })

	c2 := New(Config{
		LocalRoot:     localRoot2,
		RemoteRoot:    remoteRoot,
		LPDB:          lpdb2,
		RMDB:          rmdb,
		LocalExclude:  pathexclude.New([]string{"/letters/upper/B.txt"}),
		RemoteExclude: pathexclude.New([]string{"/letters/upper/B.txt"}),
	})

	report2, err := c2.RunOnce(ctx, lastSync, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Empty(t, report2.Failures)

	_, err = os.Stat(filepath.Join(remoteRoot, "letters/upper/B.txt"))
	assert.True(t, os.IsNotExist(err), "remote file should be gone once both clients exclude it")

	entries, err := lpdb2.Tree(ctx, "")
	require.NoError(t, err)

	for _, e := range entries {
		assert.NotEqual(t, "letters/upper/B.txt", e.Path, "client 2's LPDB should have dropped the excluded path")
	}
}
