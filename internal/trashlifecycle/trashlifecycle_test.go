package trashlifecycle

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollisionName_NoCollisionReturnsOriginal(t *testing.T) {
	got := CollisionName("report.txt", map[string]bool{})
	assert.Equal(t, "report.txt", got)
}

func TestCollisionName_IncrementsParentheticalCounter(t *testing.T) {
	existing := map[string]bool{"report.txt": true, "report(1).txt": true}
	got := CollisionName("report.txt", existing)
	assert.Equal(t, "report(2).txt", got)
}

func TestMove_RelocatesIntoTrashAndStampsMtime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	trash := filepath.Join(dir, "trash")
	now := time.Now().Add(-time.Hour).Truncate(time.Second)

	dest, err := Move(src, trash, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(trash, "doomed.txt"), dest)

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.WithinDuration(t, now, info.ModTime(), time.Second)
}

func TestMove_ResolvesCollisionAgainstExistingTrashEntry(t *testing.T) {
	dir := t.TempDir()
	trash := filepath.Join(dir, "trash")
	require.NoError(t, os.MkdirAll(trash, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(trash, "doomed.txt"), []byte("old"), 0o644))

	src := filepath.Join(dir, "doomed.txt")
	require.NoError(t, os.WriteFile(src, []byte("new"), 0o644))

	dest, err := Move(src, trash, time.Now())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(trash, "doomed(1).txt"), dest)
}

func TestMove_MissingSourceIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	trash := filepath.Join(dir, "trash")

	dest, err := Move(filepath.Join(dir, "gone.txt"), trash, time.Now())
	require.NoError(t, err)
	assert.Empty(t, dest)
}

func TestCleanup_RemovesEntriesOlderThanCutoff(t *testing.T) {
	dir := t.TempDir()
	trash := filepath.Join(dir, "trash")
	require.NoError(t, os.MkdirAll(trash, 0o755))

	old := filepath.Join(trash, "old.txt")
	fresh := filepath.Join(trash, "fresh.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))

	now := time.Now()
	require.NoError(t, os.Chtimes(old, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	require.NoError(t, os.Chtimes(fresh, now.Add(-time.Hour), now.Add(-time.Hour)))

	removed, err := Cleanup(trash, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
