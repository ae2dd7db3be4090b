package remotedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "remote.db")

	db, err := Open(context.Background(), dbPath, nil)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestAddPaths_StampsLastSync(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.AddPaths(ctx, []string{"a.txt"}, nil, now))

	e, ok, err := db.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, now, e.LastSync, time.Millisecond)
}

func TestUpdatedSince_ExcludesEqualTimestamp(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	t0 := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	require.NoError(t, db.AddPaths(ctx, []string{"a.txt"}, nil, t0))
	require.NoError(t, db.AddPaths(ctx, []string{"b.txt"}, nil, t1))

	updated, err := db.UpdatedSince(ctx, t0)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "b.txt", updated[0].Path)
}

func TestRmPaths_CascadesToDescendants(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	now := time.Now()
	require.NoError(t, db.AddPaths(ctx, nil, []string{"dir"}, now))
	require.NoError(t, db.AddPaths(ctx, []string{"dir/f.txt"}, nil, now))

	require.NoError(t, db.RmPaths(ctx, []string{"dir"}))

	_, ok, err := db.Get(ctx, "dir/f.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}
