package localdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "local.db")

	db, err := Open(ctx, dbPath, nil)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	return db
}

func TestAddPaths_DirectoryPriorityRollsUp(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.AddPaths(ctx, nil, []string{"letters", "letters/upper"}, 0))
	require.NoError(t, db.AddPaths(ctx, []string{"letters/a.txt", "letters/upper/A.txt"}, nil, 2))

	upper, ok, err := db.Get(ctx, "letters/upper")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, upper.Priority)

	top, ok, err := db.Get(ctx, "letters")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4.0, top.Priority)
}

func TestIncrement_RollsUpAncestors(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.AddPaths(ctx, nil, []string{"a"}, 0))
	require.NoError(t, db.AddPaths(ctx, []string{"a/f.txt"}, nil, 1))

	require.NoError(t, db.Increment(ctx, []string{"a/f.txt"}, 5))

	a, ok, err := db.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 6.0, a.Priority)
}

func TestRmPaths_RollsUpParentAfterDelete(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.AddPaths(ctx, nil, []string{"a"}, 0))
	require.NoError(t, db.AddPaths(ctx, []string{"a/f.txt", "a/g.txt"}, nil, 0))
	require.NoError(t, db.Increment(ctx, []string{"a/f.txt"}, 3))
	require.NoError(t, db.Increment(ctx, []string{"a/g.txt"}, 4))

	require.NoError(t, db.RmPaths(ctx, []string{"a/g.txt"}))

	a, ok, err := db.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, a.Priority)

	_, ok, err = db.Get(ctx, "a/g.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecay_ScalesUniformlyWithoutBreakingRollup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.AddPaths(ctx, nil, []string{"a"}, 0))
	require.NoError(t, db.AddPaths(ctx, []string{"a/f.txt"}, nil, 8))
	require.NoError(t, db.Increment(ctx, []string{"a/f.txt"}, 0)) // force rollup

	require.NoError(t, db.Decay(ctx, 0.5))

	f, ok, err := db.Get(ctx, "a/f.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4.0, f.Priority)

	a, ok, err := db.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 4.0, a.Priority)
}

func TestDecayFactor(t *testing.T) {
	f := DecayFactor(3600, 3600)
	assert.InDelta(t, 0.5, f, 1e-9)
}

func TestAddInflated_UsesMaxFilePriority(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.AddPaths(ctx, []string{"old.txt"}, nil, 9))
	require.NoError(t, db.AddInflated(ctx, []string{"new.txt"}, nil))

	n, ok, err := db.Get(ctx, "new.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 9.0, n.Priority)
}
