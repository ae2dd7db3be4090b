package pathstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(context.Background(), dbPath, nil, true)
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })

	return s
}

func TestInsertPaths_BasicClosure(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertPaths(ctx, []Insert{
		{Path: "a", Directory: true},
		{Path: "a/b", Directory: true},
		{Path: "a/b/c.txt", Directory: false, Value: 3},
	}))

	node, ok, err := s.Get(ctx, "a/b/c.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.0, node.Value)

	ancestors, err := s.Ancestors(ctx, "a/b/c.txt")
	require.NoError(t, err)
	require.Len(t, ancestors, 3)

	depths := map[int]bool{}
	for _, e := range ancestors {
		depths[e.Depth] = true
	}

	assert.True(t, depths[0])
	assert.True(t, depths[1])
	assert.True(t, depths[2])
}

func TestInsertPaths_MarksParentAsDirectory(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertPaths(ctx, []Insert{
		{Path: "a", Directory: false},
	}))
	require.NoError(t, s.InsertPaths(ctx, []Insert{
		{Path: "a/b.txt", Directory: false},
	}))

	a, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, a.Directory)
}

func TestRemoveSubtree_CascadesDescendants(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertPaths(ctx, []Insert{
		{Path: "a", Directory: true},
		{Path: "a/b.txt", Directory: false},
		{Path: "a/c.txt", Directory: false},
	}))

	require.NoError(t, s.RemoveSubtree(ctx, "a"))

	_, ok, err := s.Get(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubtree_EnumeratesEntireStoreAtRoot(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertPaths(ctx, []Insert{
		{Path: "a", Directory: true},
		{Path: "a/b.txt", Directory: false},
		{Path: "z.txt", Directory: false},
	}))

	all, err := s.Subtree(ctx, "", SubtreeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRollUpDirectories_SumsImmediateChildren(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.InsertPaths(ctx, []Insert{
		{Path: "a", Directory: true},
		{Path: "a/b.txt", Directory: false, Value: 2},
		{Path: "a/c.txt", Directory: false, Value: 5},
	}))

	require.NoError(t, s.RollUpDirectories(ctx, []string{"a"}))

	a, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7.0, a.Value)
}

func TestInsertPaths_IsIdempotentOnReinsert(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	ins := []Insert{{Path: "x.txt", Directory: false, Value: 1}}
	require.NoError(t, s.InsertPaths(ctx, ins))
	require.NoError(t, s.InsertPaths(ctx, ins))

	all, err := s.Subtree(ctx, "", SubtreeFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
