package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectFiles_PicksHighestPriorityFirst(t *testing.T) {
	candidates := []FileCandidate{
		{Path: "low.txt", Priority: 1, Size: 100},
		{Path: "high.txt", Priority: 10, Size: 100},
	}

	res := SelectFiles(candidates, 150, 10, false)
	assert.Equal(t, []string{"high.txt"}, res.Paths)
}

func TestSelectFiles_TieBreaksOnPath(t *testing.T) {
	candidates := []FileCandidate{
		{Path: "b.txt", Priority: 5, Size: 10},
		{Path: "a.txt", Priority: 5, Size: 10},
	}

	res := SelectFiles(candidates, 1000, 1, false)
	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Paths)
}

func TestSelectFiles_AccountForSizeFavorsDensePriority(t *testing.T) {
	candidates := []FileCandidate{
		{Path: "big.txt", Priority: 10, Size: 1000},
		{Path: "small.txt", Priority: 5, Size: 10},
	}

	res := SelectFiles(candidates, 20, 1, true)
	assert.Equal(t, []string{"small.txt"}, res.Paths)
}

func TestSelectFiles_StopsWhenSpaceExhausted(t *testing.T) {
	candidates := []FileCandidate{
		{Path: "a.txt", Priority: 3, Size: 50},
		{Path: "b.txt", Priority: 2, Size: 50},
		{Path: "c.txt", Priority: 1, Size: 50},
	}

	res := SelectFiles(candidates, 60, 5, false)
	assert.Equal(t, []string{"a.txt"}, res.Paths)
}

func TestSelectDirs_SkipsOversizedDirectory(t *testing.T) {
	candidates := []DirCandidate{
		{Path: "huge", Priority: 10, Size: 10000},
	}

	res := SelectDirs(candidates, func(string) []PathInfo { return nil }, 0, 1000, 5000, 10, false)
	assert.Empty(t, res.Paths)
}

func TestSelectDirs_SelectsDirectoryAndAbsorbsFiles(t *testing.T) {
	candidates := []DirCandidate{
		{Path: "docs", Priority: 10, Size: 100},
	}

	subtree := func(path string) []PathInfo {
		if path != "docs" {
			return nil
		}

		return []PathInfo{
			{Path: "docs", Directory: true},
			{Path: "docs/a.txt", Directory: false},
			{Path: "docs/b.txt", Directory: false},
		}
	}

	res := SelectDirs(candidates, subtree, 2, 1000, 1000, 10, false)
	assert.Equal(t, []string{"docs"}, res.Paths)
}

func TestSelectDirs_SkipsSubdirectoryOfAlreadySelectedParent(t *testing.T) {
	candidates := []DirCandidate{
		{Path: "docs", Priority: 10, Size: 100},
		{Path: "docs/sub", Priority: 5, Size: 20},
	}

	subtree := func(path string) []PathInfo {
		switch path {
		case "docs":
			return []PathInfo{
				{Path: "docs", Directory: true},
				{Path: "docs/sub", Directory: true},
				{Path: "docs/a.txt", Directory: false},
			}
		case "docs/sub":
			return []PathInfo{{Path: "docs/sub", Directory: true}}
		}

		return nil
	}

	res := SelectDirs(candidates, subtree, 1, 1000, 1000, 10, false)
	assert.Equal(t, []string{"docs"}, res.Paths)
}
