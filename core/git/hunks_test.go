package git

import (
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ops(specs ...string) []lineOp {
	lines := make([]lineOp, 0, len(specs))
	for _, s := range specs {
		op := diffmatchpatch.DiffEqual
		switch s[0] {
		case '+':
			op = diffmatchpatch.DiffInsert
		case '-':
			op = diffmatchpatch.DiffDelete
		}
		lines = append(lines, lineOp{op: op, text: s[1:]})
	}
	return lines
}

func TestBuildHunks_NoChanges(t *testing.T) {
	assert.Empty(t, buildHunks(ops(" a", " b"), contextLines))
	assert.Empty(t, buildHunks(nil, contextLines))
}

func TestBuildHunks_SplitsDistantChanges(t *testing.T) {
	lines := ops("-a", "+A", " 1", " 2", " 3", " 4", " 5", " 6", " 7", " 8", "-z", "+Z")

	hunks := buildHunks(lines, contextLines)
	require.Len(t, hunks, 2)
	assert.Equal(t, "@@ -1,4 +1,4 @@", hunks[0].Header)
	assert.Len(t, hunks[0].Lines, 5)
	assert.Equal(t, "@@ -7,4 +7,4 @@", hunks[1].Header)
	assert.Equal(t, "6", hunks[1].Lines[0].Content)
}

func TestBuildHunks_MergesNearbyChanges(t *testing.T) {
	lines := ops("-a", " 1", " 2", " 3", " 4", " 5", " 6", "+b")

	hunks := buildHunks(lines, contextLines)
	require.Len(t, hunks, 1)
	assert.Equal(t, "@@ -1,7 +1,7 @@", hunks[0].Header)
}

func TestBuildHunks_DeleteAll(t *testing.T) {
	hunks := buildHunks(ops("-a", "-b"), contextLines)
	require.Len(t, hunks, 1)
	assert.Equal(t, "@@ -1,2 +0,0 @@", hunks[0].Header)
}

func TestBuildFileDiff_Counts(t *testing.T) {
	fd := buildFileDiff("a.md", DiffModified, "x\ny\n", "x\nY\nz\n", false)

	assert.Equal(t, 2, fd.Additions)
	assert.Equal(t, 1, fd.Deletions)
	require.Len(t, fd.Hunks, 1)
}

func TestBuildFileDiff_Binary(t *testing.T) {
	fd := buildFileDiff("a.bin", DiffAdded, "", "", true)

	assert.True(t, fd.Binary)
	assert.Empty(t, fd.Hunks)
	assert.Zero(t, fd.Additions)
}
