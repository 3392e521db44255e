package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OlaProeis/ironPad/core/git"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

func resetFlags() {
	configFile, dataDir, logLevel, logFormat = "", "", "", ""
	gitFormat, gitLimit, gitMessage = "table", 0, ""
	serveAddr = ""
}

// runCLI executes the root command against dir and returns stdout.
func runCLI(t *testing.T, dir, stdin string, args ...string) (string, error) {
	t.Helper()

	resetFlags()
	t.Cleanup(resetFlags)

	var out bytes.Buffer
	rootCmd.SetArgs(append([]string{"--data-dir", dir, "--log-level", "error"}, args...))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))

	err := rootCmd.Execute()
	return out.String(), err
}

// =============================================================================
// Format Parsing Tests
// =============================================================================

func TestParseGitFormat(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected GitOutputFormat
	}{
		{name: "json format", input: "json", expected: GitOutputJSON},
		{name: "JSON uppercase", input: "JSON", expected: GitOutputJSON},
		{name: "plain format", input: "plain", expected: GitOutputPlain},
		{name: "table format", input: "table", expected: GitOutputTable},
		{name: "default for unknown", input: "unknown", expected: GitOutputTable},
		{name: "empty string", input: "", expected: GitOutputTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseGitFormat(tt.input))
		})
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "A", statusCode(git.FileNew))
	assert.Equal(t, "M", statusCode(git.FileModified))
	assert.Equal(t, "D", statusCode(git.FileDeleted))
	assert.Equal(t, "R", statusCode(git.FileRenamed))
	assert.Equal(t, "U", statusCode(git.FileConflicted))
	assert.Equal(t, "?", statusCode("weird"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
}

// =============================================================================
// Output Tests
// =============================================================================

func TestFormatStatusOutput(t *testing.T) {
	status := git.RepoStatus{
		IsRepo:     true,
		State:      git.StateDirty,
		Branch:     "main",
		Files:      []git.FileStatus{{Path: "a.md", Status: git.FileModified}},
		HasChanges: true,
		LastCommit: &git.CommitInfo{ID: "abcdef12", Message: "Auto-save", Timestamp: time.Now().Add(-time.Hour)},
	}

	var table bytes.Buffer
	require.NoError(t, formatStatusOutput(&table, status, GitOutputTable))
	assert.Contains(t, table.String(), "Branch: main")
	assert.Contains(t, table.String(), "State:  dirty")
	assert.Contains(t, table.String(), "1 hour ago")
	assert.Contains(t, table.String(), "modified")

	var plain bytes.Buffer
	require.NoError(t, formatStatusOutput(&plain, status, GitOutputPlain))
	assert.Equal(t, "M a.md\n", plain.String())

	var js bytes.Buffer
	require.NoError(t, formatStatusOutput(&js, status, GitOutputJSON))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "dirty", decoded["state"])
}

func TestFormatStatusOutput_NoRepo(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, formatStatusOutput(&out, git.RepoStatus{State: git.StateNoRepo}, GitOutputTable))
	assert.Equal(t, "Not a git repository.\n", out.String())
}

func TestFormatLogOutput(t *testing.T) {
	commits := []git.CommitDetail{{
		ID:           strings.Repeat("a", 40),
		ShortID:      "aaaaaaaa",
		Message:      "Auto-save (2026-01-02 15:04)",
		Author:       "Ironpad",
		Timestamp:    time.Now().Add(-2 * time.Minute),
		FilesChanged: 3,
	}}

	var table bytes.Buffer
	require.NoError(t, formatLogOutput(&table, commits, GitOutputTable))
	assert.Contains(t, table.String(), "COMMIT")
	assert.Contains(t, table.String(), "aaaaaaaa")
	assert.Contains(t, table.String(), "2 minutes ago")

	var plain bytes.Buffer
	require.NoError(t, formatLogOutput(&plain, commits, GitOutputPlain))
	assert.Contains(t, plain.String(), "commit "+strings.Repeat("a", 40))
	assert.Contains(t, plain.String(), "Author: Ironpad")

	var empty bytes.Buffer
	require.NoError(t, formatLogOutput(&empty, nil, GitOutputJSON))
	assert.Equal(t, "[]\n", empty.String())
}

func TestFormatDiffOutput(t *testing.T) {
	diff := git.DiffInfo{
		Files: []git.FileDiff{{
			Path:      "a.md",
			Status:    git.DiffModified,
			Additions: 1,
			Deletions: 1,
			Hunks: []git.DiffHunk{{
				Header: "@@ -1,1 +1,1 @@",
				Lines: []git.DiffLine{
					{Origin: git.OriginDeletion, Content: "old"},
					{Origin: git.OriginAddition, Content: "new"},
				},
			}},
		}, {
			Path:   "img.md",
			Status: git.DiffAdded,
			Binary: true,
			Hunks:  []git.DiffHunk{},
		}},
		Stats: git.DiffStats{FilesChanged: 2, Insertions: 1, Deletions: 1},
	}

	var plain bytes.Buffer
	require.NoError(t, formatDiffOutput(&plain, diff, GitOutputPlain))
	assert.Equal(t, "modified a.md\n@@ -1,1 +1,1 @@\n-old\n+new\nadded img.md\n  (binary)\n", plain.String())

	var table bytes.Buffer
	require.NoError(t, formatDiffOutput(&table, diff, GitOutputTable))
	assert.Contains(t, table.String(), "+1")
	assert.Contains(t, table.String(), "2 files changed, 1 insertions(+), 1 deletions(-)")

	var none bytes.Buffer
	require.NoError(t, formatDiffOutput(&none, git.DiffInfo{}, GitOutputTable))
	assert.Equal(t, "No changes found.\n", none.String())
}

func TestFormatRemoteOutput(t *testing.T) {
	var none bytes.Buffer
	require.NoError(t, formatRemoteOutput(&none, nil, GitOutputTable))
	assert.Equal(t, "No remote configured.\n", none.String())

	var out bytes.Buffer
	info := &git.RemoteInfo{Name: "origin", URL: "/srv/notes.git", HasUpstream: true, Ahead: 2}
	require.NoError(t, formatRemoteOutput(&out, info, GitOutputTable))
	assert.Contains(t, out.String(), "origin\t/srv/notes.git")
	assert.Contains(t, out.String(), "ahead 2, behind 0")

	var js bytes.Buffer
	require.NoError(t, formatRemoteOutput(&js, nil, GitOutputJSON))
	assert.Equal(t, "null\n", js.String())
}

// =============================================================================
// Command Structure Tests
// =============================================================================

func TestGitCommandStructure(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range gitCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"status", "log", "diff", "commit", "conflicts", "remote", "push", "fetch", "init"} {
		assert.True(t, names[want], "missing git subcommand %s", want)
	}

	assert.NotNil(t, gitCmd.PersistentFlags().Lookup("format"))
	assert.NotNil(t, gitLogCmd.Flags().Lookup("limit"))
	assert.NotNil(t, gitCommitCmd.Flags().Lookup("message"))
}

// =============================================================================
// End-to-end CLI Tests
// =============================================================================

func TestCLI_WriteCommitLog(t *testing.T) {
	dir := t.TempDir()

	out, err := runCLI(t, dir, "", "git", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Initialized repository")

	out, err = runCLI(t, dir, "", "git", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	_, err = runCLI(t, dir, "# Hello\n", "doc", "write", "notes/hello.md")
	require.NoError(t, err)

	out, err = runCLI(t, dir, "", "git", "status", "--format", "plain")
	require.NoError(t, err)
	assert.Equal(t, "A notes/hello.md\n", out)

	out, err = runCLI(t, dir, "", "git", "diff", "--format", "plain")
	require.NoError(t, err)
	assert.Contains(t, out, "+# Hello")

	out, err = runCLI(t, dir, "", "git", "commit", "-m", "Add hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Add hello (")

	out, err = runCLI(t, dir, "", "git", "commit")
	require.NoError(t, err)
	assert.Equal(t, "No changes to commit.\n", out)

	out, err = runCLI(t, dir, "", "git", "log", "--format", "json")
	require.NoError(t, err)
	var commits []git.CommitDetail
	require.NoError(t, json.Unmarshal([]byte(out), &commits))
	require.Len(t, commits, 2)
	assert.True(t, strings.HasPrefix(commits[0].Message, "Add hello"))

	out, err = runCLI(t, dir, "", "git", "conflicts")
	require.NoError(t, err)
	assert.Equal(t, "No conflicts.\n", out)

	out, err = runCLI(t, dir, "", "git", "remote")
	require.NoError(t, err)
	assert.Equal(t, "No remote configured.\n", out)

	_, err = runCLI(t, dir, "", "git", "push")
	assert.ErrorIs(t, err, git.ErrNoRemote)
}

func TestCLI_DocCommands(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, dir, "body\n", "doc", "write", "a.md")
	require.NoError(t, err)

	_, err = runCLI(t, dir, "", "doc", "mv", "a.md", "sub/b.md")
	require.NoError(t, err)

	out, err := runCLI(t, dir, "", "doc", "cat", "sub/b.md")
	require.NoError(t, err)
	assert.Equal(t, "body\n", out)

	_, err = runCLI(t, dir, "", "doc", "cat", "a.md")
	assert.Error(t, err)

	_, err = runCLI(t, dir, "x", "doc", "write", "../escape.md")
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(dir), "escape.md"))
}

func TestCLI_InvalidLogLevel(t *testing.T) {
	_, err := runCLI(t, t.TempDir(), "", "--log-level", "loud", "git", "status")
	assert.Error(t, err)
}
