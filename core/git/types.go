package git

import (
	"fmt"
	"time"
)

// =============================================================================
// Repository State
// =============================================================================

// RepoState summarises the working tree.
type RepoState int

const (
	StateNoRepo RepoState = iota
	StateClean
	StateDirty
	StateConflicted
)

func (s RepoState) String() string {
	switch s {
	case StateNoRepo:
		return "no_repo"
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateConflicted:
		return "conflicted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s RepoState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// File status labels reported by Status.
const (
	FileNew        = "new"
	FileModified   = "modified"
	FileDeleted    = "deleted"
	FileRenamed    = "renamed"
	FileConflicted = "conflicted"
)

// FileStatus is one changed path in the working tree.
type FileStatus struct {
	Path   string `json:"path"`
	Status string `json:"status"`
}

// CommitInfo identifies a commit by its abbreviated id.
type CommitInfo struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// RepoStatus is the result of Status.
type RepoStatus struct {
	IsRepo     bool         `json:"is_repo"`
	State      RepoState    `json:"state"`
	Branch     string       `json:"branch,omitempty"`
	Files      []FileStatus `json:"files"`
	HasChanges bool         `json:"has_changes"`
	LastCommit *CommitInfo  `json:"last_commit,omitempty"`
}

// =============================================================================
// Commit
// =============================================================================

// CommitOutcome tells whether CommitAll produced a commit.
type CommitOutcome int

const (
	OutcomeCommitted CommitOutcome = iota
	OutcomeNoChanges
)

func (o CommitOutcome) String() string {
	if o == OutcomeNoChanges {
		return "no_changes"
	}
	return "committed"
}

// CommitResult is returned by CommitAll. Commit is nil for OutcomeNoChanges.
type CommitResult struct {
	Outcome CommitOutcome `json:"-"`
	Commit  *CommitInfo   `json:"commit,omitempty"`
}

// CommitDetail is one entry of Log.
type CommitDetail struct {
	ID           string    `json:"id"`
	ShortID      string    `json:"short_id"`
	Message      string    `json:"message"`
	Author       string    `json:"author"`
	Timestamp    time.Time `json:"timestamp"`
	FilesChanged int       `json:"files_changed"`
}

// =============================================================================
// Diff
// =============================================================================

// Diff status labels.
const (
	DiffAdded    = "added"
	DiffDeleted  = "deleted"
	DiffModified = "modified"
	DiffRenamed  = "renamed"
)

// LineOrigin marks a diff line as context, addition or deletion.
type LineOrigin string

const (
	OriginContext  LineOrigin = " "
	OriginAddition LineOrigin = "+"
	OriginDeletion LineOrigin = "-"
)

type DiffLine struct {
	Origin  LineOrigin `json:"origin"`
	Content string     `json:"content"`
}

// DiffHunk is a unified-diff hunk with its "@@ -a,b +c,d @@" header.
type DiffHunk struct {
	Header string     `json:"header"`
	Lines  []DiffLine `json:"lines"`
}

type FileDiff struct {
	Path      string     `json:"path"`
	Status    string     `json:"status"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Binary    bool       `json:"binary,omitempty"`
	Hunks     []DiffHunk `json:"hunks"`
}

type DiffStats struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// DiffInfo is the result of WorkingDiff and CommitDiff.
type DiffInfo struct {
	Files []FileDiff `json:"files"`
	Stats DiffStats  `json:"stats"`
}

// =============================================================================
// Remote
// =============================================================================

type RemoteInfo struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	HasUpstream bool   `json:"has_upstream"`
	Ahead       int    `json:"ahead"`
	Behind      int    `json:"behind"`
}
