// Package git versions the document root with go-git: status, commit,
// diff, history, remote sync and a periodic auto-commit.
package git

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/OlaProeis/ironPad/core/metrics"
)

// =============================================================================
// Errors
// =============================================================================

var (
	ErrEmptyPath     = errors.New("repository path cannot be empty")
	ErrNotGitRepo    = errors.New("path is not a git repository")
	ErrNoRemote      = errors.New("no remote configured")
	ErrNoCredentials = errors.New("no non-interactive credentials available")
	ErrInvalidCommit = errors.New("invalid commit reference")
)

// OperationError wraps an underlying go-git failure.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("git %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Op: op, Err: err}
}

// =============================================================================
// Configuration
// =============================================================================

const (
	DefaultRemoteName    = "origin"
	DefaultAuthorName    = "Ironpad"
	DefaultAuthorEmail   = "ironpad@local"
	DefaultBranch        = "main"
	DefaultLogLimit      = 50
	DefaultCommitMessage = "Auto-save"

	shortIDLength       = 8
	fileCountCacheSize  = 1024
	commitTimestampForm = "2006-01-02 15:04"
)

// Config configures a Repository.
type Config struct {
	// Root is the working tree; the repository lives in Root/.git.
	Root string

	RemoteName    string
	AuthorName    string
	AuthorEmail   string
	DefaultBranch string
	LogLimit      int

	// KnownHostsFiles verify ssh remotes. Empty uses go-git's defaults.
	KnownHostsFiles []string

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Clock stamps commit messages and signatures.
	Clock func() time.Time
}

func (c *Config) applyDefaults() {
	if c.RemoteName == "" {
		c.RemoteName = DefaultRemoteName
	}
	if c.AuthorName == "" {
		c.AuthorName = DefaultAuthorName
	}
	if c.AuthorEmail == "" {
		c.AuthorEmail = DefaultAuthorEmail
	}
	if c.DefaultBranch == "" {
		c.DefaultBranch = DefaultBranch
	}
	if c.LogLimit <= 0 {
		c.LogLimit = DefaultLogLimit
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// =============================================================================
// Repository
// =============================================================================

// Repository is the version-control handle for the document root.
//
// The repository is opened on every call so it may be created or removed
// underneath a running process. Mutating operations (commit, init, push,
// fetch) are serialised on writeMu; reads run concurrently.
type Repository struct {
	config Config
	logger *slog.Logger

	writeMu sync.Mutex

	diffs      *diffCache
	fileCounts *lru.Cache[plumbing.Hash, int]
}

// New returns a handle for cfg.Root. The directory need not be a repository
// yet; see InitIfAbsent.
func New(cfg Config) (*Repository, error) {
	if cfg.Root == "" {
		return nil, ErrEmptyPath
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	cfg.Root = root
	cfg.applyDefaults()

	diffs, err := newDiffCache()
	if err != nil {
		return nil, err
	}
	counts, err := lru.New[plumbing.Hash, int](fileCountCacheSize)
	if err != nil {
		return nil, err
	}

	return &Repository{
		config:     cfg,
		logger:     cfg.Logger,
		diffs:      diffs,
		fileCounts: counts,
	}, nil
}

func (r *Repository) Root() string { return r.config.Root }

// RemoteName returns the remote used by Push and Fetch.
func (r *Repository) RemoteName() string { return r.config.RemoteName }

// IsRepo reports whether Root currently holds a repository.
func (r *Repository) IsRepo() bool {
	_, err := r.open()
	return err == nil
}

// Close releases cached diffs.
func (r *Repository) Close() {
	r.diffs.Close()
}

// open maps a missing repository to ErrNotGitRepo.
func (r *Repository) open() (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(r.config.Root)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return nil, ErrNotGitRepo
	}
	if err != nil {
		return nil, opError("open", err)
	}
	return repo, nil
}

// headCommit returns the commit HEAD points to, or nil for an unborn branch.
func headCommit(repo *gogit.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return repo.CommitObject(ref.Hash())
}

// branchName reads the symbolic HEAD so it works before the first commit.
func branchName(repo *gogit.Repository) string {
	ref, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return ""
	}
	if ref.Type() == plumbing.SymbolicReference {
		return ref.Target().Short()
	}
	return shortID(ref.Hash())
}

func shortID(h plumbing.Hash) string {
	return h.String()[:shortIDLength]
}

func (r *Repository) signature() *object.Signature {
	return &object.Signature{
		Name:  r.config.AuthorName,
		Email: r.config.AuthorEmail,
		When:  r.config.Clock(),
	}
}

func commitInfo(c *object.Commit) *CommitInfo {
	return &CommitInfo{
		ID:        shortID(c.Hash),
		Message:   strings.TrimSpace(c.Message),
		Timestamp: c.Author.When,
	}
}
