package git

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/OlaProeis/ironPad/core/metrics"
)

const (
	gitignoreContent     = "*.tmp\n.DS_Store\n"
	initialCommitMessage = "Initial commit"
)

// CommitAll stages every change, deletions included, and commits it. An
// empty message becomes "Auto-save"; the local time is appended. When the
// tree matches HEAD the result is OutcomeNoChanges and no commit is made.
func (r *Repository) CommitAll(message string) (CommitResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	result, err := r.commitAll(message)
	switch {
	case err != nil:
		r.config.Metrics.Commit(metrics.OutcomeFailed)
	case result.Outcome == OutcomeNoChanges:
		r.config.Metrics.Commit(metrics.OutcomeNoChanges)
	default:
		r.config.Metrics.Commit(metrics.OutcomeCommitted)
	}
	return result, err
}

func (r *Repository) commitAll(message string) (CommitResult, error) {
	repo, err := r.open()
	if err != nil {
		return CommitResult{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return CommitResult{}, opError("commit", err)
	}

	st, err := wt.Status()
	if err != nil {
		return CommitResult{}, opError("commit", err)
	}
	if st.IsClean() {
		return CommitResult{Outcome: OutcomeNoChanges}, nil
	}

	if err := stageAll(wt); err != nil {
		return CommitResult{}, opError("commit", err)
	}

	msg := r.formatMessage(message)
	sig := r.signature()
	hash, err := wt.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig})
	if errors.Is(err, gogit.ErrEmptyCommit) {
		return CommitResult{Outcome: OutcomeNoChanges}, nil
	}
	if err != nil {
		return CommitResult{}, opError("commit", err)
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return CommitResult{}, opError("commit", err)
	}

	r.logger.Info("committed", "id", shortID(hash), "message", msg)
	return CommitResult{Outcome: OutcomeCommitted, Commit: commitInfo(commit)}, nil
}

// stageAll is "git add -A": additions, modifications and deletions.
func stageAll(wt *gogit.Worktree) error {
	if err := wt.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return err
	}

	st, err := wt.Status()
	if err != nil {
		return err
	}
	for path, fs := range st {
		if fs.Worktree == gogit.Deleted {
			if _, err := wt.Remove(path); err != nil {
				return fmt.Errorf("stage deletion of %s: %w", path, err)
			}
		}
	}
	return nil
}

func (r *Repository) formatMessage(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultCommitMessage
	}
	return fmt.Sprintf("%s (%s)", message, r.config.Clock().Format(commitTimestampForm))
}

// InitIfAbsent creates the repository with a .gitignore and an initial
// commit, stamped like any other commit. It reports whether anything was created; an existing repository
// is left untouched.
func (r *Repository) InitIfAbsent() (bool, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	_, err := r.open()
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotGitRepo) {
		return false, err
	}

	if err := os.MkdirAll(r.config.Root, 0o755); err != nil {
		return false, opError("init", err)
	}

	repo, err := gogit.PlainInitWithOptions(r.config.Root, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{
			DefaultBranch: plumbing.NewBranchReferenceName(r.config.DefaultBranch),
		},
	})
	if err != nil {
		return false, opError("init", err)
	}

	if err := ensureGitignore(r.config.Root); err != nil {
		return false, opError("init", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return false, opError("init", err)
	}
	if err := stageAll(wt); err != nil {
		return false, opError("init", err)
	}

	message := r.formatMessage(initialCommitMessage)
	sig := r.signature()
	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return false, opError("init", err)
	}

	r.logger.Info("initialized git repository",
		"root", r.config.Root,
		"branch", r.config.DefaultBranch,
		"commit", shortID(hash))
	return true, nil
}

func ensureGitignore(root string) error {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(gitignoreContent), 0o644)
}
