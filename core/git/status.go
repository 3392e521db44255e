package git

import (
	"errors"
	"sort"

	gogit "github.com/go-git/go-git/v5"
)

// Status reports the working tree state. A missing repository is a valid
// result (StateNoRepo), not an error.
func (r *Repository) Status() (RepoStatus, error) {
	repo, err := r.open()
	if errors.Is(err, ErrNotGitRepo) {
		return RepoStatus{State: StateNoRepo, Files: []FileStatus{}}, nil
	}
	if err != nil {
		return RepoStatus{}, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return RepoStatus{}, opError("status", err)
	}
	st, err := wt.Status()
	if err != nil {
		return RepoStatus{}, opError("status", err)
	}

	status := RepoStatus{
		IsRepo: true,
		Branch: branchName(repo),
		Files:  convertStatus(st),
	}
	status.HasChanges = len(status.Files) > 0

	if head, err := headCommit(repo); err == nil && head != nil {
		status.LastCommit = commitInfo(head)
	}

	conflicted, err := conflictedPaths(repo, st)
	if err != nil {
		return RepoStatus{}, opError("status", err)
	}

	switch {
	case len(conflicted) > 0:
		status.State = StateConflicted
	case status.HasChanges:
		status.State = StateDirty
	default:
		status.State = StateClean
	}
	return status, nil
}

// convertStatus flattens go-git's two-column status into one label per path.
func convertStatus(st gogit.Status) []FileStatus {
	files := make([]FileStatus, 0, len(st))
	for path, fs := range st {
		label := statusLabel(fs)
		if label == "" {
			continue
		}
		files = append(files, FileStatus{Path: path, Status: label})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func statusLabel(fs *gogit.FileStatus) string {
	staging, worktree := fs.Staging, fs.Worktree
	switch {
	case staging == gogit.UpdatedButUnmerged || worktree == gogit.UpdatedButUnmerged:
		return FileConflicted
	case worktree == gogit.Untracked || staging == gogit.Added:
		return FileNew
	case staging == gogit.Deleted || worktree == gogit.Deleted:
		return FileDeleted
	case staging == gogit.Renamed || worktree == gogit.Renamed:
		return FileRenamed
	case staging == gogit.Modified || worktree == gogit.Modified,
		staging == gogit.Copied || worktree == gogit.Copied:
		return FileModified
	default:
		return ""
	}
}
