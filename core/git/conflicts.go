package git

import (
	"os"
	"path/filepath"
	"sort"

	gogit "github.com/go-git/go-git/v5"
)

// CheckConflicts lists paths with unresolved merge conflicts, from both the
// status view and the index stages.
func (r *Repository) CheckConflicts() ([]string, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(filepath.Join(r.config.Root, ".git", "index.lock")); err == nil {
		r.logger.Warn("git index.lock present; another git process may be running",
			"path", filepath.Join(r.config.Root, ".git", "index.lock"))
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, opError("conflicts", err)
	}
	st, err := wt.Status()
	if err != nil {
		return nil, opError("conflicts", err)
	}

	paths, err := conflictedPaths(repo, st)
	if err != nil {
		return nil, opError("conflicts", err)
	}
	return paths, nil
}

// conflictedPaths unions unmerged status entries with index entries at a
// non-zero stage. Stage 0 is the normal, merged entry.
func conflictedPaths(repo *gogit.Repository, st gogit.Status) ([]string, error) {
	seen := make(map[string]struct{})
	for path, fs := range st {
		if fs.Staging == gogit.UpdatedButUnmerged || fs.Worktree == gogit.UpdatedButUnmerged {
			seen[path] = struct{}{}
		}
	}

	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, err
	}
	for _, entry := range idx.Entries {
		if entry.Stage != 0 {
			seen[entry.Name] = struct{}{}
		}
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}
