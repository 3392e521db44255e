package git

import (
	"errors"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Log returns up to limit commits reachable from HEAD, newest first by
// committer time. A non-positive limit uses the configured default. An
// unborn branch yields an empty list.
func (r *Repository) Log(limit int) ([]CommitDetail, error) {
	if limit <= 0 {
		limit = r.config.LogLimit
	}

	repo, err := r.open()
	if err != nil {
		return nil, err
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []CommitDetail{}, nil
	}
	if err != nil {
		return nil, opError("log", err)
	}

	iter, err := repo.Log(&gogit.LogOptions{From: head.Hash(), Order: gogit.LogOrderCommitterTime})
	if err != nil {
		return nil, opError("log", err)
	}
	defer iter.Close()

	commits := make([]CommitDetail, 0, limit)
	err = iter.ForEach(func(c *object.Commit) error {
		if len(commits) >= limit {
			return storer.ErrStop
		}
		commits = append(commits, r.commitDetail(c))
		return nil
	})
	if err != nil {
		return nil, opError("log", err)
	}
	return commits, nil
}

func (r *Repository) commitDetail(c *object.Commit) CommitDetail {
	return CommitDetail{
		ID:           c.Hash.String(),
		ShortID:      shortID(c.Hash),
		Message:      strings.TrimSpace(c.Message),
		Author:       c.Author.Name,
		Timestamp:    c.Author.When,
		FilesChanged: r.filesChanged(c),
	}
}

// filesChanged counts paths differing from the first parent, or all files
// of a root commit. Counts are cached per hash; failures count as zero.
func (r *Repository) filesChanged(c *object.Commit) int {
	if n, ok := r.fileCounts.Get(c.Hash); ok {
		return n
	}

	n, err := countFilesChanged(c)
	if err != nil {
		r.logger.Debug("count files changed", "commit", shortID(c.Hash), "error", err)
		return 0
	}
	r.fileCounts.Add(c.Hash, n)
	return n
}

func countFilesChanged(c *object.Commit) (int, error) {
	tree, err := c.Tree()
	if err != nil {
		return 0, err
	}

	if c.NumParents() == 0 {
		n := 0
		err := tree.Files().ForEach(func(*object.File) error {
			n++
			return nil
		})
		return n, err
	}

	parent, err := c.Parent(0)
	if err != nil {
		return 0, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return 0, err
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return 0, err
	}
	return len(changes), nil
}
