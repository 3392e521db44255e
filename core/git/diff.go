package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/binary"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	gitdiff "github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines kept around each change.
const contextLines = 3

// =============================================================================
// Working Tree Diff
// =============================================================================

// WorkingDiff compares the HEAD tree with the files on disk. Untracked
// documents are reported as added.
func (r *Repository) WorkingDiff() (DiffInfo, error) {
	repo, err := r.open()
	if err != nil {
		return DiffInfo{}, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return DiffInfo{}, opError("diff", err)
	}
	st, err := wt.Status()
	if err != nil {
		return DiffInfo{}, opError("diff", err)
	}

	head, err := headCommit(repo)
	if err != nil {
		return DiffInfo{}, opError("diff", err)
	}
	var headTree *object.Tree
	if head != nil {
		if headTree, err = head.Tree(); err != nil {
			return DiffInfo{}, opError("diff", err)
		}
	}

	paths := make([]string, 0, len(st))
	for path, fs := range st {
		if statusLabel(fs) != "" {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	files := make([]FileDiff, 0, len(paths))
	for _, path := range paths {
		fd, ok, err := r.workingFileDiff(headTree, path)
		if err != nil {
			return DiffInfo{}, opError("diff", err)
		}
		if ok {
			files = append(files, fd)
		}
	}
	return newDiffInfo(files), nil
}

func (r *Repository) workingFileDiff(headTree *object.Tree, path string) (FileDiff, bool, error) {
	oldContent, oldExists, oldBinary, err := treeFileContent(headTree, path)
	if err != nil {
		return FileDiff{}, false, err
	}

	data, err := os.ReadFile(filepath.Join(r.config.Root, filepath.FromSlash(path)))
	newExists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return FileDiff{}, false, err
	}
	newBinary := newExists && isBinary(data)

	var status string
	switch {
	case !oldExists && !newExists:
		return FileDiff{}, false, nil
	case !oldExists:
		status = DiffAdded
	case !newExists:
		status = DiffDeleted
	default:
		if oldContent == string(data) {
			return FileDiff{}, false, nil
		}
		status = DiffModified
	}

	return buildFileDiff(path, status, oldContent, string(data), oldBinary || newBinary), true, nil
}

func treeFileContent(tree *object.Tree, path string) (content string, exists, bin bool, err error) {
	if tree == nil {
		return "", false, false, nil
	}
	f, err := tree.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return "", false, false, nil
	}
	if err != nil {
		return "", false, false, err
	}
	return blobContent(f)
}

func blobContent(f *object.File) (content string, exists, bin bool, err error) {
	if f == nil {
		return "", false, false, nil
	}
	if bin, err = f.IsBinary(); err != nil {
		return "", true, false, err
	}
	if bin {
		return "", true, true, nil
	}
	content, err = f.Contents()
	return content, true, false, err
}

func isBinary(data []byte) bool {
	bin, err := binary.IsBinary(bytes.NewReader(data))
	return err == nil && bin
}

// =============================================================================
// Commit Diff
// =============================================================================

// CommitDiff compares a commit with its first parent. A root commit shows
// every file as added. Results are cached by commit hash.
func (r *Repository) CommitDiff(id string) (DiffInfo, error) {
	repo, err := r.open()
	if err != nil {
		return DiffInfo{}, err
	}

	hash, err := resolveCommit(repo, id)
	if err != nil {
		return DiffInfo{}, err
	}
	if cached, ok := r.diffs.Get(hash); ok {
		return cached, nil
	}

	commit, err := repo.CommitObject(hash)
	if err != nil {
		return DiffInfo{}, fmt.Errorf("%w: %s", ErrInvalidCommit, id)
	}

	info, err := commitDiff(commit)
	if err != nil {
		return DiffInfo{}, opError("diff", err)
	}
	r.diffs.Set(hash, info)
	return info, nil
}

// resolveCommit accepts full or abbreviated hashes and revision expressions.
func resolveCommit(repo *gogit.Repository, id string) (plumbing.Hash, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return plumbing.ZeroHash, ErrInvalidCommit
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(id))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", ErrInvalidCommit, id)
	}
	return *hash, nil
}

func commitDiff(commit *object.Commit) (DiffInfo, error) {
	tree, err := commit.Tree()
	if err != nil {
		return DiffInfo{}, err
	}

	if commit.NumParents() == 0 {
		return rootCommitDiff(tree)
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return DiffInfo{}, err
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return DiffInfo{}, err
	}

	changes, err := object.DiffTreeWithOptions(context.Background(), parentTree, tree, object.DefaultDiffTreeOptions)
	if err != nil {
		return DiffInfo{}, err
	}

	files := make([]FileDiff, 0, len(changes))
	for _, change := range changes {
		fd, err := changeDiff(change)
		if err != nil {
			return DiffInfo{}, err
		}
		files = append(files, fd)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return newDiffInfo(files), nil
}

func rootCommitDiff(tree *object.Tree) (DiffInfo, error) {
	var files []FileDiff
	err := tree.Files().ForEach(func(f *object.File) error {
		content, _, bin, err := blobContent(f)
		if err != nil {
			return err
		}
		files = append(files, buildFileDiff(f.Name, DiffAdded, "", content, bin))
		return nil
	})
	if err != nil {
		return DiffInfo{}, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return newDiffInfo(files), nil
}

func changeDiff(change *object.Change) (FileDiff, error) {
	action, err := change.Action()
	if err != nil {
		return FileDiff{}, err
	}
	from, to, err := change.Files()
	if err != nil {
		return FileDiff{}, err
	}

	oldContent, _, oldBin, err := blobContent(from)
	if err != nil {
		return FileDiff{}, err
	}
	newContent, _, newBin, err := blobContent(to)
	if err != nil {
		return FileDiff{}, err
	}

	path := change.To.Name
	var status string
	switch action {
	case merkletrie.Insert:
		status = DiffAdded
	case merkletrie.Delete:
		status = DiffDeleted
		path = change.From.Name
	default:
		status = DiffModified
		if change.From.Name != change.To.Name {
			status = DiffRenamed
		}
	}

	return buildFileDiff(path, status, oldContent, newContent, oldBin || newBin), nil
}

// =============================================================================
// Hunks
// =============================================================================

type lineOp struct {
	op   diffmatchpatch.Operation
	text string
}

func newDiffInfo(files []FileDiff) DiffInfo {
	if files == nil {
		files = []FileDiff{}
	}
	info := DiffInfo{Files: files}
	info.Stats.FilesChanged = len(files)
	for _, f := range files {
		info.Stats.Insertions += f.Additions
		info.Stats.Deletions += f.Deletions
	}
	return info
}

func buildFileDiff(path, status, oldContent, newContent string, bin bool) FileDiff {
	fd := FileDiff{Path: path, Status: status, Binary: bin, Hunks: []DiffHunk{}}
	if bin {
		return fd
	}

	lines := splitOps(gitdiff.Do(oldContent, newContent))
	for _, l := range lines {
		switch l.op {
		case diffmatchpatch.DiffInsert:
			fd.Additions++
		case diffmatchpatch.DiffDelete:
			fd.Deletions++
		}
	}
	fd.Hunks = buildHunks(lines, contextLines)
	return fd
}

// splitOps expands line-mode diff chunks into one entry per line, without
// trailing newlines.
func splitOps(diffs []diffmatchpatch.Diff) []lineOp {
	var lines []lineOp
	for _, d := range diffs {
		for _, text := range strings.SplitAfter(d.Text, "\n") {
			if text == "" {
				continue
			}
			lines = append(lines, lineOp{op: d.Type, text: strings.TrimSuffix(text, "\n")})
		}
	}
	return lines
}

// buildHunks groups changed lines into unified hunks. Changes separated by
// at most 2*ctxLines unchanged lines share a hunk.
func buildHunks(lines []lineOp, ctxLines int) []DiffHunk {
	n := len(lines)
	oldBefore := make([]int, n+1)
	newBefore := make([]int, n+1)
	for i, l := range lines {
		oldBefore[i+1] = oldBefore[i]
		newBefore[i+1] = newBefore[i]
		if l.op != diffmatchpatch.DiffInsert {
			oldBefore[i+1]++
		}
		if l.op != diffmatchpatch.DiffDelete {
			newBefore[i+1]++
		}
	}

	hunks := []DiffHunk{}
	i := 0
	for i < n {
		for i < n && lines[i].op == diffmatchpatch.DiffEqual {
			i++
		}
		if i == n {
			break
		}

		start := max(0, i-ctxLines)
		end := i + 1
		j := i + 1
		for j < n {
			if lines[j].op != diffmatchpatch.DiffEqual {
				j++
				end = j
				continue
			}
			k := j
			for k < n && lines[k].op == diffmatchpatch.DiffEqual {
				k++
			}
			if k == n || k-j > 2*ctxLines {
				break
			}
			j = k
		}
		stop := min(n, end+ctxLines)

		hunks = append(hunks, makeHunk(lines[start:stop], oldBefore[start], newBefore[start]))
		i = stop
	}
	return hunks
}

func makeHunk(lines []lineOp, oldSkipped, newSkipped int) DiffHunk {
	hunk := DiffHunk{Lines: make([]DiffLine, 0, len(lines))}
	oldCount, newCount := 0, 0
	for _, l := range lines {
		var origin LineOrigin
		switch l.op {
		case diffmatchpatch.DiffInsert:
			origin = OriginAddition
			newCount++
		case diffmatchpatch.DiffDelete:
			origin = OriginDeletion
			oldCount++
		default:
			origin = OriginContext
			oldCount++
			newCount++
		}
		hunk.Lines = append(hunk.Lines, DiffLine{Origin: origin, Content: l.text})
	}

	hunk.Header = fmt.Sprintf("@@ -%d,%d +%d,%d @@",
		hunkStart(oldSkipped, oldCount), oldCount,
		hunkStart(newSkipped, newCount), newCount)
	return hunk
}

// hunkStart is 1-based, except that an empty range names the line before it.
func hunkStart(skipped, count int) int {
	if count == 0 {
		return skipped
	}
	return skipped + 1
}
