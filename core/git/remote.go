package git

import (
	"context"
	"errors"
	"fmt"
	"os"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const defaultSSHUser = "git"

// =============================================================================
// Push / Fetch
// =============================================================================

// Push sends the current branch to the configured remote. Only the SSH agent
// is consulted for credentials; nothing prompts. An up-to-date remote is
// success.
func (r *Repository) Push(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	repo, err := r.open()
	if err != nil {
		return err
	}
	url, err := r.remoteURL(repo)
	if err != nil {
		return err
	}

	head, err := repo.Head()
	if err != nil {
		return opError("push", fmt.Errorf("no commits to push: %w", err))
	}
	if !head.Name().IsBranch() {
		return opError("push", errors.New("HEAD is detached"))
	}
	branch := head.Name()

	auth, err := r.authFor(url)
	if err != nil {
		return err
	}

	err = repo.PushContext(ctx, &gogit.PushOptions{
		RemoteName: r.config.RemoteName,
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("%s:%s", branch, branch))},
		Auth:       auth,
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return opError("push", err)
	}

	r.logger.Info("pushed", "remote", r.config.RemoteName, "branch", branch.Short())
	return nil
}

// Fetch updates remote-tracking references from the configured remote.
func (r *Repository) Fetch(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	repo, err := r.open()
	if err != nil {
		return err
	}
	url, err := r.remoteURL(repo)
	if err != nil {
		return err
	}
	auth, err := r.authFor(url)
	if err != nil {
		return err
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: r.config.RemoteName,
		Auth:       auth,
	})
	if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return nil
	}
	if err != nil {
		return opError("fetch", err)
	}

	r.logger.Info("fetched", "remote", r.config.RemoteName)
	return nil
}

// HasRemote reports whether the configured remote exists with a URL.
func (r *Repository) HasRemote() bool {
	repo, err := r.open()
	if err != nil {
		return false
	}
	_, err = r.remoteURL(repo)
	return err == nil
}

func (r *Repository) remoteURL(repo *gogit.Repository) (string, error) {
	remote, err := repo.Remote(r.config.RemoteName)
	if errors.Is(err, gogit.ErrRemoteNotFound) {
		return "", fmt.Errorf("%w: %s", ErrNoRemote, r.config.RemoteName)
	}
	if err != nil {
		return "", opError("remote", err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 || urls[0] == "" {
		return "", fmt.Errorf("%w: %s has no url", ErrNoRemote, r.config.RemoteName)
	}
	return urls[0], nil
}

// authFor picks non-interactive credentials for url: none for local paths,
// the SSH agent for ssh, and a fast failure for everything else.
func (r *Repository) authFor(url string) (transport.AuthMethod, error) {
	ep, err := transport.NewEndpoint(url)
	if err != nil {
		return nil, opError("remote", err)
	}

	switch ep.Protocol {
	case "file":
		return nil, nil
	case "ssh":
		user := ep.User
		if user == "" {
			user = defaultSSHUser
		}
		auth, err := gitssh.NewSSHAgentAuth(user)
		if err != nil {
			return nil, fmt.Errorf("%w: ssh agent: %v", ErrNoCredentials, err)
		}
		if callback := r.hostKeyCallback(); callback != nil {
			auth.HostKeyCallback = callback
		}
		return auth, nil
	default:
		return nil, fmt.Errorf("%w: %s remotes require interactive credentials", ErrNoCredentials, ep.Protocol)
	}
}

// hostKeyCallback builds a verifier from the configured known_hosts files
// that exist. Nil leaves go-git's default in place.
func (r *Repository) hostKeyCallback() cryptossh.HostKeyCallback {
	var files []string
	for _, f := range r.config.KnownHostsFiles {
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil
	}
	callback, err := knownhosts.New(files...)
	if err != nil {
		r.logger.Warn("ignoring known_hosts", "files", files, "error", err)
		return nil
	}
	return callback
}

// =============================================================================
// Remote Info
// =============================================================================

// RemoteInfo describes the configured remote and how the current branch
// relates to its upstream. It returns nil when no remote is configured.
func (r *Repository) RemoteInfo() (*RemoteInfo, error) {
	repo, err := r.open()
	if err != nil {
		return nil, err
	}
	url, err := r.remoteURL(repo)
	if errors.Is(err, ErrNoRemote) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	info := &RemoteInfo{Name: r.config.RemoteName, URL: url}

	head, err := repo.Head()
	if err != nil || !head.Name().IsBranch() {
		return info, nil
	}
	upstream, err := repo.Reference(plumbing.NewRemoteReferenceName(r.config.RemoteName, head.Name().Short()), true)
	if err != nil {
		return info, nil
	}
	info.HasUpstream = true

	ahead, behind, err := aheadBehind(repo, head.Hash(), upstream.Hash())
	if err != nil {
		return nil, opError("remote", err)
	}
	info.Ahead, info.Behind = ahead, behind
	return info, nil
}

func aheadBehind(repo *gogit.Repository, local, upstream plumbing.Hash) (int, int, error) {
	if local == upstream {
		return 0, 0, nil
	}
	localSet, err := ancestors(repo, local)
	if err != nil {
		return 0, 0, err
	}
	upstreamSet, err := ancestors(repo, upstream)
	if err != nil {
		return 0, 0, err
	}

	ahead, behind := 0, 0
	for h := range localSet {
		if _, ok := upstreamSet[h]; !ok {
			ahead++
		}
	}
	for h := range upstreamSet {
		if _, ok := localSet[h]; !ok {
			behind++
		}
	}
	return ahead, behind, nil
}

func ancestors(repo *gogit.Repository, from plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
	commit, err := repo.CommitObject(from)
	if err != nil {
		return nil, err
	}
	seen := make(map[plumbing.Hash]struct{})
	err = object.NewCommitPreorderIter(commit, nil, nil).ForEach(func(c *object.Commit) error {
		seen[c.Hash] = struct{}{}
		return nil
	})
	return seen, err
}
