package git

import (
	"context"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Divergence counts commits reachable only from the local branch (ahead) and
// only from the remote-tracking branch (behind). Without a remote-tracking
// branch every local commit is ahead.
func (r *Repo) Divergence(ctx context.Context) (ahead, behind int, err error) {
	local, err := r.refHash(r.branchRef())
	if err != nil {
		return 0, 0, err
	}
	remote, err := r.refHash(r.remoteRef())
	if err != nil {
		return 0, 0, err
	}
	if local == remote {
		return 0, 0, nil
	}

	localSet, err := r.reachable(local)
	if err != nil {
		return 0, 0, err
	}
	remoteSet, err := r.reachable(remote)
	if err != nil {
		return 0, 0, err
	}

	for h := range localSet {
		if _, ok := remoteSet[h]; !ok {
			ahead++
		}
	}
	for h := range remoteSet {
		if _, ok := localSet[h]; !ok {
			behind++
		}
	}
	return ahead, behind, nil
}

func (r *Repo) reachable(from plumbing.Hash) (map[plumbing.Hash]struct{}, error) {
	set := make(map[plumbing.Hash]struct{})
	if from.IsZero() {
		return set, nil
	}

	iter, err := r.repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return nil, WrapErrorf(err, "failed to walk history from %s", from)
	}
	defer iter.Close()

	for {
		c, err := iter.Next()
		if err != nil {
			if isEOF(err) {
				return set, nil
			}
			return nil, WrapError(err, "failed to walk history")
		}
		set[c.Hash] = struct{}{}
	}
}

// IsClean reports whether the worktree matches HEAD, untracked files included.
func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return false, WrapError(err, "failed to get worktree status")
	}
	return status.IsClean(), nil
}

// dirtyPaths returns every path with staged, unstaged or untracked changes.
func (r *Repo) dirtyPaths() (map[string]struct{}, error) {
	status, err := r.worktree.Status()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree status")
	}
	dirty := make(map[string]struct{}, len(status))
	for p, s := range status {
		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			dirty[p] = struct{}{}
		}
	}
	return dirty, nil
}

// Head returns the commit hash of the tracked branch, or "" when it is unborn.
func (r *Repo) Head(ctx context.Context) (string, error) {
	h, err := r.refHash(r.branchRef())
	if err != nil || h.IsZero() {
		return "", err
	}
	return h.String(), nil
}

// RemoteHead returns the commit hash of the remote-tracking branch, or "" when
// nothing was fetched yet.
func (r *Repo) RemoteHead(ctx context.Context) (string, error) {
	h, err := r.refHash(r.remoteRef())
	if err != nil || h.IsZero() {
		return "", err
	}
	return h.String(), nil
}

// CurrentBranch returns the short name of the branch HEAD points at.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	head, err := r.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", WrapError(err, "failed to read HEAD")
	}
	if head.Type() != plumbing.SymbolicReference {
		return "", WrapError(ErrInvalidRef, "HEAD is detached")
	}
	return head.Target().Short(), nil
}
