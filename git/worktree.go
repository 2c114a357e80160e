package git

import (
	"context"
	"errors"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/format/index"
)

// Stage records the current state of each path in the index: existing files
// are added, missing files are removed. Unknown missing paths are ignored.
func (r *Repo) Stage(ctx context.Context, paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}

		exists, err := r.fs.Exists(r.workPath(p))
		if err != nil {
			return WrapErrorf(err, "failed to stat %q", p)
		}

		if exists {
			if _, err := r.worktree.Add(p); err != nil {
				return WrapErrorf(err, "failed to add path %q", p)
			}
			continue
		}

		if _, err := r.worktree.Remove(p); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
			return WrapErrorf(err, "failed to remove path %q", p)
		}
	}
	return nil
}

// StageAll stages every modification, deletion and untracked file.
func (r *Repo) StageAll(ctx context.Context) error {
	if err := r.worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return WrapError(err, "failed to stage changes")
	}
	return nil
}

// Commit creates a commit from the index and returns its SHA. ErrEmptyCommit
// is returned when nothing is staged and opts.AllowEmpty is false.
func (r *Repo) Commit(ctx context.Context, msg string, who Signature, opts CommitOpts) (string, error) {
	if msg == "" {
		return "", WrapError(ErrInvalidRef, "commit message cannot be empty")
	}

	if who.Name == "" || who.Email == "" {
		return "", WrapError(ErrInvalidRef, "committer name and email are required")
	}

	if opts.All {
		if err := r.StageAll(ctx); err != nil {
			return "", err
		}
	}

	status, err := r.worktree.Status()
	if err != nil {
		return "", WrapError(err, "failed to get worktree status")
	}

	staged := 0
	for _, fileStatus := range status {
		if fileStatus.Staging != git.Untracked && fileStatus.Staging != git.Unmodified {
			staged++
		}
	}

	if staged == 0 && !opts.AllowEmpty {
		return "", ErrEmptyCommit
	}

	sig := &object.Signature{Name: who.Name, Email: who.Email, When: who.When}
	hash, err := r.worktree.Commit(msg, &git.CommitOptions{
		Author:            sig,
		Committer:         sig,
		AllowEmptyCommits: opts.AllowEmpty,
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", ErrEmptyCommit
		}
		return "", WrapError(err, "failed to create commit")
	}

	return hash.String(), nil
}

func (r *Repo) workPath(p string) string {
	if r.options.Workdir == DefaultWorkdir {
		return p
	}
	return r.options.Workdir + "/" + p
}
