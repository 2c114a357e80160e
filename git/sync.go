package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

func (r *Repo) branchRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(r.options.Branch)
}

func (r *Repo) remoteRef() plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(DefaultRemoteName, r.options.Branch)
}

// authFor resolves credentials for the origin remote.
func (r *Repo) authFor() (transport.AuthMethod, error) {
	if r.options.Auth == nil {
		return nil, nil
	}
	url := r.RemoteURL()
	if url == "" {
		return nil, WrapError(ErrResolveFailed, "remote not configured")
	}
	method, err := r.options.Auth.Method(url)
	if err != nil {
		return nil, fmt.Errorf("failed to get authentication method: %w: %w", ErrAuthRequired, err)
	}
	return method, nil
}

// Fetch updates refs/remotes/origin/<branch> without touching the worktree.
// An empty remote is not an error. Returns ErrAlreadyUpToDate when nothing changed.
func (r *Repo) Fetch(ctx context.Context) error {
	authMethod, err := r.authFor()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.options.Timeout)
	defer cancel()

	spec := config.RefSpec(fmt.Sprintf("+%s:%s", r.branchRef(), r.remoteRef()))
	err = r.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: DefaultRemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       authMethod,
	})

	var noMatch git.NoMatchingRefSpecError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrEmptyRemoteRepository), errors.As(err, &noMatch):
		// the branch does not exist remotely yet
		return ErrAlreadyUpToDate
	default:
		return transportError(err, "failed to fetch from remote")
	}
}

// FastForward moves the tracked branch to the last fetched remote tip and
// updates only the files that differ between the two commits. It never
// contacts the remote.
//
// Returns ErrAlreadyUpToDate when the remote tip is missing or already
// contained in HEAD, ErrNotFastForward when history diverged and
// ErrMergeConflict when an incoming file has uncommitted local changes. In
// every error case the worktree is left untouched.
func (r *Repo) FastForward(ctx context.Context) error {
	remoteHash, err := r.refHash(r.remoteRef())
	if err != nil {
		return err
	}
	if remoteHash.IsZero() {
		return ErrAlreadyUpToDate
	}

	headHash, err := r.refHash(r.branchRef())
	if err != nil {
		return err
	}

	remoteCommit, err := r.repo.CommitObject(remoteHash)
	if err != nil {
		return WrapError(err, "failed to load remote commit")
	}

	var headCommit *object.Commit
	if !headHash.IsZero() {
		if headHash == remoteHash {
			return ErrAlreadyUpToDate
		}
		headCommit, err = r.repo.CommitObject(headHash)
		if err != nil {
			return WrapError(err, "failed to load HEAD commit")
		}
		if contained, ancErr := remoteCommit.IsAncestor(headCommit); ancErr != nil {
			return WrapError(ancErr, "failed to compare history")
		} else if contained {
			return ErrAlreadyUpToDate
		}
		if ff, ancErr := headCommit.IsAncestor(remoteCommit); ancErr != nil {
			return WrapError(ancErr, "failed to compare history")
		} else if !ff {
			return ErrNotFastForward
		}
	}

	incoming, err := changedPaths(headCommit, remoteCommit)
	if err != nil {
		return err
	}

	dirty, err := r.dirtyPaths()
	if err != nil {
		return err
	}
	for _, p := range incoming {
		if _, ok := dirty[p]; ok {
			return WrapErrorf(ErrMergeConflict, "local changes to %q would be overwritten", p)
		}
	}

	if headHash.IsZero() {
		// setHEADCommit in go-git requires the branch to exist
		if err := r.repo.Storer.SetReference(plumbing.NewHashReference(r.branchRef(), remoteHash)); err != nil {
			return WrapError(err, "failed to create branch")
		}
	}

	reset := &git.ResetOptions{Commit: remoteHash, Mode: git.HardReset, Files: incoming}
	if len(incoming) == 0 {
		// identical trees; an empty Files list would reset everything
		reset = &git.ResetOptions{Commit: remoteHash, Mode: git.SoftReset}
	}
	if err := r.worktree.Reset(reset); err != nil {
		return WrapError(err, "failed to fast-forward")
	}
	return nil
}

// Push sends the tracked branch to origin. Returns ErrNotFastForward when the
// remote has commits the local branch lacks and ErrAlreadyUpToDate when there
// is nothing to send.
func (r *Repo) Push(ctx context.Context) error {
	headHash, err := r.refHash(r.branchRef())
	if err != nil {
		return err
	}
	if headHash.IsZero() {
		return ErrAlreadyUpToDate
	}

	authMethod, err := r.authFor()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.options.Timeout)
	defer cancel()

	spec := config.RefSpec(fmt.Sprintf("%s:%s", r.branchRef(), r.branchRef()))
	err = r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: DefaultRemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       authMethod,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return transportError(err, "failed to push to remote")
	}

	// go-git only updates tracking refs matched by the remote's fetch specs
	if setErr := r.repo.Storer.SetReference(plumbing.NewHashReference(r.remoteRef(), headHash)); setErr != nil {
		return WrapError(setErr, "failed to update remote-tracking branch")
	}

	if err != nil {
		return ErrAlreadyUpToDate
	}
	return nil
}

// refHash resolves name, returning the zero hash when it does not exist.
func (r *Repo) refHash(name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := r.repo.Reference(name, true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, WrapErrorf(err, "failed to resolve %s", name)
	}
	return ref.Hash(), nil
}

func changedPaths(from, to *object.Commit) ([]string, error) {
	var fromTree *object.Tree
	if from != nil {
		t, err := from.Tree()
		if err != nil {
			return nil, WrapError(err, "failed to load tree")
		}
		fromTree = t
	}
	toTree, err := to.Tree()
	if err != nil {
		return nil, WrapError(err, "failed to load tree")
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, WrapError(err, "failed to diff trees")
	}

	seen := make(map[string]struct{}, len(changes))
	paths := make([]string, 0, len(changes))
	for _, ch := range changes {
		for _, name := range []string{ch.From.Name, ch.To.Name} {
			if name == "" {
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			paths = append(paths, name)
		}
	}
	return paths, nil
}
