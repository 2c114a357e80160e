// Package git wraps go-git with the handful of operations a single-branch
// notes repository needs: open or clone, fetch, fast-forward, commit and push,
// plus divergence counting against the remote-tracking branch. Everything goes
// through the project's fs.Filesystem abstraction.
package git

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/notesync/notesync/fs"
	"github.com/notesync/notesync/git/internal/fsbridge"
)

const (
	// DefaultStorerCacheSize is the default size for the LRU object cache.
	DefaultStorerCacheSize = fsbridge.DefaultCacheSize

	// DefaultWorkdir is the default worktree directory name.
	DefaultWorkdir = "."

	// DefaultRemoteName is the remote every operation talks to.
	DefaultRemoteName = "origin"

	// DefaultBranch is tracked when Options.Branch is empty.
	DefaultBranch = "main"

	// DefaultTimeout bounds each network operation.
	DefaultTimeout = 30 * time.Second
)

// Options configures repository discovery/creation.
type Options struct {
	// FS is the REQUIRED filesystem holding the working copy.
	FS fs.Filesystem

	// Workdir is the path within FS for the worktree root. Defaults to ".".
	Workdir string

	// Branch is the single branch that is checked out, fetched and pushed.
	Branch string

	// StorerCacheSize sets the LRU objects cache entries.
	StorerCacheSize int

	// Auth resolves credentials per remote URL. Nil means anonymous access.
	Auth AuthProvider

	// Timeout bounds every network operation. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.FS == nil {
		return WrapError(ErrInvalidRef, "FS is required")
	}

	if o.StorerCacheSize < 0 {
		return WrapError(ErrInvalidRef, "StorerCacheSize cannot be negative")
	}

	if o.Timeout < 0 {
		return WrapError(ErrInvalidRef, "Timeout cannot be negative")
	}

	if o.Branch != "" {
		if err := plumbing.NewBranchReferenceName(o.Branch).Validate(); err != nil {
			return WrapErrorf(ErrInvalidRef, "invalid branch %q", o.Branch)
		}
	}

	return nil
}

// applyDefaults sets default values for any unset fields in Options.
func (o *Options) applyDefaults() {
	if o.Workdir == "" {
		o.Workdir = DefaultWorkdir
	}
	if o.Branch == "" {
		o.Branch = DefaultBranch
	}
	if o.StorerCacheSize == 0 {
		o.StorerCacheSize = DefaultStorerCacheSize
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
}

// Repo is an opened working copy tracking one branch of one remote.
type Repo struct {
	repo     *git.Repository
	worktree *git.Worktree
	fs       fs.Filesystem
	options  Options
}

func prepare(opts *Options) (*fsbridge.Worktree, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	wt, err := fsbridge.Scope(opts.FS, opts.Workdir, opts.StorerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("filesystem conversion failed: %w", err)
	}
	return wt, nil
}

func newRepo(repo *git.Repository, opts *Options) (*Repo, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, WrapError(err, "failed to get worktree")
	}
	return &Repo{
		repo:     repo,
		worktree: worktree,
		fs:       opts.FS,
		options:  *opts,
	}, nil
}

// Init creates a new repository whose HEAD points at the tracked branch.
// When remoteURL is not empty it is registered as the origin remote.
func Init(ctx context.Context, remoteURL string, opts *Options) (*Repo, error) {
	wt, err := prepare(opts)
	if err != nil {
		return nil, err
	}

	repo, err := git.InitWithOptions(wt.Storage, wt.FS, git.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName(opts.Branch),
	})
	if err != nil {
		return nil, WrapError(err, "failed to initialize repository")
	}

	if remoteURL != "" {
		if _, err := repo.CreateRemote(&config.RemoteConfig{
			Name: DefaultRemoteName,
			URLs: []string{remoteURL},
		}); err != nil {
			return nil, WrapError(err, "failed to configure remote")
		}
	}

	return newRepo(repo, opts)
}

// Open opens an existing working copy. ErrNotRepository is returned when the
// workdir holds no .git directory.
func Open(ctx context.Context, opts *Options) (*Repo, error) {
	wt, err := prepare(opts)
	if err != nil {
		return nil, err
	}

	repo, err := git.Open(wt.Storage, wt.FS)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, WrapError(err, "failed to open repository")
	}

	return newRepo(repo, opts)
}

// Clone clones the tracked branch of remoteURL into the workdir. Cloning an
// empty remote succeeds and leaves an unborn branch that the first push creates.
func Clone(ctx context.Context, remoteURL string, opts *Options) (*Repo, error) {
	if remoteURL == "" {
		return nil, WrapError(ErrInvalidRef, "remote URL cannot be empty")
	}

	wt, err := prepare(opts)
	if err != nil {
		return nil, err
	}

	cloneOpts := &git.CloneOptions{
		URL:           remoteURL,
		RemoteName:    DefaultRemoteName,
		ReferenceName: plumbing.NewBranchReferenceName(opts.Branch),
		SingleBranch:  true,
	}

	if opts.Auth != nil {
		authMethod, authErr := opts.Auth.Method(remoteURL)
		if authErr != nil {
			return nil, fmt.Errorf("failed to get authentication method: %w: %w", ErrAuthRequired, authErr)
		}
		cloneOpts.Auth = authMethod
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	repo, err := git.CloneContext(ctx, wt.Storage, wt.FS, cloneOpts)
	switch {
	case err == nil:
	case errors.Is(err, transport.ErrEmptyRemoteRepository) && repo != nil:
		head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(opts.Branch))
		if err := repo.Storer.SetReference(head); err != nil {
			return nil, WrapError(err, "failed to point HEAD at tracked branch")
		}
	default:
		return nil, transportError(err, "failed to clone repository")
	}

	return newRepo(repo, opts)
}

// Branch returns the tracked branch name.
func (r *Repo) Branch() string {
	return r.options.Branch
}

// RemoteURL returns the first URL of the origin remote, or "" when none is configured.
func (r *Repo) RemoteURL() string {
	remote, err := r.repo.Remote(DefaultRemoteName)
	if err != nil || len(remote.Config().URLs) == 0 {
		return ""
	}
	return remote.Config().URLs[0]
}

// Signature represents an author/committer signature for commits.
type Signature struct {
	Name  string
	Email string
	When  time.Time
}

// CommitOpts configures commit creation behavior.
type CommitOpts struct {
	// AllowEmpty allows creating commits with no changes.
	AllowEmpty bool

	// All stages every modified, deleted and untracked file before committing.
	All bool
}
