// Package gitprovider implements repo.Provider on top of a Git remote. The
// working copy is a regular clone tracking one branch; pull only ever
// fast-forwards and divergence is reported as a conflict.
package gitprovider

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/fs"
	"github.com/notesync/notesync/git"
	"github.com/notesync/notesync/repo"
)

const (
	// DefaultCommitMessage is used when a commit is requested without one.
	DefaultCommitMessage = "Update notes"

	defaultAuthorName  = "notesync"
	defaultAuthorEmail = "notesync@localhost"
)

var _ repo.Provider = (*Provider)(nil)

// Provider is a Git-backed repo.Provider.
type Provider struct {
	settings repo.GitSettings
	timeout  time.Duration
	auth     git.AuthProvider
	logger   *slog.Logger
	now      func() time.Time

	fsys fs.Filesystem
	repo *git.Repo
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithFilesystem uses fsys as the working copy instead of the OS directory
// named by the settings.
func WithFilesystem(fsys fs.Filesystem) Option {
	return func(p *Provider) {
		p.fsys = fsys
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// New creates a provider for validated Git settings. Nothing touches the
// disk or network until OpenOrClone.
func New(settings repo.Settings, opts ...Option) (*Provider, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Provider != repo.KindGit {
		return nil, errors.Newf(errors.CodeValidation, "git.new", "settings are for provider %q", settings.Provider)
	}

	p := &Provider{
		settings: *settings.Git,
		timeout:  settings.Timeout(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.auth = authFor(p.settings)
	p.logger = p.logger.With("provider", repo.KindGit, "remote", redact(p.settings.RemoteURL))
	return p, nil
}

func authFor(s repo.GitSettings) git.AuthProvider {
	switch s.EffectiveAuth() {
	case repo.AuthPAT:
		return git.NewTokenAuth(s.PAT)
	case repo.AuthSSH:
		if s.SSHKeyPath != "" {
			return git.NewSSHKeyAuth(s.SSHKeyPath, s.SSHKeyPassphrase)
		}
		return git.NewSSHAgentAuth()
	default:
		return nil
	}
}

// Kind implements repo.Provider.
func (p *Provider) Kind() repo.Kind {
	return repo.KindGit
}

// OpenOrClone implements repo.Provider. An existing clone is opened as is; an
// empty or plain folder is cloned into. A failed clone leaves no .git behind.
func (p *Provider) OpenOrClone(ctx context.Context) (repo.OpenResult, error) {
	if p.repo == nil {
		if err := p.open(ctx); err != nil {
			return repo.OpenResult{}, err
		}
	}

	tree, err := repo.ListTree(p.fsys)
	if err != nil {
		return repo.OpenResult{}, err
	}
	st, err := p.status(ctx)
	if err != nil {
		return repo.OpenResult{}, err
	}
	return repo.OpenResult{LocalPath: p.fsys.Root(), Tree: tree, Status: st}, nil
}

func (p *Provider) open(ctx context.Context) error {
	const op = "git.open"

	if p.fsys == nil {
		fsys, err := repo.OpenWorkingCopy(p.settings.LocalPath)
		if err != nil {
			return err
		}
		p.fsys = fsys
	}
	if err := repo.EnsureKind(p.fsys, repo.KindGit); err != nil {
		return err
	}

	opts := p.options()
	r, err := git.Open(ctx, opts)
	switch {
	case err == nil:
		if url := r.RemoteURL(); url != p.settings.RemoteURL {
			p.logger.Warn("working copy origin differs from settings", "origin", redact(url))
		}
		p.repo = r
		p.logger.Debug("opened working copy", "path", p.fsys.Root())
		return nil
	case !stderrors.Is(err, git.ErrNotRepository):
		return errors.New(errors.CodeUnknown, op, err)
	}

	r, err = git.Clone(ctx, p.settings.RemoteURL, opts)
	if err != nil {
		if rmErr := p.fsys.RemoveAll(repo.GitDir); rmErr != nil {
			p.logger.Warn("failed to clean up after clone", "error", rmErr)
		}
		if isAuth(err) {
			return errors.New(errors.CodeGitAuthFailed, "git.clone", err)
		}
		return errors.New(errors.CodeGitCloneFailed, "git.clone", err)
	}

	p.repo = r
	p.logger.Info("cloned working copy", "path", p.fsys.Root(), "branch", r.Branch())
	return nil
}

func (p *Provider) options() *git.Options {
	return &git.Options{
		FS:      p.fsys,
		Branch:  p.settings.EffectiveBranch(),
		Auth:    p.auth,
		Timeout: p.timeout,
	}
}

// Status implements repo.Provider.
func (p *Provider) Status(ctx context.Context) (repo.Status, error) {
	if err := p.ready("git.status"); err != nil {
		return repo.Status{}, err
	}
	return p.status(ctx)
}

func (p *Provider) status(ctx context.Context) (repo.Status, error) {
	const op = "git.status"

	ahead, behind, err := p.repo.Divergence(ctx)
	if err != nil {
		return repo.Status{}, errors.New(errors.CodeUnknown, op, err)
	}
	clean, err := p.repo.IsClean(ctx)
	if err != nil {
		return repo.Status{}, errors.New(errors.CodeUnknown, op, err)
	}

	return repo.ComputeStatus(repo.KindGit, repo.Introspection{
		Branch:         p.repo.Branch(),
		Ahead:          ahead,
		Behind:         behind,
		HasUncommitted: !clean,
		PendingPush:    ahead,
	}), nil
}

// Fetch implements repo.Provider.
func (p *Provider) Fetch(ctx context.Context) (repo.Status, error) {
	if err := p.ready("git.fetch"); err != nil {
		return repo.Status{}, err
	}
	if err := p.fetch(ctx); err != nil {
		return repo.Status{}, err
	}
	return p.status(ctx)
}

func (p *Provider) fetch(ctx context.Context) error {
	err := p.repo.Fetch(ctx)
	switch {
	case err == nil, stderrors.Is(err, git.ErrAlreadyUpToDate):
		return nil
	case isAuth(err):
		return errors.New(errors.CodeGitAuthFailed, "git.fetch", err)
	default:
		return errors.New(errors.CodeGitPullFailed, "git.fetch", err)
	}
}

// Pull implements repo.Provider. It fetches, then fast-forwards. Diverged
// history or an incoming change to an uncommitted file is GIT_CONFLICT and
// leaves the working copy as it was.
func (p *Provider) Pull(ctx context.Context) error {
	const op = "git.pull"

	if err := p.ready(op); err != nil {
		return err
	}
	if err := p.fetch(ctx); err != nil {
		return err
	}

	err := p.repo.FastForward(ctx)
	switch {
	case err == nil:
		p.logger.Info("fast-forwarded", "branch", p.repo.Branch())
		return nil
	case stderrors.Is(err, git.ErrAlreadyUpToDate):
		return nil
	case stderrors.Is(err, git.ErrNotFastForward), stderrors.Is(err, git.ErrMergeConflict):
		return errors.New(errors.CodeGitConflict, op, err)
	default:
		return errors.New(errors.CodeGitPullFailed, op, err)
	}
}

// Push implements repo.Provider. A remote that moved ahead is GIT_PUSH_FAILED.
func (p *Provider) Push(ctx context.Context) error {
	const op = "git.push"

	if err := p.ready(op); err != nil {
		return err
	}

	err := p.repo.Push(ctx)
	switch {
	case err == nil:
		p.logger.Info("pushed", "branch", p.repo.Branch())
		return nil
	case stderrors.Is(err, git.ErrAlreadyUpToDate):
		return nil
	case isAuth(err):
		return errors.New(errors.CodeGitAuthFailed, op, err)
	default:
		return errors.New(errors.CodeGitPushFailed, op, err)
	}
}

// Commit implements repo.Provider. Only the named paths are staged.
func (p *Provider) Commit(ctx context.Context, paths []string, message string) (repo.CommitResult, error) {
	const op = "git.commit"

	if err := p.ready(op); err != nil {
		return repo.CommitResult{}, err
	}

	cleaned := make([]string, 0, len(paths))
	for _, raw := range paths {
		clean, err := repo.CleanPath(raw)
		if err != nil {
			return repo.CommitResult{}, err
		}
		cleaned = append(cleaned, clean)
	}
	if err := p.repo.Stage(ctx, cleaned...); err != nil {
		return repo.CommitResult{}, errors.FromFS(op, err)
	}
	return p.commit(ctx, message, git.CommitOpts{})
}

// CommitAll implements repo.Provider. Every change, including untracked and
// deleted files, is recorded.
func (p *Provider) CommitAll(ctx context.Context, message string) (repo.CommitResult, error) {
	if err := p.ready("git.commit"); err != nil {
		return repo.CommitResult{}, err
	}
	return p.commit(ctx, message, git.CommitOpts{All: true})
}

func (p *Provider) commit(ctx context.Context, message string, opts git.CommitOpts) (repo.CommitResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultCommitMessage
	}

	hash, err := p.repo.Commit(ctx, message, p.signature(), opts)
	switch {
	case stderrors.Is(err, git.ErrEmptyCommit):
		return repo.NothingToCommit(), nil
	case err != nil:
		return repo.CommitResult{}, errors.FromFS("git.commit", err)
	}

	p.logger.Debug("committed", "hash", hash)
	return repo.CommitResult{Hash: hash, Message: message, Committed: true}, nil
}

func (p *Provider) signature() git.Signature {
	sig := git.Signature{
		Name:  p.settings.AuthorName,
		Email: p.settings.AuthorEmail,
		When:  p.now(),
	}
	if sig.Name == "" {
		sig.Name = defaultAuthorName
	}
	if sig.Email == "" {
		sig.Email = defaultAuthorEmail
	}
	return sig
}

// WriteFile implements repo.Provider.
func (p *Provider) WriteFile(_ context.Context, path string, content []byte) error {
	if err := p.ready("files.write"); err != nil {
		return err
	}
	return repo.WriteWorkingFile(p.fsys, path, content)
}

// ReadFile implements repo.Provider.
func (p *Provider) ReadFile(_ context.Context, path string) ([]byte, error) {
	if err := p.ready("files.read"); err != nil {
		return nil, err
	}
	return repo.ReadWorkingFile(p.fsys, path)
}

// History implements repo.Provider with the commits that touched path.
func (p *Provider) History(ctx context.Context, path string, limit int) ([]repo.Revision, error) {
	const op = "git.history"

	if err := p.ready(op); err != nil {
		return nil, err
	}
	clean, err := repo.CleanPath(path)
	if err != nil {
		return nil, err
	}

	commits, err := p.repo.Log(ctx, git.LogFilter{Path: clean, MaxCount: max(limit, 0)})
	if err != nil {
		return nil, errors.New(errors.CodeUnknown, op, err)
	}

	revs := make([]repo.Revision, 0, len(commits))
	for _, c := range commits {
		revs = append(revs, repo.Revision{
			ID:      c.Hash,
			Message: c.Message,
			Author:  c.Author,
			When:    c.When,
			Size:    c.Size,
		})
	}
	return revs, nil
}

// Close implements repo.Provider.
func (p *Provider) Close() error {
	p.repo = nil
	return nil
}

func (p *Provider) ready(op string) error {
	if p.repo == nil {
		return errors.Newf(errors.CodeRepoNotInitialized, op, "working copy is not open")
	}
	return nil
}

func isAuth(err error) bool {
	return stderrors.Is(err, git.ErrAuthRequired) || stderrors.Is(err, git.ErrAuthFailed)
}

// redact drops userinfo from a remote URL before it is logged.
func redact(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		if slash := strings.Index(rest, "/"); slash < 0 || at < slash {
			rest = rest[at+1:]
		}
	}
	return scheme + "://" + rest
}
