// Package localprovider implements repo.Provider for a plain folder with no
// remote. Network operations are no-ops and the only status it reports is
// whether the editor holds unsaved buffers.
package localprovider

import (
	"context"
	"log/slog"
	"sync"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/fs"
	"github.com/notesync/notesync/repo"
)

var (
	_ repo.Provider       = (*Provider)(nil)
	_ repo.UnsavedTracker = (*Provider)(nil)
)

// Provider is a repo.Provider over a local folder.
type Provider struct {
	localPath string
	logger    *slog.Logger
	fsys      fs.Filesystem
	opened    bool

	mu      sync.Mutex
	unsaved map[string]struct{}
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithFilesystem uses fsys instead of the OS directory named by the settings.
func WithFilesystem(fsys fs.Filesystem) Option {
	return func(p *Provider) {
		p.fsys = fsys
	}
}

// New creates a provider for validated local settings.
func New(settings repo.Settings, opts ...Option) (*Provider, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if settings.Provider != repo.KindLocal {
		return nil, errors.Newf(errors.CodeValidation, "local.new", "settings are for provider %q", settings.Provider)
	}

	p := &Provider{
		localPath: settings.Local.LocalPath,
		logger:    slog.Default(),
		unsaved:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("provider", repo.KindLocal)
	return p, nil
}

// Kind implements repo.Provider.
func (p *Provider) Kind() repo.Kind {
	return repo.KindLocal
}

// OpenOrClone implements repo.Provider. The folder is created if missing.
func (p *Provider) OpenOrClone(ctx context.Context) (repo.OpenResult, error) {
	if !p.opened {
		if p.fsys == nil {
			fsys, err := repo.OpenWorkingCopy(p.localPath)
			if err != nil {
				return repo.OpenResult{}, err
			}
			p.fsys = fsys
		}
		if err := repo.EnsureKind(p.fsys, repo.KindLocal); err != nil {
			return repo.OpenResult{}, err
		}
		p.opened = true
		p.logger.Debug("opened folder", "path", p.fsys.Root())
	}

	tree, err := repo.ListTree(p.fsys)
	if err != nil {
		return repo.OpenResult{}, err
	}
	return repo.OpenResult{LocalPath: p.fsys.Root(), Tree: tree, Status: p.status()}, nil
}

// MarkUnsaved implements repo.UnsavedTracker. Marks are keyed by the cleaned
// path; paths outside the working copy are ignored.
func (p *Provider) MarkUnsaved(path string, unsaved bool) {
	clean, err := repo.CleanPath(path)
	if err != nil {
		p.logger.Debug("ignoring unsaved mark", "path", path, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if unsaved {
		p.unsaved[clean] = struct{}{}
	} else {
		delete(p.unsaved, clean)
	}
}

// Status implements repo.Provider.
func (p *Provider) Status(context.Context) (repo.Status, error) {
	if err := p.ready("local.status"); err != nil {
		return repo.Status{}, err
	}
	return p.status(), nil
}

func (p *Provider) status() repo.Status {
	p.mu.Lock()
	dirty := len(p.unsaved) > 0
	p.mu.Unlock()
	return repo.ComputeStatus(repo.KindLocal, repo.Introspection{HasUncommitted: dirty})
}

// Fetch implements repo.Provider. There is no remote.
func (p *Provider) Fetch(ctx context.Context) (repo.Status, error) {
	return p.Status(ctx)
}

// Pull implements repo.Provider as a no-op.
func (p *Provider) Pull(context.Context) error {
	return p.ready("local.pull")
}

// Push implements repo.Provider as a no-op.
func (p *Provider) Push(context.Context) error {
	return p.ready("local.push")
}

// Commit implements repo.Provider. Writes land directly, so nothing is ever
// pending.
func (p *Provider) Commit(_ context.Context, paths []string, _ string) (repo.CommitResult, error) {
	if err := p.ready("local.commit"); err != nil {
		return repo.CommitResult{}, err
	}
	for _, raw := range paths {
		if _, err := repo.CleanPath(raw); err != nil {
			return repo.CommitResult{}, err
		}
	}
	return repo.NothingToCommit(), nil
}

// CommitAll implements repo.Provider.
func (p *Provider) CommitAll(context.Context, string) (repo.CommitResult, error) {
	if err := p.ready("local.commit"); err != nil {
		return repo.CommitResult{}, err
	}
	return repo.NothingToCommit(), nil
}

// WriteFile implements repo.Provider. A successful write clears the path's
// unsaved mark.
func (p *Provider) WriteFile(_ context.Context, path string, content []byte) error {
	if err := p.ready("files.write"); err != nil {
		return err
	}
	if err := repo.WriteWorkingFile(p.fsys, path, content); err != nil {
		return err
	}
	p.MarkUnsaved(path, false)
	return nil
}

// ReadFile implements repo.Provider.
func (p *Provider) ReadFile(_ context.Context, path string) ([]byte, error) {
	if err := p.ready("files.read"); err != nil {
		return nil, err
	}
	return repo.ReadWorkingFile(p.fsys, path)
}

// History implements repo.Provider. A folder keeps no history; the current
// file is its only revision.
func (p *Provider) History(_ context.Context, path string, _ int) ([]repo.Revision, error) {
	if err := p.ready("local.history"); err != nil {
		return nil, err
	}
	clean, err := repo.CleanPath(path)
	if err != nil {
		return nil, err
	}
	info, err := p.fsys.Stat(clean)
	if err != nil {
		return nil, errors.FromFS("local.history", err)
	}
	return []repo.Revision{{ID: "current", When: info.ModTime(), Size: info.Size()}}, nil
}

// Close implements repo.Provider.
func (p *Provider) Close() error {
	p.opened = false
	return nil
}

func (p *Provider) ready(op string) error {
	if !p.opened {
		return errors.Newf(errors.CodeRepoNotInitialized, op, "folder is not open")
	}
	return nil
}
