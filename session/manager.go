package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/profile"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/repo/gitprovider"
	"github.com/notesync/notesync/repo/localprovider"
	"github.com/notesync/notesync/repo/s3provider"
	"github.com/notesync/notesync/secrets"
)

// Factory builds the provider for a profile's settings.
type Factory func(ctx context.Context, settings repo.Settings) (repo.Provider, error)

// DefaultFactory builds the provider named by settings.Provider. Credential
// references in the settings are resolved first unless resolver is nil. A nil
// logger means slog.Default.
func DefaultFactory(logger *slog.Logger, s3Concurrency int, resolver *secrets.Resolver) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, settings repo.Settings) (repo.Provider, error) {
		if resolver != nil {
			var err error
			if settings, err = resolver.ResolveSettings(ctx, settings); err != nil {
				return nil, err
			}
		}

		switch settings.Provider {
		case repo.KindGit:
			return gitprovider.New(settings, gitprovider.WithLogger(logger))
		case repo.KindS3:
			return s3provider.New(settings, s3provider.WithLogger(logger), s3provider.WithConcurrency(s3Concurrency))
		case repo.KindLocal:
			return localprovider.New(settings, localprovider.WithLogger(logger))
		default:
			return nil, errors.Newf(errors.CodeValidation, "session.provider", "unknown provider %q", settings.Provider)
		}
	}
}

// Manager owns the single active session.
type Manager struct {
	store       *profile.Store
	factory     Factory
	logger      *slog.Logger
	sessionOpts []Option

	mu      sync.Mutex
	current *Session
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFactory overrides provider construction.
func WithFactory(f Factory) ManagerOption {
	return func(m *Manager) {
		m.factory = f
	}
}

// WithManagerLogger sets the logger for the manager and its sessions.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithSessionOptions passes opts to every session the manager builds.
func WithSessionOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.sessionOpts = append(m.sessionOpts, opts...)
	}
}

// NewManager returns a manager with no active session.
func NewManager(store *profile.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.factory == nil {
		m.factory = DefaultFactory(m.logger, 0, secrets.NewResolver(secrets.WithLogger(m.logger)))
	}
	return m
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Activate switches to the profile with the given ID. The current session is
// closed, stopping its scheduler, before the new provider is built. The new
// session is not opened; call OpenOrClone on it.
func (m *Manager) Activate(ctx context.Context, profileID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(profileID)
	if err != nil {
		return nil, err
	}

	if m.current != nil {
		old := m.current
		m.current = nil
		if err := old.Close(); err != nil {
			m.logger.Warn("failed to close session", "profile", old.Profile().Name, "error", err)
		}
	}

	provider, err := m.factory(ctx, p.Settings)
	if err != nil {
		return nil, err
	}
	if p, err = m.store.SetActive(p.ID); err != nil {
		_ = provider.Close()
		return nil, err
	}

	opts := append([]Option{WithLogger(m.logger)}, m.sessionOpts...)
	m.current = New(p, provider, opts...)
	m.logger.Info("profile activated", "profile", p.Name, "provider", p.Settings.Provider)
	return m.current, nil
}

// Resume activates the profile the store marks active.
func (m *Manager) Resume(ctx context.Context) (*Session, error) {
	p, err := m.store.Active()
	if err != nil {
		return nil, err
	}
	return m.Activate(ctx, p.ID)
}

// Close closes the active session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}
