// Package secrets resolves credential references stored in profiles.
//
// A credential field of a profile either holds the credential itself or a
// reference of the form scheme://path naming where to fetch it:
//
//	env://GITHUB_TOKEN                 environment variable
//	file:///home/me/.config/pat        file content, trailing newline trimmed
//	awssm://notes/credentials#pat      AWS Secrets Manager secret, optional JSON key
//
// Values whose scheme has no registered backend are used literally.
//
// Resolved values are never logged.
package secrets

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
)

// DefaultCacheTTL is how long a resolved reference is reused.
const DefaultCacheTTL = 5 * time.Minute

var (
	// ErrSecretNotFound is returned when a referenced secret does not exist.
	ErrSecretNotFound = stderrors.New("secret not found")

	// ErrSecretEmpty is returned when a referenced secret holds no value.
	ErrSecretEmpty = stderrors.New("secret value is empty")

	// ErrAccessDenied is returned when the backend refuses to read the secret.
	ErrAccessDenied = stderrors.New("access denied to secret")
)

// Backend fetches the secret named by the path part of a reference.
type Backend interface {
	// Scheme is the reference scheme the backend serves, e.g. "env".
	Scheme() string
	Resolve(ctx context.Context, path string) (string, error)
}

// Resolver dispatches references to registered backends and caches the
// results.
type Resolver struct {
	logger   *slog.Logger
	cache    *cache.Cache
	cacheTTL time.Duration

	mu       sync.RWMutex
	backends map[string]Backend
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithCacheTTL sets how long resolved values are reused. Zero disables
// caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cacheTTL = ttl
	}
}

// WithBackend registers b in addition to the defaults, replacing any backend
// with the same scheme.
func WithBackend(b Backend) Option {
	return func(r *Resolver) {
		r.backends[b.Scheme()] = b
	}
}

// NewResolver returns a resolver with the built-in backends registered.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		logger:   slog.Default(),
		cacheTTL: DefaultCacheTTL,
		backends: make(map[string]Backend),
	}
	r.backends[schemeEnv] = EnvBackend{}
	r.backends[schemeFile] = FileBackend{}
	r.backends[schemeAWSSM] = NewAWSBackend()
	for _, opt := range opts {
		opt(r)
	}
	if r.cacheTTL > 0 {
		r.cache = cache.New(r.cacheTTL, 2*r.cacheTTL)
	}
	return r
}

// Register adds b, replacing any backend with the same scheme.
func (r *Resolver) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Scheme()] = b
}

// IsReference reports whether value names a registered backend.
func (r *Resolver) IsReference(value string) bool {
	_, _, ok := r.lookup(value)
	return ok
}

func (r *Resolver) lookup(value string) (Backend, string, bool) {
	scheme, path, ok := strings.Cut(value, "://")
	if !ok || scheme == "" {
		return nil, "", false
	}
	r.mu.RLock()
	b, ok := r.backends[scheme]
	r.mu.RUnlock()
	return b, path, ok
}

// Resolve returns the credential value refers to. Literal values are returned
// unchanged.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	const op = "secrets.resolve"

	b, path, ok := r.lookup(value)
	if !ok {
		return value, nil
	}
	if path == "" {
		return "", errors.Newf(errors.CodeValidation, op, "reference %q has no path", value)
	}

	if r.cache != nil {
		if v, hit := r.cache.Get(value); hit {
			return v.(string), nil
		}
	}

	r.logger.DebugContext(ctx, "resolving secret", "scheme", b.Scheme(), "path", path)
	v, err := b.Resolve(ctx, path)
	if err != nil {
		return "", errors.Wrap(errors.CodeSecretUnavailable, op, err)
	}
	if v == "" {
		return "", errors.New(errors.CodeSecretUnavailable, op, ErrSecretEmpty)
	}

	if r.cache != nil {
		r.cache.SetDefault(value, v)
	}
	return v, nil
}

// ResolveSettings returns a copy of s with every credential field resolved.
// s itself is not modified, so references stay in the profile store.
func (r *Resolver) ResolveSettings(ctx context.Context, s repo.Settings) (repo.Settings, error) {
	out := s
	if s.Git != nil {
		g := *s.Git
		if err := r.resolveAll(ctx, &g.PAT, &g.SSHKeyPassphrase); err != nil {
			return repo.Settings{}, err
		}
		out.Git = &g
	}
	if s.S3 != nil {
		c := *s.S3
		if err := r.resolveAll(ctx, &c.AccessKeyID, &c.SecretAccessKey, &c.SessionToken); err != nil {
			return repo.Settings{}, err
		}
		out.S3 = &c
	}
	return out, nil
}

func (r *Resolver) resolveAll(ctx context.Context, fields ...*string) error {
	for _, f := range fields {
		if *f == "" {
			continue
		}
		v, err := r.Resolve(ctx, *f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
