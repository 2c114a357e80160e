// Package profile persists the user's sync profiles. A profile binds a name to
// one repo.Settings; exactly one profile is active at a time once any exist.
package profile

import (
	stderrors "errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/fs"
	"github.com/notesync/notesync/fs/billy"
	"github.com/notesync/notesync/repo"
)

// DefaultFile is the store location relative to the XDG config home.
const DefaultFile = "notesync/profiles.yaml"

var (
	// ErrNotFound is wrapped by lookups of an unknown profile.
	ErrNotFound = stderrors.New("profile not found")

	// ErrNoActive is wrapped by Active when no profile exists.
	ErrNoActive = stderrors.New("no active profile")
)

// Profile is one named set of sync settings.
type Profile struct {
	ID         string        `yaml:"id" json:"id"`
	Name       string        `yaml:"name" json:"name"`
	Settings   repo.Settings `yaml:"settings" json:"settings"`
	CreatedAt  time.Time     `yaml:"createdAt" json:"createdAt"`
	LastUsedAt time.Time     `yaml:"lastUsedAt,omitempty" json:"lastUsedAt,omitempty"`
}

// document is the on-disk layout.
type document struct {
	Active   string    `yaml:"active,omitempty"`
	Profiles []Profile `yaml:"profiles"`
}

// Store reads and writes the profile file. Every call reloads the file, so
// edits made by another process are picked up.
type Store struct {
	fsys   fs.Filesystem
	name   string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source for CreatedAt and LastUsedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides UUID generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// DefaultPath returns the profile file under the XDG config home, creating
// its parent directory.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(DefaultFile)
}

// Open returns a store backed by the file at path. The file need not exist.
func Open(path string, opts ...Option) *Store {
	return NewStore(billy.NewOSFS(filepath.Dir(path)), filepath.Base(path), opts...)
}

// NewStore returns a store backed by name inside fsys.
func NewStore(fsys fs.Filesystem, name string, opts ...Option) *Store {
	s := &Store{
		fsys:   fsys,
		name:   name,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) load() (document, error) {
	var doc document

	data, err := s.fsys.ReadFile(s.name)
	if err != nil {
		if stderrors.Is(err, iofs.ErrNotExist) {
			return doc, nil
		}
		return doc, errors.FromFS("profile.load", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, errors.Newf(errors.CodeValidation, "profile.load", "parse %s: %w", s.name, err)
	}
	return doc, nil
}

func (s *Store) save(doc document) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.New(errors.CodeUnknown, "profile.save", err)
	}
	// credentials live in this file
	if err := s.fsys.WriteFileAtomic(s.name, data, 0o600); err != nil {
		return errors.FromFS("profile.save", err)
	}
	return nil
}

// update runs fn on the loaded document and saves the result when fn succeeds.
func (s *Store) update(fn func(doc *document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return s.save(doc)
}

func (d *document) index(id string) int {
	return slices.IndexFunc(d.Profiles, func(p Profile) bool { return p.ID == id })
}

func notFound(op, id string) error {
	return errors.New(errors.CodeValidation, op, fmt.Errorf("%w: %s", ErrNotFound, id))
}

// List returns every profile in creation order and the active profile's ID.
func (s *Store) List() ([]Profile, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, "", err
	}
	return doc.Profiles, doc.Active, nil
}

// Get returns the profile with the given ID.
func (s *Store) Get(id string) (Profile, error) {
	profiles, _, err := s.List()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return Profile{}, notFound("profile.get", id)
}

// Find resolves ref as an ID, a unique ID prefix or an exact name.
func (s *Store) Find(ref string) (Profile, error) {
	profiles, _, err := s.List()
	if err != nil {
		return Profile{}, err
	}

	var matches []Profile
	for _, p := range profiles {
		if p.ID == ref || p.Name == ref {
			return p, nil
		}
		if strings.HasPrefix(p.ID, ref) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 1 && ref != "" {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return Profile{}, errors.Newf(errors.CodeValidation, "profile.find", "%q matches %d profiles", ref, len(matches))
	}
	return Profile{}, notFound("profile.find", ref)
}

// Active returns the active profile.
func (s *Store) Active() (Profile, error) {
	profiles, active, err := s.List()
	if err != nil {
		return Profile{}, err
	}
	for _, p := range profiles {
		if p.ID == active {
			return p, nil
		}
	}
	return Profile{}, errors.New(errors.CodeValidation, "profile.active", ErrNoActive)
}

func validate(op string, p Profile, doc *document) error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.Newf(errors.CodeValidation, op, "name is required")
	}
	for _, other := range doc.Profiles {
		if other.ID != p.ID && other.Name == p.Name {
			return errors.Newf(errors.CodeValidation, op, "a profile named %q already exists", p.Name)
		}
	}
	return p.Settings.Validate()
}

// Create stores a new profile. The first profile becomes active.
func (s *Store) Create(name string, settings repo.Settings) (Profile, error) {
	p := Profile{
		ID:        s.newID(),
		Name:      name,
		Settings:  settings,
		CreatedAt: s.now().UTC(),
	}

	err := s.update(func(doc *document) error {
		if err := validate("profile.create", p, doc); err != nil {
			return err
		}
		doc.Profiles = append(doc.Profiles, p)
		if doc.Active == "" {
			doc.Active = p.ID
		}
		return nil
	})
	if err != nil {
		return Profile{}, err
	}

	s.logger.Info("profile created", "id", p.ID, "name", p.Name, "provider", p.Settings.Provider)
	return p, nil
}

// Update replaces the name and settings of an existing profile.
func (s *Store) Update(p Profile) (Profile, error) {
	var updated Profile
	err := s.update(func(doc *document) error {
		i := doc.index(p.ID)
		if i < 0 {
			return notFound("profile.update", p.ID)
		}
		if err := validate("profile.update", p, doc); err != nil {
			return err
		}
		updated = doc.Profiles[i]
		updated.Name = p.Name
		updated.Settings = p.Settings
		doc.Profiles[i] = updated
		return nil
	})
	return updated, err
}

// Delete removes a profile. The active profile cannot be deleted.
func (s *Store) Delete(id string) error {
	return s.update(func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return notFound("profile.delete", id)
		}
		if doc.Active == id {
			return errors.Newf(errors.CodeValidation, "profile.delete", "profile %q is active; activate another profile first", doc.Profiles[i].Name)
		}
		doc.Profiles = slices.Delete(doc.Profiles, i, i+1)
		return nil
	})
}

// SetActive marks a profile active and records its use.
func (s *Store) SetActive(id string) (Profile, error) {
	var active Profile
	err := s.update(func(doc *document) error {
		i := doc.index(id)
		if i < 0 {
			return notFound("profile.activate", id)
		}
		doc.Profiles[i].LastUsedAt = s.now().UTC()
		doc.Active = id
		active = doc.Profiles[i]
		return nil
	})
	return active, err
}
