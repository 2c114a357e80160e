// Package session binds one profile to its provider and exposes the command
// surface callers use: repository commands, file commands and status
// subscriptions. All mutations go through the profile's repo.Guard, shared
// with the write workflow and the auto-sync scheduler.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/profile"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/scheduler"
	"github.com/notesync/notesync/watch"
	"github.com/notesync/notesync/workflow"
)

// SyncMessage is the commit message used by CommitAndPushAll.
const SyncMessage = "Sync notes"

// Session is the active state of one profile.
type Session struct {
	profile   profile.Profile
	provider  repo.Provider
	guard     *repo.Guard
	workflow  *workflow.Workflow
	scheduler *scheduler.Scheduler
	logger    *slog.Logger

	watchEnabled  bool
	watchDebounce time.Duration

	// autopush orders StartAutoPush against the stop in Close
	autopush sync.Mutex

	mu      sync.Mutex
	watcher *watch.Watcher
	subs    map[int]func(repo.Status)
	nextSub int
	closed  bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger shared by the session, its workflow and its
// scheduler.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithWatch watches the working copy once it is open and publishes status
// after every debounced change.
func WithWatch(debounce time.Duration) Option {
	return func(s *Session) {
		s.watchEnabled = true
		s.watchDebounce = debounce
	}
}

// New builds a session for p around provider. The provider is not opened.
func New(p profile.Profile, provider repo.Provider, opts ...Option) *Session {
	s := &Session{
		profile:  p,
		provider: provider,
		guard:    &repo.Guard{},
		logger:   slog.Default(),
		subs:     make(map[int]func(repo.Status)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("profile", p.Name)

	s.workflow = workflow.New(provider, s.guard, workflow.WithLogger(s.logger))
	s.scheduler = scheduler.New(provider, s.guard,
		scheduler.WithLogger(s.logger),
		scheduler.WithPublisher(s.publish),
	)
	return s
}

// Profile returns the profile the session was built for.
func (s *Session) Profile() profile.Profile {
	return s.profile
}

// Kind returns the provider kind.
func (s *Session) Kind() repo.Kind {
	return s.provider.Kind()
}

// Subscribe registers fn for status updates. fn runs on the goroutine that
// produced the status and must not block. The returned func unsubscribes.
func (s *Session) Subscribe(fn func(repo.Status)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Session) publish(st repo.Status) {
	s.mu.Lock()
	subs := make([]func(repo.Status), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// refresh publishes the current status. Failures are logged only; the
// command that triggered the refresh already succeeded.
func (s *Session) refresh(ctx context.Context) {
	st, err := s.Status(ctx)
	if err != nil {
		s.logger.Debug("status refresh failed", "error", err)
		return
	}
	s.publish(st)
}

// OpenOrClone opens or materializes the working copy and starts the watcher
// when enabled.
func (s *Session) OpenOrClone(ctx context.Context) (repo.OpenResult, error) {
	var res repo.OpenResult
	err := s.guard.Write(func() error {
		var err error
		res, err = s.provider.OpenOrClone(ctx)
		return err
	})
	if err != nil {
		return repo.OpenResult{}, err
	}

	s.startWatcher(res.LocalPath)
	s.publish(res.Status)
	return res, nil
}

func (s *Session) startWatcher(root string) {
	if !s.watchEnabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher != nil || s.closed {
		return
	}

	w, err := watch.New(root, func(paths []string) {
		s.logger.Debug("working copy changed", "paths", paths)
		s.refresh(context.Background())
	}, watch.WithDebounce(s.watchDebounce), watch.WithLogger(s.logger))
	if err != nil {
		s.logger.Warn("failed to watch working copy", "path", root, "error", err)
		return
	}
	s.watcher = w
}

// Status returns the current status without network access.
func (s *Session) Status(ctx context.Context) (repo.Status, error) {
	var st repo.Status
	err := s.guard.Read(func() error {
		var err error
		st, err = s.provider.Status(ctx)
		return err
	})
	return st, err
}

// Fetch refreshes the remote tip.
func (s *Session) Fetch(ctx context.Context) (repo.Status, error) {
	var st repo.Status
	err := s.guard.Write(func() error {
		var err error
		st, err = s.provider.Fetch(ctx)
		return err
	})
	if err != nil {
		return repo.Status{}, err
	}
	s.publish(st)
	return st, nil
}

// Pull applies remote changes.
func (s *Session) Pull(ctx context.Context) error {
	if err := s.guard.Write(func() error { return s.provider.Pull(ctx) }); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// Push uploads pending local changes.
func (s *Session) Push(ctx context.Context) error {
	if err := s.guard.Write(func() error { return s.provider.Push(ctx) }); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// StartAutoPush starts, or restarts with the profile's current settings, the
// auto-sync scheduler. A disabled profile leaves it stopped, and so does a
// local profile, which has no remote to sync with. A closed session cannot be
// restarted.
func (s *Session) StartAutoPush(ctx context.Context) error {
	s.autopush.Lock()
	defer s.autopush.Unlock()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.Newf(errors.CodeRepoNotInitialized, "session.autopush", "session for profile %s is closed", s.profile.Name)
	}

	if s.provider.Kind() == repo.KindLocal {
		s.logger.Debug("auto-sync not available for local profiles")
		return nil
	}
	return s.scheduler.Start(ctx, s.profile.Settings.AutoSync)
}

// StopAutoPush stops the scheduler and waits for an in-flight tick.
func (s *Session) StopAutoPush() {
	s.scheduler.Stop()
}

// AutoPushDetails reports the scheduler's bookkeeping, including the last
// background failure.
func (s *Session) AutoPushDetails() scheduler.Details {
	return s.scheduler.Details()
}

// History lists revisions of path, newest first.
func (s *Session) History(ctx context.Context, path string, limit int) ([]repo.Revision, error) {
	var revs []repo.Revision
	err := s.guard.Read(func() error {
		var err error
		revs, err = s.provider.History(ctx, path, limit)
		return err
	})
	return revs, err
}

// Save writes content to path without syncing.
func (s *Session) Save(ctx context.Context, path string, content []byte) error {
	if err := s.guard.Write(func() error { return s.provider.WriteFile(ctx, path, content) }); err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// Read returns the content of path.
func (s *Session) Read(ctx context.Context, path string) (string, error) {
	var data []byte
	err := s.guard.Read(func() error {
		var err error
		data, err = s.provider.ReadFile(ctx, path)
		return err
	})
	return string(data), err
}

// MarkUnsaved records that the editor holds unsaved changes to path. The
// mark is cleared by the next write of path. Providers that derive status
// from the working copy ignore it.
func (s *Session) MarkUnsaved(path string) {
	tracker, ok := s.provider.(repo.UnsavedTracker)
	if !ok {
		return
	}
	tracker.MarkUnsaved(path, true)
	s.refresh(context.Background())
}

// SaveWithWorkflow saves path and synchronizes it with the remote. Only a
// failed local write is returned as an error; sync problems are reported in
// the result.
func (s *Session) SaveWithWorkflow(ctx context.Context, path string, content []byte, autosave bool) (workflow.Result, error) {
	res, err := s.workflow.Save(ctx, path, content, autosave)
	if err != nil {
		return res, err
	}
	s.refresh(ctx)
	return res, nil
}

// CommitAll records every local change.
func (s *Session) CommitAll(ctx context.Context, message string) error {
	err := s.guard.Write(func() error {
		_, err := s.provider.CommitAll(ctx, message)
		return err
	})
	if err != nil {
		return err
	}
	s.refresh(ctx)
	return nil
}

// CommitAndPushAll commits every local change and pushes whatever is pending,
// including earlier commits. It returns the commit result; when nothing was
// committed that is the "Nothing to commit" sentinel even if a push happened.
func (s *Session) CommitAndPushAll(ctx context.Context) (repo.CommitResult, error) {
	var res repo.CommitResult
	err := s.guard.Write(func() error {
		var err error
		if res, err = s.provider.CommitAll(ctx, SyncMessage); err != nil {
			return err
		}
		if !res.Committed {
			st, err := s.provider.Status(ctx)
			if err != nil {
				return err
			}
			if st.PendingPushCount == 0 {
				return nil
			}
		}
		return s.provider.Push(ctx)
	})
	if err != nil {
		return repo.CommitResult{}, err
	}
	s.refresh(ctx)
	return res, nil
}

// Close stops the scheduler, then the watcher, then closes the provider. It
// is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	s.autopush.Lock()
	s.scheduler.Stop()
	s.autopush.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			s.logger.Warn("failed to close watcher", "error", err)
		}
	}

	// wait for in-flight commands before releasing the working copy
	return s.guard.Write(s.provider.Close)
}
