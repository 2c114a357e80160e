// Package watch reports edits made to a working copy outside the engine. It
// watches a directory tree with fsnotify, adds new subdirectories as they
// appear and delivers changed paths in debounced batches.
package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/notesync/notesync/fs/billy"
)

// DefaultDebounce is how long the tree must be quiet before a batch is
// delivered.
const DefaultDebounce = 300 * time.Millisecond

// DefaultIgnore lists directory names that are never watched.
var DefaultIgnore = []string{".git", ".notesync"}

// Watcher watches one directory tree.
type Watcher struct {
	root     string
	debounce time.Duration
	ignore   []string
	logger   *slog.Logger
	onChange func(paths []string)

	fsw       *fsnotify.Watcher
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithIgnore replaces the ignored directory names.
func WithIgnore(names ...string) Option {
	return func(w *Watcher) {
		w.ignore = names
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New starts watching root. onChange receives sorted, slash-separated paths
// relative to root and is called from the watcher's goroutine.
func New(root string, onChange func(paths []string), opts ...Option) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", abs)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:     abs,
		debounce: DefaultDebounce,
		ignore:   DefaultIgnore,
		logger:   slog.Default(),
		onChange: onChange,
		fsw:      fsw,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("root", abs)

	if _, err := w.addTree("."); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	go w.loop()
	return w, nil
}

// Close stops watching and waits for the event loop to exit. A pending batch
// is dropped.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		<-w.stopped
	})
	return err
}

// addTree watches dir and every directory below it, returning the files it
// found so that files created together with a new directory are not missed.
func (w *Watcher) addTree(dir string) ([]string, error) {
	var files []string
	fsys := billy.NewOSFS(w.root)

	err := fsys.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel := filepath.ToSlash(p)
		if w.ignored(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.IsDir() {
			files = append(files, rel)
			return nil
		}
		if err := w.fsw.Add(filepath.Join(w.root, p)); err != nil {
			return err
		}
		return nil
	})
	return files, err
}

func (w *Watcher) ignored(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if slices.Contains(w.ignore, part) {
			return true
		}
	}
	return false
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	var (
		pending = make(map[string]struct{})
		timer   *time.Timer
		fire    <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			for _, p := range w.handle(ev) {
				pending[p] = struct{}{}
			}
			if len(pending) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			w.onChange(paths)
		}
	}
}

// handle returns the relative paths an event touched.
func (w *Watcher) handle(ev fsnotify.Event) []string {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	rel = filepath.ToSlash(rel)
	if w.ignored(rel) || ev.Op == fsnotify.Chmod {
		return nil
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			files, err := w.addTree(rel)
			if err != nil {
				w.logger.Warn("failed to watch new directory", "dir", rel, "error", err)
			}
			return files
		}
	}
	return []string{rel}
}
