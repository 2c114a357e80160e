// Package repotest provides a scripted repo.Provider for testing the layers
// above the providers.
package repotest

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/notesync/notesync/errors"
	"github.com/notesync/notesync/repo"
)

// Operation names recorded in Calls and accepted by FailOn.
const (
	OpOpen      = "open"
	OpStatus    = "status"
	OpFetch     = "fetch"
	OpPull      = "pull"
	OpPush      = "push"
	OpCommit    = "commit"
	OpCommitAll = "commitAll"
	OpWrite     = "write"
	OpRead      = "read"
	OpHistory   = "history"
	OpClose     = "close"
)

var _ repo.Provider = (*Provider)(nil)

// Provider records calls and returns scripted results. Fetch reports the
// configured Behind; Pull clears it; CommitAll adds to Pending when Dirty;
// Push clears Pending.
type Provider struct {
	mu      sync.Mutex
	kind    repo.Kind
	calls   []string
	fail    map[string]error
	files   map[string][]byte
	behind  int
	pending int
	dirty   bool
	closed  bool

	// BeforeCall, when set, runs before every recorded operation without the
	// lock held. Tests use it to block or observe calls.
	BeforeCall func(op string)
}

// New returns a provider of the given kind with an empty working copy.
func New(kind repo.Kind) *Provider {
	return &Provider{
		kind:  kind,
		fail:  make(map[string]error),
		files: make(map[string][]byte),
	}
}

// FailOn makes op return err. A nil err clears the failure.
func (p *Provider) FailOn(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, op)
		return
	}
	p.fail[op] = err
}

// SetBehind sets how many remote changes the next Fetch reports.
func (p *Provider) SetBehind(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behind = n
}

// SetPending sets the number of unpushed changes.
func (p *Provider) SetPending(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = n
}

// Pending returns the number of unpushed changes.
func (p *Provider) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Calls returns the recorded operations in order.
func (p *Provider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

// Count returns how often op was called.
func (p *Provider) Count(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == op {
			n++
		}
	}
	return n
}

// ResetCalls forgets the recorded operations.
func (p *Provider) ResetCalls() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// File returns the content last written to path.
func (p *Provider) File(path string) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.files[path]
	return slices.Clone(data), ok
}

// Closed reports whether Close was called.
func (p *Provider) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Provider) enter(op string) error {
	if p.BeforeCall != nil {
		p.BeforeCall(op)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, op)
	return p.fail[op]
}

// status must be called with p.mu held.
func (p *Provider) status() repo.Status {
	return repo.ComputeStatus(p.kind, repo.Introspection{
		Branch:         "main",
		Ahead:          p.pending,
		Behind:         p.behind,
		PendingPush:    p.pending,
		HasUncommitted: p.dirty,
	})
}

// Kind implements repo.Provider.
func (p *Provider) Kind() repo.Kind {
	return p.kind
}

// OpenOrClone implements repo.Provider.
func (p *Provider) OpenOrClone(context.Context) (repo.OpenResult, error) {
	if err := p.enter(OpOpen); err != nil {
		return repo.OpenResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var tree []repo.TreeEntry
	for _, path := range slices.Sorted(maps.Keys(p.files)) {
		tree = append(tree, repo.TreeEntry{Path: path, Size: int64(len(p.files[path]))})
	}
	return repo.OpenResult{LocalPath: "/fake", Tree: tree, Status: p.status()}, nil
}

// Status implements repo.Provider.
func (p *Provider) Status(context.Context) (repo.Status, error) {
	if err := p.enter(OpStatus); err != nil {
		return repo.Status{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status(), nil
}

// Fetch implements repo.Provider.
func (p *Provider) Fetch(context.Context) (repo.Status, error) {
	if err := p.enter(OpFetch); err != nil {
		return repo.Status{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status(), nil
}

// Pull implements repo.Provider.
func (p *Provider) Pull(context.Context) error {
	if err := p.enter(OpPull); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.behind = 0
	return nil
}

// Push implements repo.Provider.
func (p *Provider) Push(context.Context) error {
	if err := p.enter(OpPush); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = 0
	return nil
}

// Commit implements repo.Provider.
func (p *Provider) Commit(ctx context.Context, paths []string, message string) (repo.CommitResult, error) {
	if err := p.enter(OpCommit); err != nil {
		return repo.CommitResult{}, err
	}
	return p.commit(message), nil
}

// CommitAll implements repo.Provider.
func (p *Provider) CommitAll(_ context.Context, message string) (repo.CommitResult, error) {
	if err := p.enter(OpCommitAll); err != nil {
		return repo.CommitResult{}, err
	}
	return p.commit(message), nil
}

func (p *Provider) commit(message string) repo.CommitResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.dirty {
		return repo.NothingToCommit()
	}
	p.dirty = false
	p.pending++
	return repo.CommitResult{Hash: "fake", Message: message, Committed: true}
}

// WriteFile implements repo.Provider.
func (p *Provider) WriteFile(_ context.Context, path string, content []byte) error {
	if err := p.enter(OpWrite); err != nil {
		return err
	}
	clean, err := repo.CleanPath(path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.files[clean]; !ok || string(old) != string(content) {
		p.dirty = true
	}
	p.files[clean] = slices.Clone(content)
	return nil
}

// ReadFile implements repo.Provider.
func (p *Provider) ReadFile(_ context.Context, path string) ([]byte, error) {
	if err := p.enter(OpRead); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.files[path]
	if !ok {
		return nil, errors.Newf(errors.CodeFSNotFound, "files.read", "%s does not exist", path)
	}
	return slices.Clone(data), nil
}

// History implements repo.Provider with one revision per existing file.
func (p *Provider) History(_ context.Context, path string, _ int) ([]repo.Revision, error) {
	if err := p.enter(OpHistory); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.files[path]
	if !ok {
		return nil, nil
	}
	return []repo.Revision{{ID: "fake", Size: int64(len(data))}}, nil
}

// Close implements repo.Provider.
func (p *Provider) Close() error {
	if err := p.enter(OpClose); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
