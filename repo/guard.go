package repo

import "sync"

// Guard serializes access to one profile's working copy: mutations run
// exclusively, reads share.
type Guard struct {
	mu sync.RWMutex
}

// Write runs fn while holding the exclusive lock.
func (g *Guard) Write(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// Read runs fn while holding the shared lock.
func (g *Guard) Read(fn func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn()
}
