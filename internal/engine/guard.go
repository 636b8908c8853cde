package engine

import "sync"

// RefreshGuard enforces at most one bulk refresh in flight per user.
type RefreshGuard struct {
	mu      sync.Mutex
	running map[string]bool
}

// NewRefreshGuard creates an empty RefreshGuard.
func NewRefreshGuard() *RefreshGuard {
	return &RefreshGuard{running: make(map[string]bool)}
}

// TryAcquire marks user as refreshing. It reports false if a refresh for
// user is already running.
func (g *RefreshGuard) TryAcquire(user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[user] {
		return false
	}
	g.running[user] = true
	return true
}

// Release clears the refreshing mark for user.
func (g *RefreshGuard) Release(user string) {
	g.mu.Lock()
	delete(g.running, user)
	g.mu.Unlock()
}

// Running reports whether a bulk refresh is in flight for user.
func (g *RefreshGuard) Running(user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.running[user]
}
