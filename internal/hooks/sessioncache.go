package hooks

import (
	"sync"
	"time"
)

// sessionHot is the in-memory per-session state the hook API treats as
// authoritative between writes: the last observed activity time and the
// currently open batch, if any.
type sessionHot struct {
	LastActivity  time.Time
	ActiveBatchID string
}

// sessionCache mirrors a thin slice of store state in memory so hook
// handlers on the fast path don't round-trip the database on every
// request. The pipeline's background recovery (ending stale sessions,
// reassociating orphaned activities) mutates the same rows out of band;
// it must call Invalidate on any session it touches so the next hook
// request re-reads from the store instead of trusting a now-stale hot
// entry — the state-sync contract between the hook API and the
// pipeline.
type sessionCache struct {
	mu      sync.Mutex
	entries map[string]sessionHot
}

func newSessionCache() *sessionCache {
	return &sessionCache{entries: make(map[string]sessionHot)}
}

func (c *sessionCache) Get(sessionID string) (sessionHot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.entries[sessionID]
	return h, ok
}

func (c *sessionCache) Set(sessionID string, h sessionHot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = h
}

// Invalidate drops a cached entry. Safe to call for a session with no
// cached entry.
func (c *sessionCache) Invalidate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
}

// InvalidateSession implements pipeline.SessionInvalidator, letting
// background recovery drop a hot entry it just mutated out from under.
func (s *Server) InvalidateSession(sessionID string) {
	s.sessions.Invalidate(sessionID)
}
