// Package cache holds the last-known status snapshot per repository.
package cache

import (
	"sync"
	"time"

	"github.com/compozy/gitdeck/internal/domain"
)

// Clock supplies the current time. Tests substitute a simulated clock.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(time.Now)

// StatusCache is an in-memory map of repository id to status snapshot.
// Reads may happen from any goroutine; each repository has a single writer.
type StatusCache struct {
	mu      sync.RWMutex
	entries map[string]*domain.RepoStatus
	clock   Clock
}

// NewStatusCache creates an empty cache. A nil clock uses the wall clock.
func NewStatusCache(clock Clock) *StatusCache {
	if clock == nil {
		clock = SystemClock
	}
	return &StatusCache{
		entries: make(map[string]*domain.RepoStatus),
		clock:   clock,
	}
}

// Get returns a copy of the cached snapshot, or false when absent.
func (c *StatusCache) Get(repoID string) (*domain.RepoStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.entries[repoID]
	if !ok {
		return nil, false
	}
	return status.Clone(), true
}

// Set replaces the snapshot for repoID. The stored value is a private copy
// whose RepoID is forced to repoID. A zero LastUpdatedAt is stamped with now.
func (c *StatusCache) Set(repoID string, status *domain.RepoStatus) {
	if status == nil {
		return
	}
	snapshot := status.Clone()
	snapshot.RepoID = repoID
	if snapshot.LastUpdatedAt.IsZero() {
		snapshot.LastUpdatedAt = c.clock.Now()
	}
	c.mu.Lock()
	c.entries[repoID] = snapshot
	c.mu.Unlock()
}

// Invalidate evicts the snapshot for repoID.
func (c *StatusCache) Invalidate(repoID string) {
	c.mu.Lock()
	delete(c.entries, repoID)
	c.mu.Unlock()
}

// InvalidateAll evicts every snapshot.
func (c *StatusCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*domain.RepoStatus)
	c.mu.Unlock()
}

// IsStale reports whether repoID is absent or older than maxAge.
func (c *StatusCache) IsStale(repoID string, maxAge time.Duration) bool {
	c.mu.RLock()
	status, ok := c.entries[repoID]
	c.mu.RUnlock()
	if !ok {
		return true
	}
	return c.clock.Now().Sub(status.LastUpdatedAt) > maxAge
}

// TrackedIDs returns the set of repository ids with a cached snapshot.
func (c *StatusCache) TrackedIDs() map[string]struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make(map[string]struct{}, len(c.entries))
	for id := range c.entries {
		ids[id] = struct{}{}
	}
	return ids
}

// Now returns the cache clock's current time.
func (c *StatusCache) Now() time.Time {
	return c.clock.Now()
}
