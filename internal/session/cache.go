package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotFound is returned for unknown or expired session ids.
var ErrNotFound = eris.New("session: not found")

// Cache is a concurrent-safe LRU of sessions with an idle TTL. Each access
// refreshes a session's TTL.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string // LRU order: front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64
}

type cacheEntry struct {
	session  *Session
	lastUsed time.Time
}

// Stats contains cache statistics.
type Stats struct {
	Entries    int   `json:"entries"`
	MaxEntries int   `json:"maxEntries"`
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	Evictions  int64 `json:"evictions"`
}

// NewCache creates a Cache holding at most maxEntries sessions, each
// expiring after ttl without use. A zero ttl disables expiry.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: max(maxEntries, 1),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Add stores s, evicting the least recently used session if at capacity.
func (c *Cache) Add(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[s.ID]; ok {
		c.removeFromOrder(s.ID)
	} else {
		for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
			c.evictions.Add(1)
			zap.L().Debug("session: evicted", zap.String("session", oldest))
		}
	}
	c.entries[s.ID] = &cacheEntry{session: s, lastUsed: c.now()}
	c.order = append(c.order, s.ID)
}

// Get returns the session with id and marks it most recently used.
func (c *Cache) Get(id string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		c.misses.Add(1)
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	now := c.now()
	if c.expired(entry, now) {
		delete(c.entries, id)
		c.removeFromOrder(id)
		c.misses.Add(1)
		return nil, eris.Wrapf(ErrNotFound, "session %s expired", id)
	}

	entry.lastUsed = now
	c.removeFromOrder(id)
	c.order = append(c.order, id)
	c.hits.Add(1)
	return entry.session, nil
}

// Delete removes the session with id.
func (c *Cache) Delete(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; !ok {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	delete(c.entries, id)
	c.removeFromOrder(id)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var removed int
	remaining := c.order[:0]
	for _, id := range c.order {
		if c.expired(c.entries[id], now) {
			delete(c.entries, id)
			removed++
			continue
		}
		remaining = append(remaining, id)
	}
	c.order = remaining
	return removed
}

// Len returns the number of cached sessions, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
	}
}

func (c *Cache) expired(e *cacheEntry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.lastUsed) > c.ttl
}

// removeFromOrder removes an id from the LRU order slice.
func (c *Cache) removeFromOrder(id string) {
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
