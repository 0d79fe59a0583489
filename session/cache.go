package session

import (
	"sync"
	"time"
)

// cache is the in-memory write-through layer in front of the durable
// store. It is consulted first on validation; entries are replaced on
// every extension and removed on terminate and sweep, so it never
// diverges from the store for longer than a single operation.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*Session
	cap     int
}

func newCache(capacity int) *cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &cache{
		entries: make(map[string]*Session, capacity),
		cap:     capacity,
	}
}

func (c *cache) get(sessionID string, now time.Time) (*Session, bool) {
	c.mu.RLock()
	sess, ok := c.entries[sessionID]
	c.mu.RUnlock()

	if !ok || sess.Expired(now) {
		return nil, false
	}
	return sess, true
}

func (c *cache) put(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.cap {
		if _, exists := c.entries[sess.SessionID]; !exists {
			// Over capacity: drop one arbitrary entry. The store remains
			// authoritative, so eviction only costs a re-read.
			for id := range c.entries {
				delete(c.entries, id)
				break
			}
		}
	}
	c.entries[sess.SessionID] = sess
}

func (c *cache) remove(sessionID string) {
	c.mu.Lock()
	delete(c.entries, sessionID)
	c.mu.Unlock()
}

// sweep drops expired entries and returns how many were removed.
func (c *cache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, sess := range c.entries {
		if sess.Expired(now) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
