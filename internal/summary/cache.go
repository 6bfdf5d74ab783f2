// Package summary keeps a one-sentence running summary of every live
// conversation. A [Tracker] counts learner turns and asks a [Summariser] for
// a fresh summary every N turns; results land in a bounded, expiring [Cache]
// shared by all sessions.
package summary

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache defaults.
const (
	DefaultCacheSize = 1024
	DefaultTTL       = 2 * time.Hour
)

// Entry is the cached state of one session.
type Entry struct {
	Summary   string    `json:"summary"`
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache maps session IDs to their latest summary. It holds at most size
// entries, evicting the least recently used, and drops entries not refreshed
// within ttl. Safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, Entry]
}

// NewCache creates a Cache. Non-positive arguments select the defaults.
func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, Entry](size, nil, ttl)}
}

// Get returns the entry for sessionID.
func (c *Cache) Get(sessionID string) (Entry, bool) {
	return c.lru.Get(sessionID)
}

// Put stores e for sessionID, overwriting any previous entry.
func (c *Cache) Put(sessionID string, e Entry) {
	c.lru.Add(sessionID, e)
}

// Delete removes sessionID. Called on session teardown.
func (c *Cache) Delete(sessionID string) {
	c.lru.Remove(sessionID)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}
