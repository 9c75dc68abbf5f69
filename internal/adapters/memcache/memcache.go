// Package memcache provides in-process TTL-bound implementations of the
// quote store and locker ports. A single process owns the whole simulation,
// so a shared cache server would only add a network hop; the TTL semantics
// are kept identical so an external cache could be swapped in behind the
// same ports.
package memcache

import (
	"context"
	"sync"
	"time"

	"optionsim/internal/domain"
)

type quoteEntry struct {
	quote     *domain.Quote
	expiresAt time.Time
}

// QuoteCache implements ports.QuoteStore with an expiring map.
type QuoteCache struct {
	mu      sync.RWMutex
	entries map[string]quoteEntry
	now     func() time.Time
}

// NewQuoteCache creates an empty quote cache.
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		entries: make(map[string]quoteEntry),
		now:     time.Now,
	}
}

// Set stores the quote under the instrument key with the given TTL.
func (c *QuoteCache) Set(ctx context.Context, instrumentKey string, quote *domain.Quote, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[instrumentKey] = quoteEntry{quote: quote, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Get returns the latest quote, or nil, nil if absent or expired. Expired
// entries are dropped lazily on read.
func (c *QuoteCache) Get(ctx context.Context, instrumentKey string) (*domain.Quote, error) {
	c.mu.RLock()
	entry, ok := c.entries[instrumentKey]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock: a fresher Set may have raced in.
		if cur, ok := c.entries[instrumentKey]; ok && c.now().After(cur.expiresAt) {
			delete(c.entries, instrumentKey)
		}
		c.mu.Unlock()
		return nil, nil
	}
	return entry.quote, nil
}

// Len reports the number of live (non-expired) entries.
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	now := c.now()
	for _, entry := range c.entries {
		if !now.After(entry.expiresAt) {
			n++
		}
	}
	return n
}

// LockTable implements ports.Locker with an expiring map. Locks are advisory
// and fail-open: a held lock means the caller skips its attempt.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{
		locks: make(map[string]time.Time),
		now:   time.Now,
	}
}

// TryAcquire attempts to take the lock; returns false if already held.
func (t *LockTable) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if expiresAt, held := t.locks[key]; held && now.Before(expiresAt) {
		return false, nil
	}
	t.locks[key] = now.Add(ttl)
	return true, nil
}

// Release drops the lock if held.
func (t *LockTable) Release(ctx context.Context, key string) error {
	t.mu.Lock()
	delete(t.locks, key)
	t.mu.Unlock()
	return nil
}
