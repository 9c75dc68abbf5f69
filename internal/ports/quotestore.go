package ports

import (
	"context"
	"time"

	"optionsim/internal/domain"
)

// QuoteStore is a short-TTL cache holding the latest normalized quote per
// instrument. The feed bridge is the only writer for a given session; the
// execution engine reads. Entries expire so a dead feed cannot leave stale
// data trusted indefinitely.
type QuoteStore interface {
	// Set stores the quote under the instrument key with the given TTL.
	Set(ctx context.Context, instrumentKey string, quote *domain.Quote, ttl time.Duration) error
	// Get returns the latest quote, or nil, nil if absent or expired.
	Get(ctx context.Context, instrumentKey string) (*domain.Quote, error)
}

// Locker is a short-TTL lock keyed by an arbitrary string, used both for the
// per-(user,instrument) execution lock and for idempotency guards. It is
// fail-open: a failed acquisition means "skip this attempt", never "block".
type Locker interface {
	// TryAcquire attempts to take the lock; returns false if already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release drops the lock if held.
	Release(ctx context.Context, key string) error
}
