package ports

import (
	"context"

	"optionsim/internal/domain"
)

// FeedDialer establishes authorized upstream market-data connections. The
// authorize step returns a single-use websocket URL, so every reconnect goes
// through the dialer again.
type FeedDialer interface {
	// Dial authorizes and opens a streaming connection. A 401 from the broker
	// maps to ErrTokenInvalid, a 403 to ErrFeedEntitlement.
	Dial(ctx context.Context) (FeedConn, error)
}

// FeedConn is a live upstream streaming connection. A single goroutine owns
// the read side; Subscribe/Unsubscribe may be called from the bridge.
type FeedConn interface {
	// Subscribe requests full-depth streaming for the given instrument keys.
	Subscribe(ctx context.Context, instrumentKeys []string) error
	// Unsubscribe stops streaming for the given instrument keys.
	Unsubscribe(ctx context.Context, instrumentKeys []string) error
	// Ticks returns the channel of decoded ticks. It is closed when the
	// connection dies; Err then reports why.
	Ticks() <-chan *domain.Tick
	// Err returns the terminal error after Ticks is closed, or nil on a
	// clean Close.
	Err() error
	// Close tears the connection down.
	Close() error
}
