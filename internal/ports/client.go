package ports

import "context"

// Event is a single outbound message to a connected client. Type is the
// event discriminator ("MARKET_UPDATE", "FEED_STATE", ...); Payload is
// marshaled as-is.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// ClientSession is one downstream client connection. Send is safe for
// concurrent use; a send to a closed session returns an error rather than
// panicking, so broadcast loops can drop dead clients gracefully.
type ClientSession interface {
	// Send marshals and writes the event to the client.
	Send(ctx context.Context, event Event) error
	// IsOpen reports whether the session can still accept sends.
	IsOpen() bool
	// Close shuts the session down.
	Close() error
}
