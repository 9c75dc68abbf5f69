// Package wssession adapts a gorilla websocket connection to the client
// session port used by the feed bridge.
package wssession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionsim/internal/ports"
)

const writeTimeout = 5 * time.Second

// Session implements ports.ClientSession over a websocket connection. The
// write mutex serializes sends; gorilla allows only one concurrent writer.
type Session struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// New wraps an already-upgraded websocket connection.
func New(ws *websocket.Conn) *Session {
	return &Session{ws: ws}
}

// Send marshals and writes the event as a JSON text message. A write failure
// marks the session closed; the caller drops it from its broadcast set.
func (s *Session) Send(ctx context.Context, event ports.Event) error {
	if !s.IsOpen() {
		return fmt.Errorf("session closed, dropping %s event", event.Type)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.ws.WriteJSON(event); err != nil {
		s.markClosed()
		return fmt.Errorf("failed to send %s event: %w", event.Type, err)
	}
	return nil
}

// IsOpen reports whether the session can still accept sends.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close shuts the session down. Safe to call multiple times.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(time.Second))
	_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.ws.Close()
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
