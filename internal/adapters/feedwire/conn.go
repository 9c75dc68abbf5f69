package feedwire

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"optionsim/internal/domain"
	"optionsim/internal/ports"
)

const (
	writeTimeout   = 5 * time.Second
	tickBufferSize = 1024
)

// Conn is one live feed websocket session. A dedicated goroutine owns the
// read side and publishes decoded ticks on Ticks(); when it exits, the
// channel is closed and Err reports the terminal error.
type Conn struct {
	ws     *websocket.Conn
	mode   Mode
	logger ports.Logger

	writeMu sync.Mutex // websocket allows one concurrent writer

	ticks chan *domain.Tick

	closeOnce sync.Once
	closed    chan struct{}

	errMu sync.Mutex
	err   error
}

func newConn(ws *websocket.Conn, mode Mode, logger ports.Logger) *Conn {
	c := &Conn{
		ws:     ws,
		mode:   mode,
		logger: logger,
		ticks:  make(chan *domain.Tick, tickBufferSize),
		closed: make(chan struct{}),
	}
	go c.readLoop()
	return c
}

type subscriptionMessage struct {
	GUID   string           `json:"guid"`
	Method string           `json:"method"`
	Data   subscriptionData `json:"data"`
}

type subscriptionData struct {
	Mode           Mode     `json:"mode"`
	InstrumentKeys []string `json:"instrumentKeys"`
}

// Subscribe requests streaming for the given instrument keys.
func (c *Conn) Subscribe(ctx context.Context, instrumentKeys []string) error {
	return c.sendControl(ctx, "sub", instrumentKeys)
}

// Unsubscribe stops streaming for the given instrument keys.
func (c *Conn) Unsubscribe(ctx context.Context, instrumentKeys []string) error {
	return c.sendControl(ctx, "unsub", instrumentKeys)
}

func (c *Conn) sendControl(ctx context.Context, method string, instrumentKeys []string) error {
	if len(instrumentKeys) == 0 {
		return nil
	}
	select {
	case <-c.closed:
		return fmt.Errorf("feed connection closed: %w", ports.ErrConnectionFailed)
	default:
	}

	msg := subscriptionMessage{
		GUID:   uuid.NewString(),
		Method: method,
		Data:   subscriptionData{Mode: c.mode, InstrumentKeys: instrumentKeys},
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", method, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	// The broker expects control messages on binary frames.
	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("failed to send %s for %d instruments: %w", method, len(instrumentKeys), err)
	}
	c.logger.Debug(ctx, "Feed control message sent", map[string]interface{}{"method": method, "instruments": len(instrumentKeys)})
	return nil
}

// Ticks returns the channel of decoded ticks.
func (c *Conn) Ticks() <-chan *domain.Tick {
	return c.ticks
}

// Err returns the terminal error after Ticks is closed.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close tears the connection down. Safe to call multiple times.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.ticks)
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// Clean shutdown; leave err nil.
			default:
				c.setErr(fmt.Errorf("feed read failed: %w (%w)", err, ports.ErrConnectionFailed))
			}
			_ = c.Close()
			return
		}

		ticks, err := decodeFrame(raw)
		if err != nil {
			c.logger.Warn(context.Background(), "Dropping undecodable feed frame", map[string]interface{}{"error": err.Error(), "bytes": len(raw)})
			continue
		}
		for _, tick := range ticks {
			select {
			case c.ticks <- tick:
			case <-c.closed:
				return
			default:
				// Consumer is behind; drop the oldest tick to keep latest data flowing.
				select {
				case <-c.ticks:
				default:
				}
				select {
				case c.ticks <- tick:
				default:
				}
			}
		}
	}
}

func (c *Conn) setErr(err error) {
	c.errMu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMu.Unlock()
}
