// Package syncclient is the participant side of the seat channel: a
// persistent WebSocket to the coordination service that joins one bus,
// delivers inbound protocol messages as events and reconnects with
// backoff.  The channel is an explicitly owned resource: Open it when the
// seat-selection view is entered and Close it when the view is left.
package syncclient

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iliyamo/bus-seat-reservation/internal/protocol"
)

// ErrNotConnected is returned by Send while the transport is down.
// Selections are blocked rather than accepted optimistically.
var ErrNotConnected = errors.New("syncclient: not connected")

// ErrAlreadyOpen is returned when Open is called twice.
var ErrAlreadyOpen = errors.New("syncclient: already open")

// Conn is the transport connection.  *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens transport connections.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// Event is delivered on Channel.Events.  It is one of Connected,
// Disconnected, ConnectionLost or Inbound.
type Event interface{ isEvent() }

// Connected is emitted after the transport is up and JoinBus was sent.
// Reconnect is true for every connection after the first.
type Connected struct{ Reconnect bool }

// Disconnected is emitted when an established transport fails.  The
// channel keeps trying to reconnect.
type Disconnected struct{ Err error }

// ConnectionLost is emitted once reconnect attempts are exhausted.  No
// further events follow.
type ConnectionLost struct{ Err error }

// Inbound carries a message from the coordination service.
type Inbound struct{ Message protocol.Message }

func (Connected) isEvent()      {}
func (Disconnected) isEvent()   {}
func (ConnectionLost) isEvent() {}
func (Inbound) isEvent()        {}

// Config describes the bus channel to open.
type Config struct {
	URL       string
	Header    http.Header
	BusID     string
	UserID    string
	SessionID string

	MaxAttempts  int           // consecutive failed dials before giving up (default 5)
	BaseDelay    time.Duration // first reconnect delay, doubled per failure (default 1s)
	MaxDelay     time.Duration // reconnect delay cap (default 30s)
	WriteTimeout time.Duration // per-message write deadline (default 10s)
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.UserID == "" {
		c.UserID = "anonymous"
	}
}

// Channel is a reconnecting seat channel for one bus.
type Channel struct {
	cfg    Config
	dialer Dialer
	events chan Event
	// sleep waits between reconnect attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	conn   Conn
	opened bool
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an unopened channel.
func New(cfg Config, dialer Dialer) *Channel {
	cfg.applyDefaults()
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Channel{
		cfg:    cfg,
		dialer: dialer,
		events: make(chan Event, 64),
		sleep:  sleepContext,
		done:   make(chan struct{}),
	}
}

// Events returns the event stream.  It is closed when the channel stops.
func (c *Channel) Events() <-chan Event { return c.events }

// Open starts connecting in the background.
func (c *Channel) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened || c.closed {
		return ErrAlreadyOpen
	}
	c.opened = true
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
	return nil
}

// Connected reports whether the transport is currently up.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes one message.  It never queues: while disconnected it fails
// with ErrNotConnected.
func (c *Channel) Send(m protocol.Message) error {
	b, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if d, ok := c.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close sends LeaveBus when connected, tears the transport down and waits
// for the background loop to exit.  Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	connected := c.conn != nil
	c.mu.Unlock()

	if connected {
		if err := c.Send(protocol.LeaveBus{BusID: c.cfg.BusID}); err != nil {
			log.Printf("syncclient: leave bus %s: %v", c.cfg.BusID, err)
		}
	}

	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	opened := c.opened
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	if opened {
		<-c.done
	} else {
		close(c.events)
	}
	return err
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	failures := 0
	delay := c.cfg.BaseDelay
	established := false
	for {
		conn, err := c.dialer.Dial(ctx, c.cfg.URL, c.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if failures >= c.cfg.MaxAttempts {
				log.Printf("syncclient: giving up on bus %s after %d attempts: %v", c.cfg.BusID, failures, err)
				c.emit(ctx, ConnectionLost{Err: err})
				return
			}
			log.Printf("syncclient: dial failed: %v; retrying in %s", err, delay)
			if c.sleep(ctx, delay) != nil {
				return
			}
			delay = nextDelay(delay, c.cfg.MaxDelay)
			continue
		}
		failures = 0
		delay = c.cfg.BaseDelay

		if !c.attach(conn) {
			_ = conn.Close()
			return
		}
		join := protocol.JoinBus{BusID: c.cfg.BusID, UserID: c.cfg.UserID, SessionID: c.cfg.SessionID}
		if err = c.Send(join); err == nil {
			c.emit(ctx, Connected{Reconnect: established})
			established = true
			err = c.readLoop(ctx, conn)
		}
		c.detach(conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		log.Printf("syncclient: connection to bus %s lost: %v; reconnecting", c.cfg.BusID, err)
		c.emit(ctx, Disconnected{Err: err})
		if c.sleep(ctx, delay) != nil {
			return
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m, err := protocol.Decode(data)
		if err != nil {
			log.Printf("syncclient: dropping message: %v", err)
			continue
		}
		if !c.emit(ctx, Inbound{Message: m}) {
			return ctx.Err()
		}
	}
}

func (c *Channel) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) attach(conn Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Channel) detach(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.conn = nil
	}
}

func nextDelay(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
