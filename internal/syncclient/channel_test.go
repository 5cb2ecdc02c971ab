package syncclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/bus-seat-reservation/internal/protocol"
)

type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []protocol.Message
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case b := <-c.in:
		return 1, b, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	m, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, m)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(t *testing.T, m protocol.Message) {
	b, err := protocol.Encode(m)
	require.NoError(t, err)
	c.in <- b
}

func (c *fakeConn) sent() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.written))
	copy(out, c.written)
	return out
}

// fakeDialer hands out the queued results in order, then fails.
type fakeDialer struct {
	mu      sync.Mutex
	results []any
	dials   int
}

func (d *fakeDialer) Dial(ctx context.Context, _ string, _ http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.results) == 0 {
		return nil, errors.New("refused")
	}
	r := d.results[0]
	d.results = d.results[1:]
	if err, ok := r.(error); ok {
		return nil, err
	}
	return r.(Conn), nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func newTestChannel(d Dialer) *Channel {
	ch := New(Config{URL: "ws://test", BusID: "bus-1", SessionID: "sess-1"}, d)
	ch.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return ch
}

func nextEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case ev, ok := <-ch.Events():
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestChannel_JoinsOnConnect(t *testing.T) {
	conn := newFakeConn()
	ch := newTestChannel(&fakeDialer{results: []any{conn}})
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	assert.Equal(t, Connected{Reconnect: false}, nextEvent(t, ch))
	require.NotEmpty(t, conn.sent())
	assert.Equal(t, protocol.JoinBus{BusID: "bus-1", UserID: "anonymous", SessionID: "sess-1"}, conn.sent()[0])
}

func TestChannel_DeliversInbound(t *testing.T) {
	conn := newFakeConn()
	ch := newTestChannel(&fakeDialer{results: []any{conn}})
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()
	nextEvent(t, ch)

	conn.push(t, protocol.SeatDeselected{SeatNumber: 4})
	conn.in <- []byte(`{"type":"bogus"}`)
	conn.push(t, protocol.SeatsBooked{BookedSeats: []int{1}})

	assert.Equal(t, Inbound{Message: protocol.SeatDeselected{SeatNumber: 4}}, nextEvent(t, ch))
	assert.Equal(t, Inbound{Message: protocol.SeatsBooked{BookedSeats: []int{1}}}, nextEvent(t, ch))
}

func TestChannel_SendWhileDisconnected(t *testing.T) {
	ch := newTestChannel(&fakeDialer{})
	err := ch.Send(protocol.SelectSeat{BusID: "bus-1", SeatNumber: 1, Action: protocol.ActionSelect})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.NoError(t, ch.Close())
}

func TestChannel_ReconnectsAndRejoins(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	ch := newTestChannel(&fakeDialer{results: []any{first, second}})
	require.NoError(t, ch.Open(context.Background()))
	defer ch.Close()

	assert.Equal(t, Connected{Reconnect: false}, nextEvent(t, ch))
	first.Close()

	ev := nextEvent(t, ch)
	require.IsType(t, Disconnected{}, ev)
	assert.Equal(t, Connected{Reconnect: true}, nextEvent(t, ch))
	require.NotEmpty(t, second.sent())
	assert.Equal(t, protocol.TypeJoinBus, second.sent()[0].Type())
	assert.True(t, ch.Connected())
}

func TestChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	d := &fakeDialer{}
	ch := newTestChannel(d)
	require.NoError(t, ch.Open(context.Background()))

	ev := nextEvent(t, ch)
	require.IsType(t, ConnectionLost{}, ev)
	assert.Equal(t, 5, d.count())

	_, ok := <-ch.Events()
	assert.False(t, ok)
	assert.NoError(t, ch.Close())
}

func TestChannel_CloseSendsLeaveBus(t *testing.T) {
	conn := newFakeConn()
	ch := newTestChannel(&fakeDialer{results: []any{conn}})
	require.NoError(t, ch.Open(context.Background()))
	nextEvent(t, ch)

	require.NoError(t, ch.Close())
	sent := conn.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, protocol.LeaveBus{BusID: "bus-1"}, sent[1])
	assert.False(t, ch.Connected())
	assert.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Open(context.Background()), ErrAlreadyOpen)
}

func TestNextDelay(t *testing.T) {
	d := time.Second
	var got []time.Duration
	for i := 0; i < 7; i++ {
		got = append(got, d)
		d = nextDelay(d, 30*time.Second)
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}, got)
}
