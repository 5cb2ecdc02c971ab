package coordinator

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iliyamo/bus-seat-reservation/internal/protocol"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// Conn is the server end of a seat channel connection.  *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// keepAlive is implemented by *websocket.Conn; fakes in tests skip it.
type keepAlive interface {
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// ServeConn runs one connection until it fails or ctx is done.  Holds of
// the connection are released when it ends, so a client that vanishes
// without LeaveBus never locks a seat for longer than the transport takes
// to notice.
func (h *Hub) ServeConn(ctx context.Context, conn Conn, userID string) {
	c := h.Register(userID)
	ka, _ := conn.(keepAlive)
	if ka != nil {
		ka.SetReadLimit(maxMessage)
		_ = ka.SetReadDeadline(time.Now().Add(pongWait))
		ka.SetPongHandler(func(string) error { return ka.SetReadDeadline(time.Now().Add(pongWait)) })
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, ka, c)
		cancel()
	}()

	h.readPump(ctx, conn, c)
	// holds are released with a fresh context: ctx may already be done
	h.Disconnect(context.Background(), c)
	<-done
}

func (h *Hub) readPump(ctx context.Context, conn Conn, c *Client) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: client %s read: %v", c.ID, err)
			}
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			c.deliver(protocol.Error{Code: protocol.CodeBadRequest, Message: err.Error()})
			continue
		}
		h.Handle(ctx, c, m)
	}
}

func (h *Hub) writePump(conn Conn, ka keepAlive, c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case m, ok := <-c.Outbound():
			if ka != nil {
				_ = ka.SetWriteDeadline(time.Now().Add(writeWait))
			}
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			b, err := protocol.Encode(m)
			if err != nil {
				log.Printf("hub: encode %s: %v", m.Type(), err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			if ka == nil {
				continue
			}
			_ = ka.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
