package transport

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/matst80/matchbox/internal/obs"
	"github.com/matst80/matchbox/internal/session"
)

// Conn owns one WebSocket endpoint. All writes go through the send channel
// and a single pump goroutine, so the broker can hand off payloads without
// ever touching the socket.
type Conn struct {
	id     session.ConnID
	source string
	ws     *websocket.Conn

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

func newConn(ws *websocket.Conn, source string, buffer int) *Conn {
	return &Conn{
		source: source,
		ws:     ws,
		send:   make(chan []byte, buffer),
	}
}

// Send queues a payload for delivery. It never blocks: a connection whose
// buffer is full is not draining its socket, and keeping it would stall
// signals for everyone behind it in the broker loop, so it gets closed.
func (c *Conn) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		c.closed = true
		close(c.send)
		obs.Error("conn.backpressure", obs.Fields{"conn": c.id, "source": c.source})
		return false
	}
}

// shutdown closes the send channel, which ends the write pump and with it
// the socket. Safe to call more than once.
func (c *Conn) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Conn) writePump(writeTimeout, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
