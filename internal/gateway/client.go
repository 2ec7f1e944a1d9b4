package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openswarm-dev/swarmgate/internal/bus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 256
)

// Client is one WebSocket subscriber. Events are queued on a buffered
// channel and written by a single pump goroutine; a client that cannot keep
// up loses events rather than stalling the bus.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan bus.Event

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan bus.Event, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues an event frame without blocking.
func (c *Client) Send(ev bus.Event) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		slog.Warn("websocket client lagging, dropping event", "client", c.id, "kind", ev.Kind)
	}
}

// Run pumps events to the connection until the peer disconnects or ctx is
// cancelled.
func (c *Client) Run(ctx context.Context) {
	go c.readLoop()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-c.done:
			return
		}
	}
}

// readLoop discards inbound frames; the socket is publish-only. Reading is
// still required to process pongs and detect the peer closing.
func (c *Client) readLoop() {
	defer c.Close()
	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
