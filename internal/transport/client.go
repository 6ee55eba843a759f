package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dreamware/hashcrack/internal/cluster"
)

// WebsocketURL turns a coordinator base address into its websocket endpoint.
func WebsocketURL(addr string) string {
	addr = strings.TrimSuffix(addr, "/")
	switch {
	case strings.HasPrefix(addr, "https://"):
		addr = "wss://" + strings.TrimPrefix(addr, "https://")
	case strings.HasPrefix(addr, "http://"):
		addr = "ws://" + strings.TrimPrefix(addr, "http://")
	case !strings.HasPrefix(addr, "ws://") && !strings.HasPrefix(addr, "wss://"):
		addr = "ws://" + addr
	}
	return addr + "/ws"
}

// Client is a worker's connection to the coordinator.
type Client struct {
	conn     *websocket.Conn
	incoming chan cluster.Envelope
	err      error
	mu       sync.Mutex
}

// Dial connects to the coordinator at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: writeWait}
	conn, _, err := dialer.DialContext(ctx, WebsocketURL(addr), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:     conn,
		incoming: make(chan cluster.Envelope, sendBuffer),
	}
	go c.readPump()
	return c, nil
}

func (c *Client) readPump() {
	defer close(c.incoming)
	for {
		var env cluster.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.err = err
			}
			return
		}
		c.incoming <- env
	}
}

// Receive returns the inbound envelopes. The channel is closed when the
// connection ends; Err then reports why.
func (c *Client) Receive() <-chan cluster.Envelope {
	return c.incoming
}

// Err returns the read error that ended the connection, or nil after a clean
// close. It must only be called once Receive is closed.
func (c *Client) Err() error {
	return c.err
}

// Send writes env to the coordinator.
func (c *Client) Send(env cluster.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// Close ends the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.mu.Unlock()
	return c.conn.Close()
}
