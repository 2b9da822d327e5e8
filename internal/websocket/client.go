package websocket

import (
	"context"
	"sync"
	"time"

	"community-chat/internal/chat"
	"community-chat/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Client owns one websocket connection: a read pump feeding the chat
// dispatch table and a write pump draining the outbound buffer. It is the
// session's Sink.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	service *chat.Service
	session *chat.Session

	closeOnce sync.Once
}

func NewClient(conn *websocket.Conn, service *chat.Service, sendBuffer int) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		service: service,
	}
}

// Bind attaches the authenticated session. Must be called before the pumps
// start.
func (c *Client) Bind(session *chat.Session) {
	c.session = session
}

// Enqueue implements chat.Sink. Non-blocking: a full buffer means the client
// is too slow and the frame is dropped.
func (c *Client) Enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close implements chat.Sink. Closing the send channel stops the write
// pump, which closes the connection and thereby stops the read pump.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		// Disconnect is idempotent; it releases every room registration
		// and the presence/typing state behind them.
		c.service.Disconnect(c.session)
		c.conn.Close()
	}()

	// Read deadline and pong handler for connection health
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket error: %v", err)
			}
			break
		}

		c.service.Dispatch(ctx, c.session, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Error("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
