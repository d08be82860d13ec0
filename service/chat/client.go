package chat

import (
	"sync"
	"time"

	"PRelay/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Client is one live websocket connection.
type Client struct {
	ConnID     string
	UserID     string
	Authorized bool

	ws   *websocket.Conn
	send chan []byte

	mu        sync.Mutex
	heartbeat time.Time
	createdAt time.Time

	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(connID string, ws *websocket.Conn, sendQueue int) *Client {
	now := time.Now()
	return &Client{
		ConnID:    connID,
		ws:        ws,
		send:      make(chan []byte, sendQueue),
		heartbeat: now,
		createdAt: now,
		closed:    make(chan struct{}),
	}
}

// Enqueue hands a payload to the write pump. A full buffer means the
// reader is too slow; the payload is dropped rather than blocking the hub.
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		logger.Warnf("[chat] send buffer full, dropping frame conn=%s user=%s", c.ConnID, c.UserID)
		return false
	}
}

// WritePump is the single goroutine allowed to write on the socket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debug("[chat] write failed conn=" + c.ConnID + ": " + err.Error())
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) ReadMessage() (int, []byte, error) {
	return c.ws.ReadMessage()
}

func (c *Client) Touch() {
	c.mu.Lock()
	c.heartbeat = time.Now()
	c.mu.Unlock()
}

func (c *Client) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeat
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}
