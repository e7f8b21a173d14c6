package chat

import (
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// ConnLike is the slice of the websocket connection the chat layer
// needs; fakes implement it in tests.
type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// Client wraps one open socket. Outbound frames go through the send
// channel so the write pump is the only writer on the connection.
type Client struct {
	ID   string
	Conn ConnLike

	send chan []byte
	done chan struct{}
	once sync.Once
}

func NewClient(conn ConnLike) *Client {
	return &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

// TrySend queues a frame for delivery without blocking. Returns false
// when the client is closed or its buffer is full; broadcast delivery
// is at-most-once per recipient, so callers never retry.
func (c *Client) TrySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// WritePump drains the send channel onto the socket until the client
// closes or a write fails.
func (c *Client) WritePump() {
	for {
		select {
		case data := <-c.send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.CloseOnce()
				return
			}
		case <-c.done:
			return
		}
	}
}

// CloseOnce tears the connection down exactly once.
func (c *Client) CloseOnce() {
	c.once.Do(func() {
		close(c.done)
		_ = c.Conn.Close()
	})
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
