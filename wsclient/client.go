// Package wsclient is the consumer SDK for the per-ticket support chat
// channel. It owns one logical connection, re-establishes it with
// exponential backoff when it drops, re-joins the ticket room, and
// dispatches typed inbound frames to subscribers.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
)

// MessageHandler receives the raw JSON of every inbound frame whose
// type it subscribed to.
type MessageHandler func(payload []byte)

// ConnectionHandler is notified with true on connect and false on
// disconnect.
type ConnectionHandler func(connected bool)

// Conn is the transport surface the client uses; the default is a
// fasthttp/websocket connection.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

// DialFunc opens one physical connection.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Client is the reconnection agent. All exported methods are safe for
// concurrent use.
type Client struct {
	serverURL string
	dial      DialFunc

	backoffBase time.Duration
	backoffCap  time.Duration
	maxAttempts int

	mu           sync.Mutex
	conn         Conn
	ticketID     string
	attempts     int
	timer        *time.Timer
	dialing      bool // at most one physical connection attempt in flight
	closed       bool // explicit Disconnect; blocks further retries
	nextSubID    int
	handlers     map[string][]subscription
	connHandlers []ConnectionHandler
}

// subscription ties a handler to a removal token, so identical
// closures can be unsubscribed individually.
type subscription struct {
	id int
	fn MessageHandler
}

func New(serverURL string) *Client {
	return &Client{
		serverURL:   strings.TrimRight(serverURL, "/"),
		dial:        defaultDial,
		backoffBase: time.Second,
		backoffCap:  10 * time.Second,
		maxAttempts: 5,
		handlers:    make(map[string][]subscription),
	}
}

func defaultDial(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Connect opens the channel for a ticket. A no-op when already
// connected. A failed open is returned to the caller; automatic
// retries only start after an established connection drops.
// Calling Connect after the retry ceiling was hit starts a fresh
// cycle with the attempt counter reset.
func (c *Client) Connect(ctx context.Context, ticketID string) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.closed = false
	c.attempts = 0
	c.ticketID = ticketID
	c.mu.Unlock()

	return c.establish(ctx)
}

func (c *Client) establish(ctx context.Context) error {
	c.mu.Lock()
	if c.dialing || c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.dialing = true
	url := fmt.Sprintf("%s/ws/chat/%s", c.serverURL, c.ticketID)
	dial := c.dial
	c.mu.Unlock()

	conn, err := dial(ctx, url)

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	c.conn = conn
	c.attempts = 0
	c.mu.Unlock()

	c.notifyConnection(true)
	c.Send(map[string]string{"type": "join_ticket"})
	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) handleDrop(conn Conn) {
	c.mu.Lock()
	if c.conn != conn {
		// a newer connection replaced this one
		c.mu.Unlock()
		return
	}
	c.conn = nil
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	c.notifyConnection(false)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.attempts >= c.maxAttempts {
		return
	}
	c.attempts++
	c.timer = time.AfterFunc(c.reconnectDelay(c.attempts), c.retry)
}

// reconnectDelay is min(base * 2^attempt, cap) for the attempt about
// to run (attempt counts from 1).
func (c *Client) reconnectDelay(attempt int) time.Duration {
	d := c.backoffBase << uint(attempt)
	if d > c.backoffCap {
		d = c.backoffCap
	}
	return d
}

func (c *Client) retry() {
	c.mu.Lock()
	c.timer = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.establish(context.Background()); err != nil {
		c.notifyConnection(false)
		c.scheduleReconnect()
	}
}

// Disconnect stops the agent: cancels any pending reconnect, closes the
// live connection and notifies subscribers once. The only way to stop
// retries before the ceiling.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	c.notifyConnection(false)
}

// Send serializes v and transmits it if currently connected. Best
// effort: returns false instead of erroring, never queues.
func (c *Client) Send(v interface{}) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// Connected reports whether a live connection is up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// OnMessage subscribes a handler to one frame type and returns its
// removal token. Handlers run in subscription order on the read
// goroutine.
func (c *Client) OnMessage(frameType string, h MessageHandler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSubID++
	c.handlers[frameType] = append(c.handlers[frameType], subscription{id: c.nextSubID, fn: h})
	return c.nextSubID
}

// OffMessage removes the subscription the token came from; other
// handlers on the same frame type are untouched.
func (c *Client) OffMessage(frameType string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.handlers[frameType][:0]
	for _, sub := range c.handlers[frameType] {
		if sub.id != id {
			kept = append(kept, sub)
		}
	}
	c.handlers[frameType] = kept
}

// OnConnection subscribes to connect/disconnect notifications.
func (c *Client) OnConnection(h ConnectionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connHandlers = append(c.connHandlers, h)
}

func (c *Client) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	c.mu.Lock()
	subs := append([]subscription(nil), c.handlers[env.Type]...)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.fn(data)
	}
}

func (c *Client) notifyConnection(connected bool) {
	c.mu.Lock()
	hs := append([]ConnectionHandler(nil), c.connHandlers...)
	c.mu.Unlock()
	for _, h := range hs {
		h(connected)
	}
}
