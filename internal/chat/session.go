package chat

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/pharmaplus/support-chat/internal/store"
)

// HistoryReplayLimit caps the history window replayed on connect.
const HistoryReplayLimit = 50

// MessageStore is what the session layer needs from persistence.
type MessageStore interface {
	Append(ticketID, sentBy, senderName, senderRole, body string) (*store.ChatMessage, error)
	RecentHistory(ticketID string, limit int) ([]store.ChatMessage, error)
}

// Hub owns the per-connection session logic: register, replay, frame
// dispatch, teardown. The registry and store are injected; there is no
// package-level state.
type Hub struct {
	registry *Registry
	store    MessageStore
	router   *Router
}

func NewHub(registry *Registry, st MessageStore) *Hub {
	return &Hub{
		registry: registry,
		store:    st,
		router:   NewRouter(registry),
	}
}

// Router exposes the broadcast path so REST-origin messages reach live
// sockets too.
func (h *Hub) Router() *Router {
	return h.router
}

// Serve runs one connection's session until the transport closes. The
// caller's goroutine becomes the read pump; the write pump runs beside
// it. The room is fixed by the ticket in the URL path.
func (h *Hub) Serve(conn ConnLike, ticketID string) {
	c := NewClient(conn)
	go c.WritePump()

	h.registry.Register(c)
	defer func() {
		h.registry.Unregister(c)
		c.CloseOnce()
	}()

	h.replayHistory(c, ticketID)
	h.joinAndAck(c, ticketID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleFrame(c, ticketID, data)
	}
}

func (h *Hub) handleFrame(c *Client, ticketID string, data []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.sendError(c, "invalid frame: expected JSON")
		return
	}

	switch frame.Type {
	case FrameChatMessage:
		msg, err := h.store.Append(ticketID, frame.SendBy, frame.SenderName, frame.SenderRole, frame.Message)
		if err != nil {
			if errors.Is(err, store.ErrValidation) {
				h.sendError(c, err.Error())
			} else {
				log.Printf("chat: persist failed for ticket %s (conn %s): %v", ticketID, c.ID, err)
				h.sendError(c, "failed to store message")
			}
			return
		}
		// persist-before-broadcast: Append has returned, so any client
		// replaying history from here on will see the message.
		h.router.Publish(msg)

	case FrameJoinTicket:
		h.joinAndAck(c, ticketID)

	default:
		// unknown frame types are ignored
	}
}

func (h *Hub) joinAndAck(c *Client, ticketID string) {
	h.registry.Join(c, ticketID)
	data, err := json.Marshal(JoinedFrame{Type: FrameJoinedTicket, TicketID: ticketID})
	if err != nil {
		return
	}
	c.TrySend(data)
}

func (h *Hub) replayHistory(c *Client, ticketID string) {
	messages, err := h.store.RecentHistory(ticketID, HistoryReplayLimit)
	if err != nil {
		log.Printf("chat: history load failed for ticket %s (conn %s): %v", ticketID, c.ID, err)
		messages = nil
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	data, err := json.Marshal(HistoryFrame{Type: FrameChatHistory, Messages: messages})
	if err != nil {
		return
	}
	c.TrySend(data)
}

func (h *Hub) sendError(c *Client, reason string) {
	data, err := json.Marshal(ErrorFrame{Type: FrameError, Message: reason})
	if err != nil {
		return
	}
	c.TrySend(data)
}
