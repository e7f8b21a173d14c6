package chat

import (
	"encoding/json"

	"github.com/pharmaplus/support-chat/internal/store"
)

// Router fans a persisted message out to every connection joined to its
// ticket. Delivery is fire-and-forget per recipient: one slow or dead
// socket never blocks the rest, and the message is already durable in
// the store regardless (offline readers get it on the next replay).
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

func (r *Router) Publish(msg *store.ChatMessage) {
	data, err := json.Marshal(NewMessageFrame{Type: FrameNewMessage, Message: msg})
	if err != nil {
		return
	}
	r.registry.ForEachInTicket(msg.TicketID, func(c *Client) {
		c.TrySend(data)
	})
}
