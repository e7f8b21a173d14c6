package chat

import "sync"

// Registry is the single source of truth for which open connections are
// listening on which ticket. The ticket tag lives here, not on the
// connection itself, so the transport wrapper stays swappable.
//
// Mutation happens only from session handlers (register/join/unregister);
// the broadcast router only iterates.
type Registry struct {
	mu     sync.RWMutex
	order  []*Client
	ticket map[string]string // connection ID -> joined ticket ("" until joined)
}

func NewRegistry() *Registry {
	return &Registry{ticket: make(map[string]string)}
}

// Register adds a connection with no ticket tag. Registering the same
// connection twice is a no-op.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ticket[c.ID]; ok {
		return
	}
	r.ticket[c.ID] = ""
	r.order = append(r.order, c)
}

// Join tags a registered connection with a ticket. Rejoining the same
// ticket is a no-op; joining a different ticket overwrites the tag (one
// active room per connection). Unregistered connections are ignored.
func (r *Registry) Join(c *Client, ticketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ticket[c.ID]; !ok {
		return
	}
	r.ticket[c.ID] = ticketID
}

// Unregister removes a connection. Safe to call more than once.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ticket[c.ID]; !ok {
		return
	}
	delete(r.ticket, c.ID)
	for i, rc := range r.order {
		if rc.ID == c.ID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// TicketOf reports the ticket a connection is joined to.
func (r *Registry) TicketOf(c *Client) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.ticket[c.ID]
	return t, ok
}

// ForEachInTicket calls fn once per open connection joined to ticketID,
// in registration order. Iteration runs over a snapshot: connections
// that close concurrently are skipped, best effort.
func (r *Registry) ForEachInTicket(ticketID string, fn func(*Client)) {
	r.mu.RLock()
	snapshot := make([]*Client, 0, len(r.order))
	for _, c := range r.order {
		if r.ticket[c.ID] == ticketID {
			snapshot = append(snapshot, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range snapshot {
		if c.Closed() {
			continue
		}
		fn(c)
	}
}
