package chat

import "github.com/pharmaplus/support-chat/internal/store"

// Frame types exchanged over the per-ticket chat channel. Unknown
// inbound types are ignored for forward compatibility.
const (
	FrameChatMessage  = "chat_message"
	FrameJoinTicket   = "join_ticket"
	FrameChatHistory  = "chat_history"
	FrameJoinedTicket = "joined_ticket"
	FrameNewMessage   = "new_message"
	FrameError        = "error"
)

// InboundFrame is the union of fields a client may send. Which fields
// matter depends on Type.
type InboundFrame struct {
	Type       string `json:"type"`
	SendBy     string `json:"sendBy,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	SenderRole string `json:"senderRole,omitempty"`
	Message    string `json:"message,omitempty"`
}

type HistoryFrame struct {
	Type     string              `json:"type"`
	Messages []store.ChatMessage `json:"messages"`
}

// JoinedFrame keeps the ticketID key spelling of the channel protocol;
// persisted messages use ticketId like the rest of the REST payloads.
type JoinedFrame struct {
	Type     string `json:"type"`
	TicketID string `json:"ticketID"`
}

type NewMessageFrame struct {
	Type    string             `json:"type"`
	Message *store.ChatMessage `json:"message"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
