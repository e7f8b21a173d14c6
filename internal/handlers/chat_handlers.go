package handlers

import (
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pharmaplus/support-chat/internal/chat"
	"github.com/pharmaplus/support-chat/internal/store"
)

// HistoryFetchLimit caps REST history responses.
const HistoryFetchLimit = 100

// ChatHandler carries the chat endpoints' dependencies; no globals.
type ChatHandler struct {
	Store store.MessageStore
	Hub   *chat.Hub
}

// ChatSocket GET /ws/chat/:ticketId
func (h *ChatHandler) ChatSocket(c *websocket.Conn) {
	ticketID := c.Params("ticketId")
	if ticketID == "" {
		_ = c.Close()
		return
	}
	h.Hub.Serve(c, ticketID)
}

// History GET /api/chats/:ticketId?limit=
func (h *ChatHandler) History(c *fiber.Ctx) error {
	ticketID := c.Params("ticketId")
	limit := c.QueryInt("limit", HistoryFetchLimit)
	if limit <= 0 || limit > HistoryFetchLimit {
		limit = HistoryFetchLimit
	}
	messages, err := h.Store.RecentHistory(ticketID, limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load chat history"})
	}
	if messages == nil {
		messages = []store.ChatMessage{}
	}
	return c.JSON(messages)
}

type sendRequest struct {
	TicketID   string `json:"ticketId"`
	SendBy     string `json:"sendBy"`
	SenderName string `json:"senderName"`
	SenderRole string `json:"senderRole"`
	Message    string `json:"message"`
}

// Send POST /api/chats/send
//
// Out-of-band message creation. Unlike a plain insert it also publishes
// to live sockets, so REST-origin messages show up in open chat views.
func (h *ChatHandler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	msg, err := h.Store.Append(req.TicketID, req.SendBy, req.SenderName, req.SenderRole, req.Message)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to store message"})
	}
	h.Hub.Router().Publish(msg)
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// MarkRead PATCH /api/chats/:ticketId/read
func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	ticketID := c.Params("ticketId")
	updated, err := h.Store.MarkRead(ticketID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to mark messages read"})
	}
	return c.JSON(fiber.Map{"ticketId": ticketID, "updated": updated})
}

// UnreadCount GET /api/chats/:ticketId/unread
func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	ticketID := c.Params("ticketId")
	count, err := h.Store.CountUnread(ticketID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to count unread messages"})
	}
	return c.JSON(fiber.Map{"ticketId": ticketID, "unread": count})
}

// ConsolePage GET /chat/:ticketId
func (h *ChatHandler) ConsolePage(c *fiber.Ctx) error {
	return c.Render("chat", fiber.Map{"TicketID": c.Params("ticketId")})
}
