package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrValidation marks rejected input: the message was never persisted
// and the caller may surface the reason to the sender.
var ErrValidation = errors.New("validation failed")

// MessageStore is the persistence surface for ticket chat messages.
type MessageStore interface {
	Append(ticketID, sentBy, senderName, senderRole, body string) (*ChatMessage, error)
	RecentHistory(ticketID string, limit int) ([]ChatMessage, error)
	MarkRead(ticketID string) (int64, error)
	CountUnread(ticketID string) (int64, error)
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append validates and persists one chat message with a server-assigned
// timestamp. Message bodies are write-once; there is no update path.
func (s *GormStore) Append(ticketID, sentBy, senderName, senderRole, body string) (*ChatMessage, error) {
	if err := validateMessage(ticketID, sentBy, senderName, senderRole, body); err != nil {
		return nil, err
	}
	msg := &ChatMessage{
		TicketID:   ticketID,
		SentBy:     sentBy,
		SenderName: senderName,
		SenderRole: senderRole,
		Body:       body,
		SentAt:     time.Now(),
		IsRead:     false,
	}
	if err := s.db.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("append chat message: %w", err)
	}
	return msg, nil
}

// RecentHistory returns the most recent limit messages for a ticket,
// oldest first. Ties on sent_at fall back to insertion order.
func (s *GormStore) RecentHistory(ticketID string, limit int) ([]ChatMessage, error) {
	var messages []ChatMessage
	err := s.db.
		Where("ticket_id = ?", ticketID).
		Order("sent_at DESC").Order("id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}
	// flip the window back to ascending order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead flips every unread message of the ticket to read. Idempotent;
// returns the number of rows changed.
func (s *GormStore) MarkRead(ticketID string) (int64, error) {
	tx := s.db.Model(&ChatMessage{}).
		Where("ticket_id = ? AND is_read = ?", ticketID, false).
		Update("is_read", true)
	if tx.Error != nil {
		return 0, fmt.Errorf("mark messages read: %w", tx.Error)
	}
	return tx.RowsAffected, nil
}

func (s *GormStore) CountUnread(ticketID string) (int64, error) {
	var n int64
	err := s.db.Model(&ChatMessage{}).
		Where("ticket_id = ? AND is_read = ?", ticketID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count unread messages: %w", err)
	}
	return n, nil
}

func validateMessage(ticketID, sentBy, senderName, senderRole, body string) error {
	switch {
	case ticketID == "":
		return fmt.Errorf("%w: ticketId is required", ErrValidation)
	case sentBy == "":
		return fmt.Errorf("%w: sendBy is required", ErrValidation)
	case senderName == "":
		return fmt.Errorf("%w: senderName is required", ErrValidation)
	case senderRole == "":
		return fmt.Errorf("%w: senderRole is required", ErrValidation)
	case senderRole != RoleCustomer && senderRole != RoleAgent:
		return fmt.Errorf("%w: senderRole must be %q or %q", ErrValidation, RoleCustomer, RoleAgent)
	case body == "":
		return fmt.Errorf("%w: message body is required", ErrValidation)
	}
	return nil
}
