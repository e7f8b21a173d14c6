package store

import "time"

const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
)

// ChatMessage is one persisted chat line within a support ticket.
// Rows are write-once: only ReadStatus handling flips IsRead, the rest
// never changes after Create.
type ChatMessage struct {
	ID         uint      `json:"id" gorm:"primarykey"`
	TicketID   string    `json:"ticketId" gorm:"type:varchar(64);index"`
	SentBy     string    `json:"sentBy" gorm:"type:varchar(64)"`
	SenderName string    `json:"senderName" gorm:"type:varchar(64)"`
	SenderRole string    `json:"senderRole" gorm:"type:varchar(16)"`
	Body       string    `json:"body" gorm:"type:text"`
	SentAt     time.Time `json:"sentAt"`
	IsRead     bool      `json:"isRead" gorm:"default:false"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}
