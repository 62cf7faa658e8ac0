package models

import (
	"time"

	"github.com/google/uuid"
)

// Message represents a chat message in the system. Content is immutable once
// stored; only IsRead changes, and only from false to true.
type Message struct {
	ID             uuid.UUID  `json:"id"`
	SenderID       uuid.UUID  `json:"sender_id"`
	ReceiverID     uuid.UUID  `json:"receiver_id"`
	Content        string     `json:"content"`
	ConversationID string     `json:"conversation_id"`
	CreatedAt      time.Time  `json:"created_at"`
	IsRead         bool       `json:"is_read"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Counterpart returns the other participant relative to self
func (m *Message) Counterpart(self uuid.UUID) uuid.UUID {
	if m.SenderID == self {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether userID is the sender or the receiver
func (m *Message) Involves(userID uuid.UUID) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// IsUnreadFor reports whether the message is an unread inbound message for userID
func (m *Message) IsUnreadFor(userID uuid.UUID) bool {
	return m.ReceiverID == userID && !m.IsRead
}

// Clone returns a deep copy of the message
func (m *Message) Clone() *Message {
	c := *m
	if m.UpdatedAt != nil {
		t := *m.UpdatedAt
		c.UpdatedAt = &t
	}
	return &c
}

// MessageRequest is the structure for message creation requests
type MessageRequest struct {
	ReceiverID uuid.UUID `json:"receiver_id" binding:"required"`
	Content    string    `json:"content" binding:"required,min=1"`
}

// ConversationSummary is the derived view of one counterpart's thread. It is
// never persisted.
type ConversationSummary struct {
	OtherUserID uuid.UUID `json:"other_user_id"`
	Latest      *Message  `json:"latest_message"`
	IsUnread    bool      `json:"is_unread"`
}
