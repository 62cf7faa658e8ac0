package models

import (
	"time"

	"github.com/google/uuid"
)

// Participant is a roster entry sourced from the identity provider
type Participant struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Event is pushed to connected clients when a message is created or read
type Event struct {
	Type      string    `json:"type"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event types
const (
	EventMessage = "message"
	EventRead    = "read"
	EventError   = "error"
)
