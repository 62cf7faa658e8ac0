// Package store defines the message collection and roster contracts shared
// by every backend, and the error taxonomy callers match against.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/models"
)

var (
	// ErrUnavailable means the backing store could not be reached or timed out.
	// Reads are safe to retry.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotFound means the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation means a request or a stored record was malformed. Nothing
	// was written.
	ErrValidation = errors.New("validation failed")
)

// Default page sizes
const (
	DefaultConversationLimit = 100
	DefaultParticipantLimit  = 500
	MaxLimit                 = 1000
	MaxContentLength         = 4096
)

// MessageStore is the message collection
type MessageStore interface {
	CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.Message, error)
	// ListByConversation returns up to limit messages, newest first.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error)
	// ListByParticipant returns up to limit messages sent or received by userID
	// in no particular order.
	ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error)
	GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
	// MarkRead sets IsRead. Marking an already read message succeeds.
	MarkRead(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
}

// Roster is the participant directory
type Roster interface {
	ListParticipants(ctx context.Context) ([]*models.Participant, error)
	GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error)
	UpsertParticipant(ctx context.Context, p *models.Participant) error
}

// Store is a full backend
type Store interface {
	MessageStore
	Roster
	Close() error
}

// ValidateNewMessage checks a message before it is written
func ValidateNewMessage(senderID, receiverID uuid.UUID, content string) error {
	if senderID == uuid.Nil {
		return fmt.Errorf("%w: sender is required", ErrValidation)
	}
	if receiverID == uuid.Nil {
		return fmt.Errorf("%w: receiver is required", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is empty", ErrValidation)
	}
	if len(content) > MaxContentLength {
		return fmt.Errorf("%w: content exceeds %d bytes", ErrValidation, MaxContentLength)
	}
	return nil
}

// ValidateMessage checks a record read back from a store or the wire
func ValidateMessage(m *models.Message) error {
	switch {
	case m == nil:
		return fmt.Errorf("%w: nil message", ErrValidation)
	case m.ID == uuid.Nil:
		return fmt.Errorf("%w: message id is missing", ErrValidation)
	case m.SenderID == uuid.Nil || m.ReceiverID == uuid.Nil:
		return fmt.Errorf("%w: message %s has no sender or receiver", ErrValidation, m.ID)
	case m.CreatedAt.IsZero():
		return fmt.Errorf("%w: message %s has no created_at", ErrValidation, m.ID)
	}
	if want := conversation.ForPair(m.SenderID, m.ReceiverID); m.ConversationID != want {
		return fmt.Errorf("%w: message %s has conversation_id %q, want %q", ErrValidation, m.ID, m.ConversationID, want)
	}
	return nil
}

// ValidateParticipant checks a roster record
func ValidateParticipant(p *models.Participant) error {
	if p == nil {
		return fmt.Errorf("%w: nil participant", ErrValidation)
	}
	if p.ID == uuid.Nil {
		return fmt.Errorf("%w: participant id is missing", ErrValidation)
	}
	return nil
}

// ClampLimit applies the default when limit is not positive and caps it at MaxLimit
func ClampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
