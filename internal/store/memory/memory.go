// Package memory is an in-process store used for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

type record struct {
	msg *models.Message
	seq int64
}

// Store keeps messages and participants in maps guarded by a mutex. Returned
// values are copies.
type Store struct {
	mu           sync.RWMutex
	messages     map[uuid.UUID]*record
	participants map[uuid.UUID]*models.Participant
	seq          int64
	last         time.Time
	now          func() time.Time
}

var _ store.Store = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		messages:     make(map[uuid.UUID]*record),
		participants: make(map[uuid.UUID]*models.Participant),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.Message, error) {
	if err := store.ValidateNewMessage(senderID, receiverID, content); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.participants[senderID]; !ok {
		return nil, fmt.Errorf("sender %s: %w", senderID, store.ErrNotFound)
	}
	if _, ok := s.participants[receiverID]; !ok {
		return nil, fmt.Errorf("receiver %s: %w", receiverID, store.ErrNotFound)
	}

	// timestamps are strictly increasing so a single writer's sends keep their order
	createdAt := s.now()
	if !createdAt.After(s.last) {
		createdAt = s.last.Add(time.Microsecond)
	}
	s.last = createdAt
	s.seq++

	msg := &models.Message{
		ID:             uuid.New(),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		ConversationID: conversation.ForPair(senderID, receiverID),
		CreatedAt:      createdAt,
	}
	s.messages[msg.ID] = &record{msg: msg, seq: s.seq}
	return msg.Clone(), nil
}

func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	limit = store.ClampLimit(limit, store.DefaultConversationLimit)

	s.mu.RLock()
	var recs []*record
	for _, r := range s.messages {
		if r.msg.ConversationID == conversationID {
			recs = append(recs, &record{msg: r.msg.Clone(), seq: r.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i].msg.CreatedAt, recs[j].msg.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return recs[i].seq > recs[j].seq
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return messages(recs), nil
}

func (s *Store) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	limit = store.ClampLimit(limit, store.DefaultParticipantLimit)

	s.mu.RLock()
	var recs []*record
	for _, r := range s.messages {
		if r.msg.Involves(userID) {
			recs = append(recs, &record{msg: r.msg.Clone(), seq: r.seq})
		}
	}
	s.mu.RUnlock()

	// keep the newest when truncating
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq > recs[j].seq })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return messages(recs), nil
}

func (s *Store) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	return r.msg.Clone(), nil
}

func (s *Store) MarkRead(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	if !r.msg.IsRead {
		now := s.now()
		r.msg.IsRead = true
		r.msg.UpdatedAt = &now
	}
	return r.msg.Clone(), nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]*models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DisplayName != out[j].DisplayName {
			return out[i].DisplayName < out[j].DisplayName
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *Store) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, fmt.Errorf("participant %s: %w", id, store.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	if err := store.ValidateParticipant(p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *p
	if existing, ok := s.participants[p.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.participants[p.ID] = &c
	return nil
}

func (s *Store) Close() error {
	return nil
}

func messages(recs []*record) []*models.Message {
	out := make([]*models.Message, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.msg)
	}
	return out
}
