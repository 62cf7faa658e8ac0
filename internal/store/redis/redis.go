// Package redis stores messages as JSON strings indexed by sorted sets
// scored on creation time.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

const (
	// Redis key prefixes
	messagePrefix      = "chat:msg:"         // chat:msg:{messageId} - message JSON
	conversationPrefix = "chat:conv:"        // chat:conv:{conversationId} - zset of message IDs
	userPrefix         = "chat:user:"        // chat:user:{userId} - zset of message IDs sent or received
	participantPrefix  = "chat:participant:" // chat:participant:{userId} - participant JSON
	participantsKey    = "chat:participants" // set of participant IDs

	// optimistic MarkRead attempts before giving up
	maxTxRetries = 5
)

var log = logger.New("redis")

type Store struct {
	rdb *redis.Client
}

var _ store.Store = (*Store)(nil)

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Dial connects and pings the server
func Dial(ctx context.Context, opts *redis.Options) (*Store, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return New(rdb), nil
}

// Client exposes the underlying connection for pub/sub
func (s *Store) Client() *redis.Client {
	return s.rdb
}

func (s *Store) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.Message, error) {
	if err := store.ValidateNewMessage(senderID, receiverID, content); err != nil {
		return nil, err
	}

	n, err := s.rdb.Exists(ctx, participantPrefix+senderID.String(), participantPrefix+receiverID.String()).Result()
	if err != nil {
		return nil, classify(err)
	}
	want := int64(2)
	if senderID == receiverID {
		want = 1
	}
	if n != want {
		return nil, fmt.Errorf("sender or receiver: %w", store.ErrNotFound)
	}

	msg := &models.Message{
		ID:             uuid.New(),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		ConversationID: conversation.ForPair(senderID, receiverID),
		CreatedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	member := redis.Z{Score: score(msg.CreatedAt), Member: msg.ID.String()}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, messagePrefix+msg.ID.String(), data, 0)
		pipe.ZAdd(ctx, conversationPrefix+msg.ConversationID, member)
		pipe.ZAdd(ctx, userPrefix+senderID.String(), member)
		if receiverID != senderID {
			pipe.ZAdd(ctx, userPrefix+receiverID.String(), member)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", classify(err))
	}

	return msg, nil
}

func (s *Store) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	limit = store.ClampLimit(limit, store.DefaultConversationLimit)
	return s.listIndex(ctx, conversationPrefix+conversationID, limit)
}

func (s *Store) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	limit = store.ClampLimit(limit, store.DefaultParticipantLimit)
	return s.listIndex(ctx, userPrefix+userID.String(), limit)
}

func (s *Store) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	data, err := s.rdb.Get(ctx, messagePrefix+messageID.String()).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeMessage(data)
}

// MarkRead uses WATCH so a concurrent writer cannot lose the read flag
func (s *Store) MarkRead(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	key := messagePrefix + messageID.String()
	var result *models.Message

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
		}
		if err != nil {
			return err
		}
		msg, err := decodeMessage(data)
		if err != nil {
			return err
		}
		if msg.IsRead {
			result = msg
			return nil
		}

		now := time.Now().UTC()
		msg.IsRead = true
		msg.UpdatedAt = &now
		updated, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SetArgs(ctx, key, updated, redis.SetArgs{KeepTTL: true})
			return nil
		})
		if err == nil {
			result = msg
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.Debug("MarkRead %s lost a race, retrying", messageID)
			continue
		}
		return nil, classify(err)
	}
	return nil, fmt.Errorf("%w: mark read on %s kept conflicting", store.ErrUnavailable, messageID)
}

func (s *Store) ListParticipants(ctx context.Context) ([]*models.Participant, error) {
	ids, err := s.rdb.SMembers(ctx, participantsKey).Result()
	if err != nil {
		return nil, classify(err)
	}
	participants := []*models.Participant{}
	if len(ids) == 0 {
		return participants, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantPrefix + id
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, classify(err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			log.Warn("Participant %s listed but missing", ids[i])
			continue
		}
		p, err := decodeParticipant([]byte(raw))
		if err != nil {
			log.Warn("Skipping malformed participant %s: %v", ids[i], err)
			continue
		}
		participants = append(participants, p)
	}

	sort.Slice(participants, func(i, j int) bool {
		if participants[i].DisplayName != participants[j].DisplayName {
			return participants[i].DisplayName < participants[j].DisplayName
		}
		return participants[i].ID.String() < participants[j].ID.String()
	})
	return participants, nil
}

func (s *Store) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	data, err := s.rdb.Get(ctx, participantPrefix+id.String()).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("participant %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return decodeParticipant(data)
}

func (s *Store) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	if err := store.ValidateParticipant(p); err != nil {
		return err
	}

	c := *p
	existing, err := s.GetParticipant(ctx, p.ID)
	switch {
	case err == nil:
		c.CreatedAt = existing.CreatedAt
	case errors.Is(err, store.ErrNotFound):
		if c.CreatedAt.IsZero() {
			c.CreatedAt = time.Now().UTC()
		}
	default:
		return err
	}

	data, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, participantPrefix+p.ID.String(), data, 0)
		pipe.SAdd(ctx, participantsKey, p.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store participant: %w", classify(err))
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

// listIndex resolves the newest limit members of a sorted-set index
func (s *Store) listIndex(ctx context.Context, indexKey string, limit int) ([]*models.Message, error) {
	ids, err := s.rdb.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", classify(err))
	}
	messages := []*models.Message{}
	if len(ids) == 0 {
		return messages, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = messagePrefix + id
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", classify(err))
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			log.Warn("Message %s indexed under %s but missing", ids[i], indexKey)
			continue
		}
		msg, err := decodeMessage([]byte(raw))
		if err != nil {
			log.Warn("Skipping malformed message %s: %v", ids[i], err)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func decodeMessage(data []byte) (*models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if err := store.ValidateMessage(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func decodeParticipant(data []byte) (*models.Participant, error) {
	var p models.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	if err := store.ValidateParticipant(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if err == redis.Nil {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
