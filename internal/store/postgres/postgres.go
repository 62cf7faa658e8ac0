package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq" // PostgreSQL driver

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

//go:embed schema.sql
var schema string

var log = logger.New("postgres")

const messageColumns = "id, sender_id, receiver_id, content, conversation_id, created_at, is_read, updated_at"

type DB struct {
	*sql.DB
}

var _ store.Store = (*DB)(nil)

func New(ctx context.Context, connStr string) (*DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return &DB{db}, nil
}

// Migrate creates the tables and indexes if they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", classify(err))
	}
	log.Info("Schema is up to date")
	return nil
}

func (db *DB) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.Message, error) {
	if err := store.ValidateNewMessage(senderID, receiverID, content); err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:             uuid.New(),
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		ConversationID: conversation.ForPair(senderID, receiverID),
		CreatedAt:      time.Now().UTC().Truncate(time.Microsecond),
		IsRead:         false,
	}

	_, err := db.ExecContext(ctx,
		"INSERT INTO messages (id, sender_id, receiver_id, content, conversation_id, created_at, is_read) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		message.ID, message.SenderID, message.ReceiverID, message.Content, message.ConversationID, message.CreatedAt, message.IsRead,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", classify(err))
	}

	return message, nil
}

func (db *DB) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	limit = store.ClampLimit(limit, store.DefaultConversationLimit)
	return db.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		conversationID, limit,
	)
}

func (db *DB) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	limit = store.ClampLimit(limit, store.DefaultParticipantLimit)
	return db.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE sender_id = $1 OR receiver_id = $1 ORDER BY created_at DESC LIMIT $2",
		userID, limit,
	)
}

func (db *DB) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	row := db.QueryRowContext(ctx, "SELECT "+messageColumns+" FROM messages WHERE id = $1", messageID)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}

// MarkRead only stamps updated_at on the first transition
func (db *DB) MarkRead(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	now := time.Now().UTC()
	row := db.QueryRowContext(ctx,
		`UPDATE messages
		SET is_read = true, updated_at = CASE WHEN is_read THEN updated_at ELSE $1 END
		WHERE id = $2
		RETURNING `+messageColumns,
		now, messageID,
	)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", messageID, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return msg, nil
}

func (db *DB) ListParticipants(ctx context.Context) ([]*models.Participant, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, display_name, email, avatar_url, created_at
		FROM participants
		ORDER BY display_name, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", classify(err))
	}
	defer rows.Close()

	var participants []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant row: %w", err)
		}
		participants = append(participants, p)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating participant rows: %w", classify(err))
	}

	return participants, nil
}

func (db *DB) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	row := db.QueryRowContext(ctx,
		"SELECT id, display_name, email, avatar_url, created_at FROM participants WHERE id = $1", id)
	p, err := scanParticipant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("participant %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return p, nil
}

func (db *DB) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	if err := store.ValidateParticipant(p); err != nil {
		return err
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO participants (id, display_name, email, avatar_url, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name, email = EXCLUDED.email, avatar_url = EXCLUDED.avatar_url`,
		p.ID, p.DisplayName, p.Email, p.AvatarURL, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert participant: %w", classify(err))
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*models.Message, error) {
	var msg models.Message
	var updatedAt sql.NullTime

	err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content,
		&msg.ConversationID, &msg.CreatedAt, &msg.IsRead, &updatedAt)
	if err != nil {
		return nil, err
	}

	if updatedAt.Valid {
		msg.UpdatedAt = &updatedAt.Time
	}
	if err := store.ValidateMessage(&msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

func scanParticipant(row scanner) (*models.Participant, error) {
	var p models.Participant
	var avatarURL sql.NullString

	if err := row.Scan(&p.ID, &p.DisplayName, &p.Email, &avatarURL, &p.CreatedAt); err != nil {
		return nil, err
	}
	if avatarURL.Valid {
		p.AvatarURL = avatarURL.String
	}
	return &p, nil
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", classify(err))
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			if errors.Is(err, store.ErrValidation) {
				log.Warn("Skipping malformed message row: %v", err)
				continue
			}
			return nil, fmt.Errorf("failed to scan message row: %w", classify(err))
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", classify(err))
	}

	return messages, nil
}

// classify maps driver errors onto the store error taxonomy
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrUnavailable) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s", store.ErrNotFound, pqErr.Message)
		case pqErr.Code.Class() == "23", pqErr.Code.Class() == "22":
			return fmt.Errorf("%w: %s", store.ErrValidation, pqErr.Message)
		}
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	// connection loss, timeouts and cancellation all surface as transport failures
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
