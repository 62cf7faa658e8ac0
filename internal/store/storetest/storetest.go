// Package storetest is a behavioural suite every store.Store implementation
// runs from its own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

// Factory returns an empty store. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// Run exercises the store contract
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateMessage", func(t *testing.T) { testCreateMessage(t, newStore(t)) })
	t.Run("ListByConversation", func(t *testing.T) { testListByConversation(t, newStore(t)) })
	t.Run("ListByParticipant", func(t *testing.T) { testListByParticipant(t, newStore(t)) })
	t.Run("MarkRead", func(t *testing.T) { testMarkRead(t, newStore(t)) })
	t.Run("Roster", func(t *testing.T) { testRoster(t, newStore(t)) })
}

// Seed creates participants with the given display names
func Seed(t *testing.T, s store.Roster, names ...string) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(names))
	for _, name := range names {
		p := &models.Participant{
			ID:          uuid.New(),
			DisplayName: name,
			Email:       name + "@example.com",
		}
		require.NoError(t, s.UpsertParticipant(context.Background(), p))
		ids = append(ids, p.ID)
	}
	return ids
}

func testCreateMessage(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := Seed(t, s, "alice", "bob")
	alice, bob := ids[0], ids[1]

	tests := []struct {
		name     string
		sender   uuid.UUID
		receiver uuid.UUID
		content  string
		wantErr  error
	}{
		{name: "valid message", sender: alice, receiver: bob, content: "Hello!"},
		{name: "empty content", sender: alice, receiver: bob, content: "", wantErr: store.ErrValidation},
		{name: "blank content", sender: alice, receiver: bob, content: "  \n\t", wantErr: store.ErrValidation},
		{name: "missing receiver", sender: alice, receiver: uuid.Nil, content: "hi", wantErr: store.ErrValidation},
		{name: "unknown receiver", sender: alice, receiver: uuid.New(), content: "hi", wantErr: store.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := s.CreateMessage(ctx, tt.sender, tt.receiver, tt.content)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, msg)
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, msg.ID)
			assert.Equal(t, tt.sender, msg.SenderID)
			assert.Equal(t, tt.receiver, msg.ReceiverID)
			assert.Equal(t, tt.content, msg.Content)
			assert.Equal(t, conversation.ForPair(tt.sender, tt.receiver), msg.ConversationID)
			assert.False(t, msg.IsRead)
			assert.False(t, msg.CreatedAt.IsZero())
			assert.NoError(t, store.ValidateMessage(msg))

			got, err := s.GetMessage(ctx, msg.ID)
			require.NoError(t, err)
			assert.Equal(t, msg.ID, got.ID)
			assert.Equal(t, msg.Content, got.Content)
		})
	}

	_, err := s.GetMessage(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListByConversation(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := Seed(t, s, "alice", "bob", "carol")
	alice, bob, carol := ids[0], ids[1], ids[2]

	var sent []*models.Message
	for i, pair := range [][2]uuid.UUID{{alice, bob}, {bob, alice}, {alice, carol}, {alice, bob}} {
		msg, err := s.CreateMessage(ctx, pair[0], pair[1], "message "+string(rune('a'+i)))
		require.NoError(t, err)
		sent = append(sent, msg)
		time.Sleep(2 * time.Millisecond)
	}

	key := conversation.ForPair(bob, alice)
	msgs, err := s.ListByConversation(ctx, key, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, sent[3].ID, msgs[0].ID, "newest first")
	assert.Equal(t, sent[1].ID, msgs[1].ID)
	assert.Equal(t, sent[0].ID, msgs[2].ID)
	for _, m := range msgs {
		assert.Equal(t, key, m.ConversationID)
	}

	limited, err := s.ListByConversation(ctx, key, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, sent[3].ID, limited[0].ID)

	empty, err := s.ListByConversation(ctx, conversation.ForPair(bob, carol), 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testListByParticipant(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := Seed(t, s, "alice", "bob", "carol")
	alice, bob, carol := ids[0], ids[1], ids[2]

	for _, pair := range [][2]uuid.UUID{{alice, bob}, {carol, alice}, {bob, carol}} {
		_, err := s.CreateMessage(ctx, pair[0], pair[1], "hi")
		require.NoError(t, err)
	}

	msgs, err := s.ListByParticipant(ctx, alice, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
	for _, m := range msgs {
		assert.True(t, m.Involves(alice))
	}

	none, err := s.ListByParticipant(ctx, uuid.New(), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testMarkRead(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := Seed(t, s, "alice", "bob")

	msg, err := s.CreateMessage(ctx, ids[0], ids[1], "read me")
	require.NoError(t, err)

	first, err := s.MarkRead(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, first.IsRead)
	assert.Equal(t, msg.Content, first.Content)

	second, err := s.MarkRead(ctx, msg.ID)
	require.NoError(t, err, "marking twice is not an error")
	assert.True(t, second.IsRead)

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRead)

	_, err = s.MarkRead(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRoster(t *testing.T, s store.Store) {
	ctx := context.Background()
	ids := Seed(t, s, "bob", "alice")

	all, err := s.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alice", all[0].DisplayName)
	assert.Equal(t, "bob", all[1].DisplayName)

	p, err := s.GetParticipant(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", p.Email)

	p.DisplayName = "robert"
	require.NoError(t, s.UpsertParticipant(ctx, p))
	p, err = s.GetParticipant(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "robert", p.DisplayName)

	_, err = s.GetParticipant(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.UpsertParticipant(ctx, &models.Participant{}), store.ErrValidation)
}
