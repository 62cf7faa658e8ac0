package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/store"
	"github.com/ammar1510/chatsync/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}

func TestCreateMessageTimestampsIncrease(t *testing.T) {
	s := New()
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return frozen })
	ids := storetest.Seed(t, s, "alice", "bob")

	ctx := context.Background()
	first, err := s.CreateMessage(ctx, ids[0], ids[1], "one")
	require.NoError(t, err)
	second, err := s.CreateMessage(ctx, ids[0], ids[1], "two")
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.After(first.CreatedAt))

	msgs, err := s.ListByConversation(ctx, conversation.ForPair(ids[0], ids[1]), 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Content)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ids := storetest.Seed(t, s, "alice", "bob")
	ctx := context.Background()

	msg, err := s.CreateMessage(ctx, ids[0], ids[1], "original")
	require.NoError(t, err)
	msg.Content = "tampered"
	msg.IsRead = true

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
	assert.False(t, got.IsRead)
}

func TestCanceledContext(t *testing.T) {
	s := New()
	ids := storetest.Seed(t, s, "alice", "bob")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.CreateMessage(ctx, ids[0], ids[1], "hi")
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = s.ListByParticipant(ctx, ids[0], 10)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}
