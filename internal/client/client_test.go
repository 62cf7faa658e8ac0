package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/chatsync/internal/api"
	"github.com/ammar1510/chatsync/internal/auth"
	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/session"
	"github.com/ammar1510/chatsync/internal/store"
	"github.com/ammar1510/chatsync/internal/store/memory"
	"github.com/ammar1510/chatsync/internal/store/storetest"
	"github.com/ammar1510/chatsync/internal/websocket"
)

type testServer struct {
	*httptest.Server
	store    *memory.Store
	hub      *websocket.Hub
	verifier *auth.Verifier
	alice    uuid.UUID
	bob      uuid.UUID
}

// newTestServer runs the real router over a memory store
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	ids := storetest.Seed(t, st, "alice", "bob")

	verifier, err := auth.NewVerifier([]byte("client-test"), "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	hub := websocket.NewHub(nil)
	go hub.Run(ctx)

	router := gin.New()
	group := router.Group("/api")
	group.Use(api.AuthMiddleware(verifier, st))
	api.NewMessageHandler(st, hub, 0).RegisterRoutes(group)
	api.NewUserHandler(st).RegisterRoutes(group)
	group.GET("/ws", hub.HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testServer{Server: srv, store: st, hub: hub, verifier: verifier, alice: ids[0], bob: ids[1]}
}

func (s *testServer) clientFor(t *testing.T, id uuid.UUID) *Client {
	t.Helper()
	p, err := s.store.GetParticipant(context.Background(), id)
	require.NoError(t, err)
	token, _, err := s.verifier.Issue(p, time.Hour)
	require.NoError(t, err)
	c, err := New(s.URL, token)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New("ftp://example.com", "")
	assert.Error(t, err)

	c, err := New("http://example.com/base/", "tok")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/base/api/messages?limit=5", c.endpoint("/api/messages", limitQuery(5)))
}

func TestMessageRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice := srv.clientFor(t, srv.alice)
	bob := srv.clientFor(t, srv.bob)

	sent, err := alice.CreateMessage(ctx, srv.alice, srv.bob, "hi bob")
	require.NoError(t, err)
	assert.Equal(t, conversation.ForPair(srv.alice, srv.bob), sent.ConversationID)
	assert.False(t, sent.IsRead)

	got, err := bob.GetMessage(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi bob", got.Content)

	msgs, err := bob.ListByConversation(ctx, sent.ConversationID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	byUser, err := bob.ListByParticipant(ctx, srv.bob, 0)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	summaries, err := bob.ListConversations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, srv.alice, summaries[0].OtherUserID)
	assert.True(t, summaries[0].IsUnread)

	// only the receiver may mark
	_, err = alice.MarkRead(ctx, sent.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	read, err := bob.MarkRead(ctx, sent.ID)
	require.NoError(t, err)
	assert.True(t, read.IsRead)

	again, err := bob.MarkRead(ctx, sent.ID)
	require.NoError(t, err)
	assert.True(t, again.IsRead)
}

func TestRoster(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.clientFor(t, srv.alice)

	others, err := alice.ListParticipants(context.Background())
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, srv.bob, others[0].ID)

	me, err := alice.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "alice", me.DisplayName)
}

func TestErrorMapping(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice := srv.clientFor(t, srv.alice)

	_, err := alice.CreateMessage(ctx, srv.alice, srv.bob, "   ")
	assert.ErrorIs(t, err, store.ErrValidation)

	_, err = alice.CreateMessage(ctx, srv.alice, uuid.New(), "to nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = alice.GetMessage(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = alice.ListByConversation(ctx, conversation.ForPair(uuid.New(), uuid.New()), 0)
	assert.ErrorIs(t, err, ErrForbidden)

	anon, err := New(srv.URL, "bogus")
	require.NoError(t, err)
	_, err = anon.ListParticipants(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)

	srv.Close()
	_, err = alice.ListParticipants(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"db down"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "t")
	require.NoError(t, err)
	_, err = c.ListByParticipant(context.Background(), uuid.New(), 0)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Contains(t, err.Error(), "db down")
}

func TestMalformedRecordsAreRejected(t *testing.T) {
	self := uuid.New()
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing id", `[{"sender_id":"` + self.String() + `","receiver_id":"` + uuid.NewString() + `","created_at":"2024-01-01T00:00:00Z"}]`},
		{"wrong conversation id", `[{"id":"` + uuid.NewString() + `","sender_id":"` + self.String() + `","receiver_id":"` + uuid.NewString() + `","conversation_id":"x_y","created_at":"2024-01-01T00:00:00Z"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := New(srv.URL, "t")
			require.NoError(t, err)
			_, err = c.ListByParticipant(context.Background(), self, 0)
			assert.ErrorIs(t, err, store.ErrValidation)
		})
	}
}

func TestSubscribe(t *testing.T) {
	srv := newTestServer(t)
	alice := srv.clientFor(t, srv.alice)
	bob := srv.clientFor(t, srv.bob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan models.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- bob.Subscribe(ctx, func(ev models.Event) { events <- ev })
	}()
	require.Eventually(t, func() bool { return srv.hub.Connected(srv.bob) == 1 }, 2*time.Second, 10*time.Millisecond)

	sent, err := alice.CreateMessage(context.Background(), srv.alice, srv.bob, "pushed")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, models.EventMessage, ev.Type)
		assert.Equal(t, sent.ID, ev.Message.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

func TestSubscribeUnauthorized(t *testing.T) {
	srv := newTestServer(t)
	c, err := New(srv.URL, "bogus")
	require.NoError(t, err)

	err = c.Subscribe(context.Background(), func(models.Event) {})
	assert.True(t, errors.Is(err, ErrUnauthorized), "got %v", err)
}

// TestSessionOverHTTP drives the controller against the real server
func TestSessionOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	alice := srv.clientFor(t, srv.alice)
	bob := srv.clientFor(t, srv.bob)

	_, err := alice.CreateMessage(ctx, srv.alice, srv.bob, "first")
	require.NoError(t, err)
	_, err = alice.CreateMessage(ctx, srv.alice, srv.bob, "second")
	require.NoError(t, err)

	ctrl := session.New(bob, session.Options{})
	defer ctrl.Close()

	require.NoError(t, ctrl.Start(ctx, srv.bob))
	view := ctrl.Snapshot()
	assert.Equal(t, session.Ready, view.State)
	require.Len(t, view.Roster, 1)
	require.Len(t, view.Conversations, 1)
	assert.True(t, view.Conversations[0].IsUnread)

	require.NoError(t, ctrl.Open(ctx, srv.alice))
	ctrl.Wait()

	view = ctrl.Snapshot()
	assert.Equal(t, session.ConversationOpen, view.State)
	require.Len(t, view.Messages, 2)
	assert.Equal(t, "first", view.Messages[0].Content)
	assert.Equal(t, "second", view.Messages[1].Content)
	for _, m := range view.Messages {
		assert.True(t, m.IsRead)
	}

	stored, err := srv.store.ListByConversation(ctx, view.Messages[0].ConversationID, 0)
	require.NoError(t, err)
	for _, m := range stored {
		assert.True(t, m.IsRead, "message %s persisted as read", m.ID)
	}

	_, err = ctrl.Send(ctx, srv.alice, "reply")
	require.NoError(t, err)
	view = ctrl.Snapshot()
	assert.Len(t, view.Messages, 3)
	assert.Equal(t, "", view.Draft)
}
