package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

// MockStore implements store.MessageStore and store.Roster for testing
type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.Message, error) {
	args := m.Called(senderID, receiverID, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStore) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	args := m.Called(conversationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockStore) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	args := m.Called(userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Message), args.Error(1)
}

func (m *MockStore) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	args := m.Called(messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStore) MarkRead(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	args := m.Called(messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Message), args.Error(1)
}

func (m *MockStore) ListParticipants(ctx context.Context) ([]*models.Participant, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Participant), args.Error(1)
}

func (m *MockStore) GetParticipant(ctx context.Context, id uuid.UUID) (*models.Participant, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockStore) UpsertParticipant(ctx context.Context, p *models.Participant) error {
	args := m.Called(p)
	return args.Error(0)
}

// MockNotifier records pushed events
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, recipient uuid.UUID, ev models.Event) error {
	args := m.Called(recipient, ev.Type)
	return args.Error(0)
}

// setupMessageTest creates a gin router with the MockStore and a fake auth middleware
func setupMessageTest(t *testing.T) (*gin.Engine, *MockStore, *MockNotifier, uuid.UUID) {
	gin.SetMode(gin.TestMode)

	userID := uuid.New()
	router := gin.New()
	mockStore := new(MockStore)
	mockNotifier := new(MockNotifier)
	handler := NewMessageHandler(mockStore, mockNotifier, 50)

	group := router.Group("/api")
	group.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	handler.RegisterRoutes(group)

	t.Cleanup(func() {
		mockStore.AssertExpectations(t)
		mockNotifier.AssertExpectations(t)
	})
	return router, mockStore, mockNotifier, userID
}

func newMessage(sender, receiver uuid.UUID, content string, at time.Time) *models.Message {
	return &models.Message{
		ID:             uuid.New(),
		SenderID:       sender,
		ReceiverID:     receiver,
		Content:        content,
		ConversationID: conversation.ForPair(sender, receiver),
		CreatedAt:      at,
	}
}

func perform(router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSendMessage(t *testing.T) {
	t.Run("Successful message creation", func(t *testing.T) {
		router, mockStore, mockNotifier, senderID := setupMessageTest(t)
		receiverID := uuid.New()
		expected := newMessage(senderID, receiverID, "Hello!", time.Now())

		mockStore.On("CreateMessage", senderID, receiverID, "Hello!").Return(expected, nil).Once()
		mockNotifier.On("Notify", receiverID, models.EventMessage).Return(nil).Once()
		mockNotifier.On("Notify", senderID, models.EventMessage).Return(nil).Once()

		w := perform(router, http.MethodPost, "/api/messages", map[string]interface{}{
			"receiver_id": receiverID.String(),
			"content":     "Hello!",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		var response models.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, expected.ID, response.ID)
		assert.Equal(t, expected.ConversationID, response.ConversationID)
		assert.False(t, response.IsRead)
	})

	t.Run("Missing receiver ID", func(t *testing.T) {
		router, _, _, _ := setupMessageTest(t)

		w := perform(router, http.MethodPost, "/api/messages", map[string]interface{}{"content": "Hello!"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Store validation error", func(t *testing.T) {
		router, mockStore, _, senderID := setupMessageTest(t)
		receiverID := uuid.New()
		mockStore.On("CreateMessage", senderID, receiverID, "   ").
			Return(nil, fmt.Errorf("%w: content is empty", store.ErrValidation)).Once()

		w := perform(router, http.MethodPost, "/api/messages", map[string]interface{}{
			"receiver_id": receiverID.String(),
			"content":     "   ",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Notify failure does not fail the request", func(t *testing.T) {
		router, mockStore, mockNotifier, senderID := setupMessageTest(t)
		receiverID := uuid.New()
		expected := newMessage(senderID, receiverID, "Hi", time.Now())

		mockStore.On("CreateMessage", senderID, receiverID, "Hi").Return(expected, nil).Once()
		mockNotifier.On("Notify", mock.Anything, models.EventMessage).Return(store.ErrUnavailable).Twice()

		w := perform(router, http.MethodPost, "/api/messages", map[string]interface{}{
			"receiver_id": receiverID.String(),
			"content":     "Hi",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
	})
}

func TestGetMessages(t *testing.T) {
	router, mockStore, _, currentUserID := setupMessageTest(t)
	otherUserID := uuid.New()
	messages := []*models.Message{
		newMessage(currentUserID, otherUserID, "Hello!", time.Now()),
		newMessage(otherUserID, currentUserID, "Hi there!", time.Now().Add(-5*time.Minute)),
	}

	mockStore.On("ListByParticipant", currentUserID, 50).Return(messages, nil).Once()
	mockStore.On("ListByParticipant", currentUserID, 10).Return(messages[:1], nil).Once()

	w := perform(router, http.MethodGet, "/api/messages", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var response []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Len(t, response, 2)

	w = perform(router, http.MethodGet, "/api/messages?limit=10", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(router, http.MethodGet, "/api/messages?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetMessage(t *testing.T) {
	router, mockStore, _, userID := setupMessageTest(t)
	mine := newMessage(uuid.New(), userID, "for me", time.Now())
	foreign := newMessage(uuid.New(), uuid.New(), "not for me", time.Now())

	mockStore.On("GetMessage", mine.ID).Return(mine, nil).Once()
	mockStore.On("GetMessage", foreign.ID).Return(foreign, nil).Once()
	missing := uuid.New()
	mockStore.On("GetMessage", missing).Return(nil, fmt.Errorf("message %s: %w", missing, store.ErrNotFound)).Once()

	assert.Equal(t, http.StatusOK, perform(router, http.MethodGet, "/api/messages/"+mine.ID.String(), nil).Code)
	assert.Equal(t, http.StatusForbidden, perform(router, http.MethodGet, "/api/messages/"+foreign.ID.String(), nil).Code)
	assert.Equal(t, http.StatusNotFound, perform(router, http.MethodGet, "/api/messages/"+missing.String(), nil).Code)
	assert.Equal(t, http.StatusBadRequest, perform(router, http.MethodGet, "/api/messages/not-a-uuid", nil).Code)
}

func TestListConversations(t *testing.T) {
	router, mockStore, _, userID := setupMessageTest(t)
	a, b := uuid.New(), uuid.New()
	base := time.Now()
	messages := []*models.Message{
		newMessage(a, userID, "old from a", base.Add(-3*time.Minute)),
		newMessage(userID, b, "to b", base.Add(-2*time.Minute)),
		newMessage(a, userID, "new from a", base.Add(-time.Minute)),
	}
	mockStore.On("ListByParticipant", userID, 50).Return(messages, nil).Once()

	w := perform(router, http.MethodGet, "/api/conversations", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var summaries []models.ConversationSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	assert.Equal(t, a, summaries[0].OtherUserID)
	assert.Equal(t, "new from a", summaries[0].Latest.Content)
	assert.True(t, summaries[0].IsUnread)
	assert.Equal(t, b, summaries[1].OtherUserID)
	assert.False(t, summaries[1].IsUnread)
}

func TestGetConversation(t *testing.T) {
	router, mockStore, _, currentUserID := setupMessageTest(t)
	otherUserID := uuid.New()
	conversationID := conversation.ForPair(currentUserID, otherUserID)
	messages := []*models.Message{
		newMessage(otherUserID, currentUserID, "Hi there!", time.Now().Add(-5*time.Minute)),
		newMessage(currentUserID, otherUserID, "Hello!", time.Now().Add(-10*time.Minute)),
	}

	t.Run("Participant", func(t *testing.T) {
		mockStore.On("ListByConversation", conversationID, 50).Return(messages, nil).Once()

		w := perform(router, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var response []map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Len(t, response, 2)
	})

	t.Run("Not a participant", func(t *testing.T) {
		foreign := conversation.ForPair(uuid.New(), uuid.New())
		w := perform(router, http.MethodGet, "/api/conversations/"+foreign+"/messages", nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Malformed key", func(t *testing.T) {
		w := perform(router, http.MethodGet, "/api/conversations/nonsense/messages", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Store unavailable", func(t *testing.T) {
		mockStore.On("ListByConversation", conversationID, 50).Return(nil, store.ErrUnavailable).Once()
		w := perform(router, http.MethodGet, "/api/conversations/"+conversationID+"/messages", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestMarkMessageAsRead(t *testing.T) {
	t.Run("Receiver marks message as read", func(t *testing.T) {
		router, mockStore, mockNotifier, userID := setupMessageTest(t)
		senderID := uuid.New()
		message := newMessage(senderID, userID, "Test message", time.Now())
		read := message.Clone()
		read.IsRead = true

		mockStore.On("GetMessage", message.ID).Return(message, nil).Once()
		mockStore.On("MarkRead", message.ID).Return(read, nil).Once()
		mockNotifier.On("Notify", senderID, models.EventRead).Return(nil).Once()

		w := perform(router, http.MethodPut, "/api/messages/"+message.ID.String()+"/read", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var response models.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.True(t, response.IsRead)
	})

	t.Run("Already read is a no-op", func(t *testing.T) {
		router, mockStore, _, userID := setupMessageTest(t)
		message := newMessage(uuid.New(), userID, "seen", time.Now())
		message.IsRead = true
		mockStore.On("GetMessage", message.ID).Return(message, nil).Once()

		w := perform(router, http.MethodPut, "/api/messages/"+message.ID.String()+"/read", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Sender cannot mark", func(t *testing.T) {
		router, mockStore, _, userID := setupMessageTest(t)
		message := newMessage(userID, uuid.New(), "mine", time.Now())
		mockStore.On("GetMessage", message.ID).Return(message, nil).Once()

		w := perform(router, http.MethodPut, "/api/messages/"+message.ID.String()+"/read", nil)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("Unknown message", func(t *testing.T) {
		router, mockStore, _, _ := setupMessageTest(t)
		id := uuid.New()
		mockStore.On("GetMessage", id).Return(nil, store.ErrNotFound).Once()

		w := perform(router, http.MethodPut, "/api/messages/"+id.String()+"/read", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Invalid message ID", func(t *testing.T) {
		router, _, _, _ := setupMessageTest(t)
		w := perform(router, http.MethodPut, "/api/messages/invalid-uuid/read", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRespondErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("%w: bad", store.ErrValidation), http.StatusBadRequest},
		{"not found", fmt.Errorf("x: %w", store.ErrNotFound), http.StatusNotFound},
		{"forbidden", errForbidden, http.StatusForbidden},
		{"unavailable", fmt.Errorf("%w: down", store.ErrUnavailable), http.StatusServiceUnavailable},
		{"other", assert.AnError, http.StatusInternalServerError},
	}

	gin.SetMode(gin.TestMode)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			respondError(c, "test", tt.err)
			assert.Equal(t, tt.want, w.Code)
			assert.Contains(t, w.Body.String(), "error")
		})
	}
}
