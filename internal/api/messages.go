package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

// Notifier pushes events to a participant's live connections
type Notifier interface {
	Notify(ctx context.Context, recipient uuid.UUID, ev models.Event) error
}

// MessageHandler handles message-related routes
type MessageHandler struct {
	Store    store.MessageStore
	Notifier Notifier
	// Limit is the page size when a request carries none
	Limit int
}

// NewMessageHandler creates a new message handler. notifier may be nil.
func NewMessageHandler(s store.MessageStore, notifier Notifier, limit int) *MessageHandler {
	return &MessageHandler{Store: s, Notifier: notifier, Limit: store.ClampLimit(limit, store.DefaultConversationLimit)}
}

// RegisterRoutes mounts the message and conversation routes on rg
func (h *MessageHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/messages", h.SendMessage)
	rg.GET("/messages", h.GetMessages)
	rg.GET("/messages/:messageID", h.GetMessage)
	rg.PUT("/messages/:messageID/read", h.MarkMessageAsRead)
	rg.GET("/conversations", h.ListConversations)
	rg.GET("/conversations/:conversationID/messages", h.GetConversation)
}

// SendMessage handles the creation of a new message
func (h *MessageHandler) SendMessage(c *gin.Context) {
	senderID, ok := currentUser(c)
	if !ok {
		return
	}

	var req models.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	message, err := h.Store.CreateMessage(c.Request.Context(), senderID, req.ReceiverID, req.Content)
	if err != nil {
		respondError(c, "create message", err)
		return
	}

	h.notify(c.Request.Context(), models.EventMessage, message, message.ReceiverID, message.SenderID)
	c.JSON(http.StatusCreated, message)
}

// GetMessages returns messages sent or received by the authenticated user
func (h *MessageHandler) GetMessages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, ok := h.limit(c)
	if !ok {
		return
	}

	messages, err := h.Store.ListByParticipant(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, "list messages", err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

// GetMessage returns one message the caller sent or received
func (h *MessageHandler) GetMessage(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	message, err := h.Store.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, "get message", err)
		return
	}
	if !message.Involves(userID) {
		respondError(c, "get message", fmt.Errorf("%w: message %s belongs to another conversation", errForbidden, messageID))
		return
	}

	c.JSON(http.StatusOK, message)
}

// MarkMessageAsRead marks a message as read. Only its receiver may do so.
func (h *MessageHandler) MarkMessageAsRead(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	message, err := h.Store.GetMessage(ctx, messageID)
	if err != nil {
		respondError(c, "mark message as read", err)
		return
	}
	if message.ReceiverID != userID {
		respondError(c, "mark message as read", fmt.Errorf("%w: only the receiver can mark message %s as read", errForbidden, messageID))
		return
	}
	if message.IsRead {
		c.JSON(http.StatusOK, message)
		return
	}

	updated, err := h.Store.MarkRead(ctx, messageID)
	if err != nil {
		respondError(c, "mark message as read", err)
		return
	}

	h.notify(ctx, models.EventRead, updated, updated.SenderID)
	c.JSON(http.StatusOK, updated)
}

// ListConversations returns one summary per counterpart, newest first
func (h *MessageHandler) ListConversations(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, ok := h.limit(c)
	if !ok {
		return
	}

	messages, err := h.Store.ListByParticipant(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, "list conversations", err)
		return
	}

	c.JSON(http.StatusOK, conversation.Aggregate(userID, messages))
}

// GetConversation returns the newest messages of a conversation the caller
// takes part in, newest first
func (h *MessageHandler) GetConversation(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	conversationID := c.Param("conversationID")
	if _, _, err := conversation.Participants(conversationID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid conversation ID"})
		return
	}
	if !conversation.Includes(conversationID, userID) {
		respondError(c, "get conversation", fmt.Errorf("%w: not a participant of %s", errForbidden, conversationID))
		return
	}
	limit, ok := h.limit(c)
	if !ok {
		return
	}

	messages, err := h.Store.ListByConversation(c.Request.Context(), conversationID, limit)
	if err != nil {
		respondError(c, "get conversation", err)
		return
	}

	c.JSON(http.StatusOK, messages)
}

func (h *MessageHandler) limit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return h.Limit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
		return 0, false
	}
	return store.ClampLimit(n, h.Limit), true
}

func messageParam(c *gin.Context) (uuid.UUID, bool) {
	messageID, err := uuid.Parse(c.Param("messageID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid message ID"})
		return uuid.Nil, false
	}
	return messageID, true
}

// notify is best effort; a failed push never fails the request
func (h *MessageHandler) notify(ctx context.Context, kind string, message *models.Message, recipients ...uuid.UUID) {
	if h.Notifier == nil {
		return
	}
	ev := models.Event{Type: kind, Message: message, Timestamp: time.Now()}
	for i, recipient := range recipients {
		if i > 0 && recipient == recipients[0] {
			continue
		}
		if err := h.Notifier.Notify(ctx, recipient, ev); err != nil {
			log.Warn("Failed to notify %s of %s event: %v", recipient, kind, err)
		}
	}
}
