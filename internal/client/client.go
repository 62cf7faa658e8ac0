// Package client talks to the chat server over HTTP and websocket. It
// satisfies the session controller's backend and validates every record it
// decodes before handing it on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/store"
)

var log = logger.New("client")

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

const defaultTimeout = 15 * time.Second

// Client is a message store client bound to one bearer token
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(serverURL, token string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", serverURL)
	}
	c := &Client{
		base:  base,
		token: token,
		http:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateMessage sends content to receiverID. The server takes the sender from
// the token; a response naming anyone else is rejected.
func (c *Client) CreateMessage(ctx context.Context, senderID, receiverID uuid.UUID, content string) (*models.Message, error) {
	if err := store.ValidateNewMessage(senderID, receiverID, content); err != nil {
		return nil, err
	}
	req := models.MessageRequest{ReceiverID: receiverID, Content: content}

	var msg models.Message
	if err := c.do(ctx, http.MethodPost, "/api/messages", nil, req, &msg); err != nil {
		return nil, err
	}
	if err := store.ValidateMessage(&msg); err != nil {
		return nil, err
	}
	if msg.SenderID != senderID || msg.ReceiverID != receiverID {
		return nil, fmt.Errorf("%w: message %s has unexpected participants", store.ErrValidation, msg.ID)
	}
	return &msg, nil
}

// ListByConversation returns the newest messages first, as the server does
func (c *Client) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*models.Message, error) {
	path := "/api/conversations/" + url.PathEscape(conversationID) + "/messages"
	msgs, err := c.listMessages(ctx, path, limit)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ConversationID != conversationID {
			return nil, fmt.Errorf("%w: message %s is not part of %s", store.ErrValidation, m.ID, conversationID)
		}
	}
	return msgs, nil
}

// ListByParticipant returns messages of the token's owner, who must be userID
func (c *Client) ListByParticipant(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Message, error) {
	msgs, err := c.listMessages(ctx, "/api/messages", limit)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if !m.Involves(userID) {
			return nil, fmt.Errorf("%w: message %s does not involve %s", store.ErrValidation, m.ID, userID)
		}
	}
	return msgs, nil
}

func (c *Client) GetMessage(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages/"+messageID.String(), nil, nil, &msg); err != nil {
		return nil, err
	}
	if err := store.ValidateMessage(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) MarkRead(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	if err := c.do(ctx, http.MethodPut, "/api/messages/"+messageID.String()+"/read", nil, nil, &msg); err != nil {
		return nil, err
	}
	if err := store.ValidateMessage(&msg); err != nil {
		return nil, err
	}
	if msg.ID != messageID || !msg.IsRead {
		return nil, fmt.Errorf("%w: mark read of %s returned %s (read=%t)", store.ErrValidation, messageID, msg.ID, msg.IsRead)
	}
	return &msg, nil
}

// ListParticipants returns the roster without the caller
func (c *Client) ListParticipants(ctx context.Context) ([]*models.Participant, error) {
	var raw []*models.Participant
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]*models.Participant, 0, len(raw))
	for _, p := range raw {
		if err := store.ValidateParticipant(p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Me returns the caller's roster entry
func (c *Client) Me(ctx context.Context) (*models.Participant, error) {
	var p models.Participant
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &p); err != nil {
		return nil, err
	}
	if err := store.ValidateParticipant(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListConversations returns the server-side aggregation of the caller's
// conversations, newest first
func (c *Client) ListConversations(ctx context.Context, limit int) ([]models.ConversationSummary, error) {
	var out []models.ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/api/conversations", limitQuery(limit), nil, &out); err != nil {
		return nil, err
	}
	for _, s := range out {
		if err := store.ValidateMessage(s.Latest); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) listMessages(ctx context.Context, path string, limit int) ([]*models.Message, error) {
	var raw []*models.Message
	if err := c.do(ctx, http.MethodGet, path, limitQuery(limit), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]*models.Message, 0, len(raw))
	for _, m := range raw {
		if err := store.ValidateMessage(m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func limitQuery(limit int) url.Values {
	if limit <= 0 {
		return nil
	}
	return url.Values{"limit": []string{strconv.Itoa(limit)}}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", store.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(method, path, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: malformed response: %v", store.ErrValidation, method, path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(data, &payload) != nil || payload.Error == "" {
		payload.Error = strings.TrimSpace(string(data))
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusBadRequest:
		kind = store.ErrValidation
	case resp.StatusCode == http.StatusUnauthorized:
		kind = ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		kind = ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		kind = store.ErrNotFound
	case resp.StatusCode >= 500:
		kind = store.ErrUnavailable
	default:
		kind = errors.New(resp.Status)
	}
	log.Debug("%s %s failed with %d: %s", method, path, resp.StatusCode, payload.Error)
	return fmt.Errorf("%w: %s %s: %s", kind, method, path, payload.Error)
}
