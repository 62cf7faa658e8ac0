package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ammar1510/chatsync/internal/client"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/session"
)

var errNoToken = errors.New("no token: pass --token or set CHATSYNC_TOKEN")

// chat bundles a server client with a started session
type chat struct {
	client *client.Client
	ctrl   *session.Controller
	self   *models.Participant
}

// startChat connects, resolves the caller and loads the session. A roster or
// conversation load failure is reported but not fatal.
func startChat(ctx context.Context) (*chat, error) {
	if cfg.Client.Token == "" {
		return nil, errNoToken
	}
	c, err := client.New(cfg.Client.ServerURL, cfg.Client.Token)
	if err != nil {
		return nil, err
	}
	self, err := c.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to identify caller: %w", err)
	}

	ctrl := session.New(c, session.Options{
		ConversationLimit:    cfg.Limits.Conversation,
		ParticipantLimit:     cfg.Limits.Participant,
		ReconcileConcurrency: cfg.Limits.Reconcile,
	})
	if err := ctrl.Start(ctx, self.ID); err != nil {
		log.Warn("Session loaded with errors: %v", err)
	}
	return &chat{client: c, ctrl: ctrl, self: self}, nil
}

func (ch *chat) Close() {
	ch.ctrl.Close()
}

// resolve finds a roster entry by ID, display name or email. Names must be
// unambiguous.
func resolve(roster []*models.Participant, ref string) (*models.Participant, error) {
	if id, err := uuid.Parse(ref); err == nil {
		for _, p := range roster {
			if p.ID == id {
				return p, nil
			}
		}
		return &models.Participant{ID: id}, nil
	}

	var matches []*models.Participant
	for _, p := range roster {
		if strings.EqualFold(p.DisplayName, ref) || strings.EqualFold(p.Email, ref) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no participant named %q", ref)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%q matches %d participants, use an ID", ref, len(matches))
	}
}

// displayName returns the roster name for id, falling back to the ID
func displayName(roster []*models.Participant, id uuid.UUID) string {
	for _, p := range roster {
		if p.ID == id && p.DisplayName != "" {
			return p.DisplayName
		}
	}
	return id.String()
}
