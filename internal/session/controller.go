// Package session holds the in-memory state of one user's chat session and
// orchestrates loads, sends and read-state reconciliation against a store.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ammar1510/chatsync/internal/conversation"
	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/models"
	"github.com/ammar1510/chatsync/internal/readstate"
	"github.com/ammar1510/chatsync/internal/store"
)

var log = logger.New("session")

var (
	ErrNoIdentity         = errors.New("no user identity")
	ErrNotReady           = errors.New("session is not ready")
	ErrInvalidCounterpart = errors.New("invalid counterpart")
	// ErrSuperseded is returned when a response arrived after the user moved
	// on to another conversation or session. Nothing was applied.
	ErrSuperseded = errors.New("superseded by a newer request")
)

// Backend is what the controller needs from a message store client
type Backend interface {
	store.MessageStore
	ListParticipants(ctx context.Context) ([]*models.Participant, error)
}

type Options struct {
	ConversationLimit    int
	ParticipantLimit     int
	ReconcileConcurrency int
}

// View is an immutable copy of the controller state
type View struct {
	State         State
	Self          uuid.UUID
	Roster        []*models.Participant
	Conversations []models.ConversationSummary
	Active        uuid.UUID
	Messages      []*models.Message
	Draft         string

	RosterErr        error
	ConversationsErr error
	ConversationErr  error
	SendErr          error
}

type Controller struct {
	backend    Backend
	reconciler *readstate.Reconciler
	opts       Options

	bgCtx       context.Context
	cancel      context.CancelFunc
	reconciling sync.WaitGroup

	mu         sync.Mutex
	state      State
	self       uuid.UUID
	session    uint64
	generation uint64
	roster     []*models.Participant
	summaries  []models.ConversationSummary
	active     uuid.UUID
	messages   []*models.Message
	draft      string
	sendLocks  map[uuid.UUID]*sync.Mutex

	// conversation list fetches are ticketed; a result is applied only if no
	// later-issued fetch has been applied first
	summariesGen       uint64
	summariesCommitted uint64
	// pushed holds messages folded into the list since recent fetches began
	pushed []pushedMessage

	rosterErr        error
	conversationsErr error
	conversationErr  error
	sendErr          error
}

type pushedMessage struct {
	gen uint64
	msg *models.Message
}

func New(backend Backend, opts Options) *Controller {
	if opts.ConversationLimit <= 0 {
		opts.ConversationLimit = store.DefaultConversationLimit
	}
	if opts.ParticipantLimit <= 0 {
		opts.ParticipantLimit = store.DefaultParticipantLimit
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		backend:    backend,
		reconciler: readstate.New(backend, opts.ReconcileConcurrency),
		opts:       opts,
		bgCtx:      ctx,
		cancel:     cancel,
		state:      Idle,
		sendLocks:  make(map[uuid.UUID]*sync.Mutex),
	}
}

// Start begins a session for self: roster and conversations load in
// parallel and the controller always ends in Ready. A part that fails to load
// is left empty and its error is recorded in the view and returned.
func (c *Controller) Start(ctx context.Context, self uuid.UUID) error {
	if self == uuid.Nil {
		return ErrNoIdentity
	}

	c.mu.Lock()
	c.session++
	c.generation++
	sess := c.session
	c.self = self
	c.state = Loading
	c.roster = nil
	c.summaries = nil
	c.active = uuid.Nil
	c.messages = nil
	c.draft = ""
	c.pushed = nil
	c.rosterErr, c.conversationsErr, c.conversationErr, c.sendErr = nil, nil, nil, nil
	ticket := c.beginSummaries()
	c.mu.Unlock()

	sessLog := log.With("user", self.String())
	sessLog.Debug("Loading session")

	var roster []*models.Participant
	var summaries []models.ConversationSummary
	var rosterErr, conversationsErr error

	var g errgroup.Group
	g.Go(func() error {
		roster, rosterErr = c.fetchRoster(ctx, self)
		return nil
	})
	g.Go(func() error {
		summaries, conversationsErr = c.fetchSummaries(ctx, self)
		return nil
	})
	_ = g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != sess {
		return ErrSuperseded
	}
	if rosterErr != nil {
		sessLog.Error("Failed to load roster: %v", rosterErr)
		roster = []*models.Participant{}
		rosterErr = fmt.Errorf("load roster: %w", rosterErr)
	}
	if conversationsErr != nil {
		sessLog.Error("Failed to load conversations: %v", conversationsErr)
		summaries = []models.ConversationSummary{}
		conversationsErr = fmt.Errorf("load conversations: %w", conversationsErr)
	}
	c.roster = roster
	c.commitSummaries(ticket, summaries)
	c.rosterErr = rosterErr
	c.conversationsErr = conversationsErr
	c.state = Ready

	return errors.Join(rosterErr, conversationsErr)
}

// Refresh re-fetches and re-aggregates the conversation list. A result is
// dropped with ErrSuperseded when a refresh issued later has already been
// applied. Messages received while the fetch was in flight are folded back in.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Idle || c.state == Loading {
		c.mu.Unlock()
		return ErrNotReady
	}
	self, sess := c.self, c.session
	ticket := c.beginSummaries()
	c.mu.Unlock()

	summaries, err := c.fetchSummaries(ctx, self)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess || ticket < c.summariesCommitted {
		log.Debug("Discarding stale conversation list for %s", self)
		return ErrSuperseded
	}
	if err != nil {
		c.conversationsErr = fmt.Errorf("load conversations: %w", err)
		return c.conversationsErr
	}
	c.commitSummaries(ticket, summaries)
	c.conversationsErr = nil
	return nil
}

// Open makes counterpart the active conversation and loads its messages
// oldest first. Once the list is applied, unread inbound messages are marked
// read in the background; Open does not wait for that. Selecting another
// counterpart while a load is in flight discards the older response.
func (c *Controller) Open(ctx context.Context, counterpart uuid.UUID) error {
	if counterpart == uuid.Nil {
		return ErrInvalidCounterpart
	}

	c.mu.Lock()
	if c.state == Idle || c.state == Loading {
		c.mu.Unlock()
		return ErrNotReady
	}
	c.generation++
	gen, sess, self := c.generation, c.session, c.self
	c.active = counterpart
	c.messages = nil
	c.conversationErr = nil
	c.state = ConversationOpen
	c.mu.Unlock()

	fetched, err := c.backend.ListByConversation(ctx, conversation.ForPair(self, counterpart), c.opts.ConversationLimit)
	if errors.Is(err, store.ErrNotFound) {
		fetched, err = nil, nil
	}

	c.mu.Lock()
	if c.session != sess || c.generation != gen {
		c.mu.Unlock()
		log.Debug("Discarding stale conversation load for %s", counterpart)
		return ErrSuperseded
	}
	if err != nil {
		c.conversationErr = fmt.Errorf("load conversation: %w", err)
		c.active = uuid.Nil
		c.messages = nil
		c.state = Ready
		c.mu.Unlock()
		return c.conversationErr
	}

	// keep anything sent or received while the load was in flight
	c.messages = mergeByID(conversation.Chronological(fetched), c.messages)
	snapshot := append([]*models.Message(nil), c.messages...)
	c.mu.Unlock()

	c.reconcile(sess, self, snapshot)
	return nil
}

// Send writes a message to receiver. The draft is cleared while the write is
// in flight and restored if it fails. On success the message is appended to
// the open conversation when it is the one addressed, and the conversation
// list is re-fetched from the store. Sends to the same receiver are issued
// one at a time.
func (c *Controller) Send(ctx context.Context, receiver uuid.UUID, content string) (*models.Message, error) {
	if receiver == uuid.Nil {
		return nil, ErrInvalidCounterpart
	}

	c.mu.Lock()
	switch c.state {
	case Idle:
		c.mu.Unlock()
		return nil, ErrNoIdentity
	case Loading:
		c.mu.Unlock()
		return nil, ErrNotReady
	}
	self, sess := c.self, c.session
	c.draft = ""
	lock := c.sendLock(receiver)
	c.mu.Unlock()

	if err := store.ValidateNewMessage(self, receiver, content); err != nil {
		c.failSend(sess, content, err)
		return nil, err
	}

	lock.Lock()
	msg, err := c.backend.CreateMessage(ctx, self, receiver, content)
	lock.Unlock()
	if err != nil {
		log.Warn("Send to %s failed: %v", receiver, err)
		c.failSend(sess, content, err)
		return nil, err
	}

	c.mu.Lock()
	if c.session == sess {
		c.sendErr = nil
		if c.state == ConversationOpen && c.active == receiver {
			c.messages = mergeByID(c.messages, []*models.Message{msg})
		}
	}
	c.mu.Unlock()

	if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrNotReady) {
		log.Warn("Conversation refresh after send failed: %v", err)
	}
	return msg, nil
}

// Receive applies a message pushed by the server, either new or a read
// receipt for a known one. It is applied to the open conversation if it
// belongs there, and folded into the conversation list. Inbound messages
// landing in the open conversation are marked read.
func (c *Controller) Receive(msg *models.Message) {
	if msg == nil {
		return
	}

	c.mu.Lock()
	if c.state == Idle || c.state == Loading || !msg.Involves(c.self) {
		c.mu.Unlock()
		return
	}
	self, sess := c.self, c.session
	// read state only moves forward
	if known := c.lookup(msg.ID); known != nil && known.IsRead && !msg.IsRead {
		msg = msg.Clone()
		msg.IsRead = true
	}
	open := c.state == ConversationOpen && c.active == msg.Counterpart(self)
	if open {
		c.messages = replaceByID(c.messages, msg)
	}

	c.pushed = append(c.pushed, pushedMessage{gen: c.summariesGen, msg: msg})
	c.summaries = foldLatest(self, c.summaries, []*models.Message{msg})
	c.mu.Unlock()

	if open && msg.IsUnreadFor(self) {
		c.reconcile(sess, self, []*models.Message{msg})
	}
}

// SetDraft records the composer contents
func (c *Controller) SetDraft(draft string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.draft = draft
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	return View{
		State:            c.state,
		Self:             c.self,
		Roster:           append([]*models.Participant(nil), c.roster...),
		Conversations:    append([]models.ConversationSummary(nil), c.summaries...),
		Active:           c.active,
		Messages:         append([]*models.Message(nil), c.messages...),
		Draft:            c.draft,
		RosterErr:        c.rosterErr,
		ConversationsErr: c.conversationsErr,
		ConversationErr:  c.conversationErr,
		SendErr:          c.sendErr,
	}
}

// Wait blocks until background reconciliation has finished
func (c *Controller) Wait() {
	c.reconciling.Wait()
}

// Close cancels background work and waits for it to stop
func (c *Controller) Close() {
	c.cancel()
	c.Wait()
}

func (c *Controller) fetchRoster(ctx context.Context, self uuid.UUID) ([]*models.Participant, error) {
	all, err := c.backend.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	roster := make([]*models.Participant, 0, len(all))
	for _, p := range all {
		if p != nil && p.ID != self {
			roster = append(roster, p)
		}
	}
	return roster, nil
}

func (c *Controller) fetchSummaries(ctx context.Context, self uuid.UUID) ([]models.ConversationSummary, error) {
	msgs, err := c.backend.ListByParticipant(ctx, self, c.opts.ParticipantLimit)
	if errors.Is(err, store.ErrNotFound) {
		return []models.ConversationSummary{}, nil
	}
	if err != nil {
		return nil, err
	}
	return conversation.Aggregate(self, msgs), nil
}

// reconcile marks the snapshot's unread inbound messages in the background
// and folds the outcome back into the state if the session is unchanged.
func (c *Controller) reconcile(sess uint64, self uuid.UUID, snapshot []*models.Message) {
	if len(readstate.Unread(self, snapshot)) == 0 {
		return
	}

	c.reconciling.Add(1)
	go func() {
		defer c.reconciling.Done()
		result := c.reconciler.Reconcile(c.bgCtx, self, snapshot)
		if !result.OK() {
			log.Warn("%d messages could not be marked read", len(result.Failed))
		}
		c.applyRead(sess, result.Marked)
	}()
}

func (c *Controller) applyRead(sess uint64, marked []uuid.UUID) {
	if len(marked) == 0 {
		return
	}
	read := make(map[uuid.UUID]bool, len(marked))
	for _, id := range marked {
		read[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess {
		return
	}

	for i, msg := range c.messages {
		if read[msg.ID] && !msg.IsRead {
			updated := msg.Clone()
			updated.IsRead = true
			c.messages[i] = updated
		}
	}
	for i, s := range c.summaries {
		if read[s.Latest.ID] && !s.Latest.IsRead {
			updated := s.Latest.Clone()
			updated.IsRead = true
			c.summaries[i] = models.ConversationSummary{OtherUserID: s.OtherUserID, Latest: updated, IsUnread: false}
			c.pushed = append(c.pushed, pushedMessage{gen: c.summariesGen, msg: updated})
		}
	}
}

// beginSummaries issues a fetch ticket. Must be called with c.mu held.
func (c *Controller) beginSummaries() uint64 {
	c.summariesGen++
	return c.summariesGen
}

// commitSummaries applies the result of fetch ticket, re-applying messages
// pushed after that fetch was issued. Earlier pushes are already reflected
// by the store and are forgotten. Must be called with c.mu held.
func (c *Controller) commitSummaries(ticket uint64, fetched []models.ConversationSummary) {
	c.summariesCommitted = ticket

	var later []*models.Message
	var kept []pushedMessage
	for _, p := range c.pushed {
		if p.gen >= ticket {
			later = append(later, p.msg)
			kept = append(kept, p)
		}
	}
	c.pushed = kept
	c.summaries = foldLatest(c.self, fetched, later)
}

func (c *Controller) failSend(sess uint64, content string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != sess {
		return
	}
	c.draft = content
	c.sendErr = err
}

// sendLock must be called with c.mu held
func (c *Controller) sendLock(receiver uuid.UUID) *sync.Mutex {
	l, ok := c.sendLocks[receiver]
	if !ok {
		l = &sync.Mutex{}
		c.sendLocks[receiver] = l
	}
	return l
}

// mergeByID appends the messages of extra that base does not already hold
func mergeByID(base, extra []*models.Message) []*models.Message {
	if len(extra) == 0 {
		return base
	}
	seen := make(map[uuid.UUID]bool, len(base))
	for _, m := range base {
		seen[m.ID] = true
	}
	out := append([]*models.Message(nil), base...)
	for _, m := range extra {
		if m != nil && !seen[m.ID] {
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	return out
}

// lookup must be called with c.mu held
func (c *Controller) lookup(id uuid.UUID) *models.Message {
	for _, m := range c.messages {
		if m.ID == id {
			return m
		}
	}
	for _, s := range c.summaries {
		if s.Latest.ID == id {
			return s.Latest
		}
	}
	return nil
}

// foldLatest re-aggregates the latest messages of summaries together with
// extra. Copies of one message collapse to a single entry that is read if
// any copy is.
func foldLatest(self uuid.UUID, summaries []models.ConversationSummary, extra []*models.Message) []models.ConversationSummary {
	if len(extra) == 0 {
		return summaries
	}
	index := make(map[uuid.UUID]int, len(summaries)+len(extra))
	msgs := make([]*models.Message, 0, len(summaries)+len(extra))
	add := func(m *models.Message) {
		if i, ok := index[m.ID]; ok {
			if m.IsRead && !msgs[i].IsRead {
				msgs[i] = m
			}
			return
		}
		index[m.ID] = len(msgs)
		msgs = append(msgs, m)
	}
	for _, s := range summaries {
		add(s.Latest)
	}
	for _, m := range extra {
		add(m)
	}
	return conversation.Aggregate(self, msgs)
}

// replaceByID swaps in msg for the entry with the same ID, or appends it
func replaceByID(base []*models.Message, msg *models.Message) []*models.Message {
	out := append([]*models.Message(nil), base...)
	for i, m := range out {
		if m.ID == msg.ID {
			out[i] = msg
			return out
		}
	}
	return append(out, msg)
}
