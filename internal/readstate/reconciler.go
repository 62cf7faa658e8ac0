// Package readstate marks the inbound messages of an opened conversation as
// read.
package readstate

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/models"
)

var log = logger.New("readstate")

// DefaultConcurrency bounds in-flight MarkRead calls
const DefaultConcurrency = 4

// Marker is the slice of the message store the reconciler needs
type Marker interface {
	MarkRead(ctx context.Context, messageID uuid.UUID) (*models.Message, error)
}

// Result reports the outcome of one reconciliation pass
type Result struct {
	Marked []uuid.UUID
	Failed map[uuid.UUID]error
}

// OK reports whether every candidate was marked
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

type Reconciler struct {
	marker      Marker
	concurrency int
}

func New(marker Marker, concurrency int) *Reconciler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Reconciler{marker: marker, concurrency: concurrency}
}

// Unread returns the messages addressed to self that are not yet read, in
// input order. Outbound messages are never candidates.
func Unread(self uuid.UUID, msgs []*models.Message) []*models.Message {
	var out []*models.Message
	for _, msg := range msgs {
		if msg != nil && msg.IsUnreadFor(self) {
			out = append(out, msg)
		}
	}
	return out
}

// Reconcile marks every unread inbound message in msgs. Each call is
// independent: a failure is recorded in Result.Failed and the rest carry on.
// The input messages are not modified.
func (r *Reconciler) Reconcile(ctx context.Context, self uuid.UUID, msgs []*models.Message) Result {
	candidates := Unread(self, msgs)
	result := Result{Failed: make(map[uuid.UUID]error)}
	if len(candidates) == 0 {
		return result
	}

	rlog := log.With("user", self.String())

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(r.concurrency)

	for _, msg := range candidates {
		id := msg.ID
		g.Go(func() error {
			_, err := r.marker.MarkRead(ctx, id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rlog.Warn("Failed to mark message %s read: %v", id, err)
				result.Failed[id] = err
				return nil
			}
			result.Marked = append(result.Marked, id)
			return nil
		})
	}
	_ = g.Wait() // workers never return an error

	rlog.Debug("Reconciled %d/%d unread messages", len(result.Marked), len(candidates))
	return result
}
