package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ammar1510/chatsync/internal/models"
)

const eventsPrefix = "chat:events:" // chat:events:{userId} - pub/sub channel

// Notifier fans events out through Redis pub/sub so every server instance
// can deliver to its own websocket clients.
type Notifier struct {
	rdb *redis.Client
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Notify publishes ev on the recipient's channel
func (n *Notifier) Notify(ctx context.Context, recipient uuid.UUID, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.rdb.Publish(ctx, eventsPrefix+recipient.String(), data).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Run relays every published event to deliver until ctx is done
func (n *Notifier) Run(ctx context.Context, deliver func(recipient uuid.UUID, payload []byte)) error {
	sub := n.rdb.PSubscribe(ctx, eventsPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return classify(err)
	}
	log.Info("Subscribed to %s*", eventsPrefix)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			recipient, err := uuid.Parse(strings.TrimPrefix(m.Channel, eventsPrefix))
			if err != nil {
				log.Warn("Ignoring event on unexpected channel %s", m.Channel)
				continue
			}
			deliver(recipient, []byte(m.Payload))
		}
	}
}
