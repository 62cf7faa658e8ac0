package conversation

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ammar1510/chatsync/internal/models"
)

// Aggregate reduces every message involving self to one summary per
// counterpart. Each summary keeps the message with the greatest CreatedAt;
// on equal timestamps the message encountered first in msgs wins. Messages
// that do not involve self, and nil entries, are skipped. msgs is not
// modified and the summaries point at the same *Message values.
//
// The result is ordered newest conversation first; conversations whose
// latest messages share a timestamp keep first-encountered order.
func Aggregate(self uuid.UUID, msgs []*models.Message) []models.ConversationSummary {
	latest := make(map[uuid.UUID]*models.Message)
	var order []uuid.UUID

	for _, msg := range msgs {
		if msg == nil || !msg.Involves(self) {
			continue
		}
		other := msg.Counterpart(self)
		best, seen := latest[other]
		if !seen {
			order = append(order, other)
			latest[other] = msg
			continue
		}
		if msg.CreatedAt.After(best.CreatedAt) {
			latest[other] = msg
		}
	}

	summaries := make([]models.ConversationSummary, 0, len(order))
	for _, other := range order {
		msg := latest[other]
		summaries = append(summaries, models.ConversationSummary{
			OtherUserID: other,
			Latest:      msg,
			IsUnread:    msg.IsUnreadFor(self),
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Latest.CreatedAt.After(summaries[j].Latest.CreatedAt)
	})
	return summaries
}

// Chronological returns msgs ordered oldest first. Stores list conversations
// newest first; the returned slice is a reversed copy and msgs is untouched.
func Chronological(msgs []*models.Message) []*models.Message {
	out := make([]*models.Message, len(msgs))
	for i, msg := range msgs {
		out[len(msgs)-1-i] = msg
	}
	return out
}

// UnreadCount returns how many summaries are flagged unread
func UnreadCount(summaries []models.ConversationSummary) int {
	n := 0
	for _, s := range summaries {
		if s.IsUnread {
			n++
		}
	}
	return n
}
