// Package conversation derives conversation keys and reduces flat message
// sets into per-counterpart summaries.
package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Separator joins the two participant identifiers of a conversation key.
const Separator = "_"

var (
	ErrInvalidParticipant = errors.New("invalid participant identifier")
	ErrInvalidKey         = errors.New("invalid conversation key")
)

// ID returns the canonical key for the conversation between a and b. The key
// is the lexicographically sorted pair joined by Separator, so ID(a, b) equals
// ID(b, a). Identifiers that are empty or contain Separator are rejected since
// they would make two different pairs share a key.
func ID(a, b string) (string, error) {
	if err := validParticipant(a); err != nil {
		return "", err
	}
	if err := validParticipant(b); err != nil {
		return "", err
	}
	if b < a {
		a, b = b, a
	}
	return a + Separator + b, nil
}

// ForPair is ID for canonical UUIDs.
func ForPair(a, b uuid.UUID) string {
	id, _ := ID(a.String(), b.String()) // canonical UUID text never contains Separator
	return id
}

// Participants splits a key produced by ForPair back into its two UUIDs.
func Participants(conversationID string) (uuid.UUID, uuid.UUID, error) {
	left, right, ok := strings.Cut(conversationID, Separator)
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidKey, conversationID)
	}
	a, err := uuid.Parse(left)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	b, err := uuid.Parse(right)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if ForPair(a, b) != conversationID {
		return uuid.Nil, uuid.Nil, fmt.Errorf("%w: not canonical", ErrInvalidKey)
	}
	return a, b, nil
}

// Includes reports whether userID is one of the two participants of conversationID
func Includes(conversationID string, userID uuid.UUID) bool {
	a, b, err := Participants(conversationID)
	if err != nil {
		return false
	}
	return a == userID || b == userID
}

func validParticipant(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidParticipant)
	}
	if strings.Contains(id, Separator) {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidParticipant, id, Separator)
	}
	return nil
}
