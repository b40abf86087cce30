package domain

import (
	"strings"
	"time"
)

// Conversation is a two-party thread. The participant pair is unique
// regardless of order: at most one conversation exists per unordered pair.
type Conversation struct {
	ID            string
	Participants  [2]string
	LastMessageID string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// HasParticipant reports whether the user belongs to the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Peer returns the other participant of the conversation.
func (c Conversation) Peer(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// PairKey normalizes an unordered participant pair into the canonical
// storage key fragment. PairKey(a, b) == PairKey(b, a).
func PairKey(userA, userB string) string {
	if strings.Compare(userA, userB) > 0 {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}
