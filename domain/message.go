// Package domain contains the core concepts of the direct-message relay.
// Messages are immutable once created except for the read transition,
// which is monotonic: false to true, never reverted.
package domain

import (
	"time"
)

// Message is a single direct message inside a conversation.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	CreatedAt      time.Time
	Read           bool
	ReadAt         *time.Time
}
