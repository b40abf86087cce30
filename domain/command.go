package domain

import "time"

// SessionID identifies one live authenticated connection. A user may hold
// several sessions at once (tabs, devices); each gets its own id.
type SessionID string

// Command is an intent routed to the worker owning a conversation.
type Command interface {
	Conversation() string
}

// SendMessageCommand carries a message-send intent. Origin identifies the
// session that issued it so failures can be reported to it alone.
type SendMessageCommand struct {
	Origin         SessionID
	SenderID       string
	ConversationID string
	Text           string
	At             time.Time
}

func (c SendMessageCommand) Conversation() string { return c.ConversationID }
