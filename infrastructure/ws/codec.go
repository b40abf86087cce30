// Package ws is the websocket transport of the relay: handshake,
// per-connection read/write pumps, and the JSON wire codec.
package ws

import (
	"encoding/json"
	"time"

	"dm-relay/domain"
	"dm-relay/domain/event"
)

// Frame is the wire envelope in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client event names accepted by the read pump.
const (
	evtJoinRoom    = "join-room"
	evtLeaveRoom   = "leave-room"
	evtMessageSend = "message:send"
	evtTypingStart = "typing:start"
	evtTypingStop  = "typing:stop"
	evtMessageRead = "message:read"
)

type roomPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type sendPayload struct {
	ConversationID string `json:"conversationId" validate:"required"`
	Text           string `json:"text" validate:"required"`
}

type readPayload struct {
	MessageID string `json:"messageId" validate:"required"`
}

// Outbound payload shapes. message:new carries the full persisted record
// with the resolved sender display name.
type messagePayload struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"createdAt"`
	IsRead         bool       `json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
}

type userOnlinePayload struct {
	UserID string `json:"userId"`
}

type userOfflinePayload struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type typingPayload struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type receiptPayload struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// encodeEvent turns a relay event into its wire frame.
func encodeEvent(e event.Event) ([]byte, error) {
	var data any
	switch evt := e.(type) {
	case event.UserOnline:
		data = userOnlinePayload{UserID: evt.UserID}
	case event.UserOffline:
		data = userOfflinePayload{UserID: evt.UserID, LastSeen: evt.LastSeen}
	case event.MessageCreated:
		data = toMessagePayload(evt.Message, evt.SenderName)
	case event.TypingStarted:
		data = typingPayload{UserID: evt.UserID, ConversationID: evt.ConversationID}
	case event.TypingStopped:
		data = typingPayload{UserID: evt.UserID, ConversationID: evt.ConversationID}
	case event.MessageRead:
		data = receiptPayload{MessageID: evt.MessageID, ReadAt: evt.ReadAt}
	case event.ScopedError:
		data = errorPayload{Message: evt.Message}
	default:
		data = struct{}{}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: string(e.Kind()), Data: raw})
}

func toMessagePayload(message domain.Message, senderName string) messagePayload {
	return messagePayload{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		SenderName:     senderName,
		Text:           message.Text,
		CreatedAt:      message.CreatedAt,
		IsRead:         message.Read,
		ReadAt:         message.ReadAt,
	}
}
