// Package event defines the closed set of events the relay emits to
// connected sessions, together with the routing scope of each kind.
// Dispatch is typed end to end: no stringly-typed callback registration.
package event

import (
	"time"

	"dm-relay/domain"
)

type Kind string

const (
	KindUserOnline  Kind = "user:online"
	KindUserOffline Kind = "user:offline"
	KindMessageNew  Kind = "message:new"
	KindTypingStart Kind = "typing:start"
	KindTypingStop  Kind = "typing:stop"
	KindMessageRead Kind = "message:read"
	KindError       Kind = "error"
)

// Scope selects how the fanout resolves the recipients of an event.
type Scope int

const (
	// ScopeRoom delivers to every session joined to Route.Room.
	ScopeRoom Scope = iota
	// ScopeRoomExceptOrigin delivers to Route.Room minus the origin session.
	ScopeRoomExceptOrigin
	// ScopeBroadcastExceptOrigin delivers to every connected session except
	// the origin. Used for presence transitions.
	ScopeBroadcastExceptOrigin
	// ScopeSession delivers to Route.Target only.
	ScopeSession
)

type Route struct {
	Scope  Scope
	Room   domain.RoomID
	Origin domain.SessionID
	Target domain.SessionID
}

// Event is anything the fanout can deliver.
type Event interface {
	Kind() Kind
	Route() Route
}

// UserOnline is emitted when a user's first session connects.
type UserOnline struct {
	UserID string
	Origin domain.SessionID
}

func (e UserOnline) Kind() Kind { return KindUserOnline }
func (e UserOnline) Route() Route {
	return Route{Scope: ScopeBroadcastExceptOrigin, Origin: e.Origin}
}

// UserOffline is emitted when a user's last session disconnects.
type UserOffline struct {
	UserID   string
	LastSeen time.Time
	Origin   domain.SessionID
}

func (e UserOffline) Kind() Kind { return KindUserOffline }
func (e UserOffline) Route() Route {
	return Route{Scope: ScopeBroadcastExceptOrigin, Origin: e.Origin}
}

// MessageCreated carries a fully persisted message, sender display name
// resolved, bound for every session in the conversation room.
type MessageCreated struct {
	Message    domain.Message
	SenderName string
}

func (e MessageCreated) Kind() Kind { return KindMessageNew }
func (e MessageCreated) Route() Route {
	return Route{Scope: ScopeRoom, Room: domain.ConversationRoom(e.Message.ConversationID)}
}

// TypingStarted and TypingStopped are relayed to the conversation room,
// excluding the session that is typing. Never persisted.
type TypingStarted struct {
	UserID         string
	ConversationID string
	Origin         domain.SessionID
}

func (e TypingStarted) Kind() Kind { return KindTypingStart }
func (e TypingStarted) Route() Route {
	return Route{
		Scope:  ScopeRoomExceptOrigin,
		Room:   domain.ConversationRoom(e.ConversationID),
		Origin: e.Origin,
	}
}

type TypingStopped struct {
	UserID         string
	ConversationID string
	Origin         domain.SessionID
}

func (e TypingStopped) Kind() Kind { return KindTypingStop }
func (e TypingStopped) Route() Route {
	return Route{
		Scope:  ScopeRoomExceptOrigin,
		Room:   domain.ConversationRoom(e.ConversationID),
		Origin: e.Origin,
	}
}

// MessageRead is a read receipt addressed to the sender's user room, so
// only the original sender's sessions see it.
type MessageRead struct {
	MessageID string
	ReadAt    time.Time
	SenderID  string
}

func (e MessageRead) Kind() Kind { return KindMessageRead }
func (e MessageRead) Route() Route {
	return Route{Scope: ScopeRoom, Room: domain.UserRoom(e.SenderID)}
}

// ScopedError reports a failed operation to the originating session only.
type ScopedError struct {
	Target  domain.SessionID
	Message string
}

func (e ScopedError) Kind() Kind { return KindError }
func (e ScopedError) Route() Route {
	return Route{Scope: ScopeSession, Target: e.Target}
}
