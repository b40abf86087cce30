package domain

import "fmt"

type RoomKind int

const (
	// UserRoomKind is the per-user multicast group every session joins at
	// registration. It enables addressed delivery such as read receipts.
	UserRoomKind RoomKind = iota
	// ConversationRoomKind is the per-conversation multicast group sessions
	// join and leave explicitly.
	ConversationRoomKind
)

// RoomID identifies a multicast group. The kind tag keeps user rooms and
// conversation rooms apart even when a user id and a conversation id collide.
type RoomID struct {
	Kind RoomKind
	ID   string
}

func UserRoom(userID string) RoomID {
	return RoomID{Kind: UserRoomKind, ID: userID}
}

func ConversationRoom(conversationID string) RoomID {
	return RoomID{Kind: ConversationRoomKind, ID: conversationID}
}

func (r RoomID) String() string {
	switch r.Kind {
	case UserRoomKind:
		return fmt.Sprintf("user:%s", r.ID)
	default:
		return fmt.Sprintf("conversation:%s", r.ID)
	}
}
