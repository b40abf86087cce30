package runtime

import (
	"sync"

	"github.com/google/uuid"

	"dm-relay/contract"
	"dm-relay/domain"
)

type sessionState struct {
	userID string
	sink   contract.EventSink
	rooms  map[domain.RoomID]struct{}
}

// Registry maps authenticated users to their live sessions and tracks room
// membership. A user may hold several simultaneous sessions (devices,
// tabs); every one of them receives fan-out. Safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[domain.SessionID]*sessionState
	userSessions map[string]map[domain.SessionID]struct{}
	roomMembers  map[domain.RoomID]map[domain.SessionID]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:     make(map[domain.SessionID]*sessionState),
		userSessions: make(map[string]map[domain.SessionID]struct{}),
		roomMembers:  make(map[domain.RoomID]map[domain.SessionID]struct{}),
	}
}

// Register binds a connection sink to a user and returns the new session
// id. The session is immediately joined to its own user room, which is what
// enables addressed delivery such as read receipts.
func (r *Registry) Register(userID string, sink contract.EventSink) domain.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := domain.SessionID(uuid.NewString())
	r.sessions[id] = &sessionState{
		userID: userID,
		sink:   sink,
		rooms:  make(map[domain.RoomID]struct{}),
	}
	if _, ok := r.userSessions[userID]; !ok {
		r.userSessions[userID] = make(map[domain.SessionID]struct{})
	}
	r.userSessions[userID][id] = struct{}{}

	r.joinLocked(id, domain.UserRoom(userID))
	return id
}

// Unregister removes the session from every room it joined and from the
// user's session set. It reports the owning user and whether the session
// was still registered, so a disconnect path runs exactly once.
func (r *Registry) Unregister(id domain.SessionID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	for room := range state.rooms {
		r.leaveLocked(id, room)
	}
	delete(r.sessions, id)

	if sessions, ok := r.userSessions[state.userID]; ok {
		delete(sessions, id)
		if len(sessions) == 0 {
			delete(r.userSessions, state.userID)
		}
	}
	return state.userID, true
}

// JoinRoom is idempotent: joining a room twice is not an error.
func (r *Registry) JoinRoom(id domain.SessionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinLocked(id, room)
}

func (r *Registry) LeaveRoom(id domain.SessionID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(id, room)
}

// SinksFor resolves the sinks of every session currently joined to a room.
// Returns nil for an unknown or empty room.
func (r *Registry) SinksFor(room domain.RoomID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	sinks := make([]contract.EventSink, 0, len(members))
	for id := range members {
		if state, exists := r.sessions[id]; exists {
			sinks = append(sinks, state.sink)
		}
	}
	return sinks
}

// SinksExcept returns the sinks of every registered session except the
// given one. Used for presence broadcasts.
func (r *Registry) SinksExcept(origin domain.SessionID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sinks []contract.EventSink
	for id, state := range r.sessions {
		if id == origin {
			continue
		}
		sinks = append(sinks, state.sink)
	}
	return sinks
}

// SinksForExcept resolves a room's sinks minus the origin session.
func (r *Registry) SinksForExcept(room domain.RoomID, origin domain.SessionID) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.roomMembers[room]
	if !ok {
		return nil
	}
	var sinks []contract.EventSink
	for id := range members {
		if id == origin {
			continue
		}
		if state, exists := r.sessions[id]; exists {
			sinks = append(sinks, state.sink)
		}
	}
	return sinks
}

// SinkOf returns the sink of one session, if it is still registered.
func (r *Registry) SinkOf(id domain.SessionID) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	return state.sink, true
}

// ConnectionsFor counts the live sessions of a user. Zero means offline.
func (r *Registry) ConnectionsFor(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userSessions[userID])
}

// SessionCount returns the number of registered sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) joinLocked(id domain.SessionID, room domain.RoomID) {
	state, ok := r.sessions[id]
	if !ok {
		return
	}
	state.rooms[room] = struct{}{}
	if _, ok := r.roomMembers[room]; !ok {
		r.roomMembers[room] = make(map[domain.SessionID]struct{})
	}
	r.roomMembers[room][id] = struct{}{}
}

func (r *Registry) leaveLocked(id domain.SessionID, room domain.RoomID) {
	if state, ok := r.sessions[id]; ok {
		delete(state.rooms, room)
	}
	if members, ok := r.roomMembers[room]; ok {
		delete(members, id)
		// No empty sets left behind, they would leak over time.
		if len(members) == 0 {
			delete(r.roomMembers, room)
		}
	}
}
