//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"reflect"
	"time"

	"dm-relay/domain"
	"dm-relay/domain/event"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

// Worker doesn't protect itself: panics and restarts are the
// supervisor's problem, not the worker's.
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// Used for logging and supervision, avoiding manual naming in the interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// EventSink receives events bound for one session.
type EventSink interface {
	Consume(ctx context.Context, e event.Event) error
}

// IRegistry maps authenticated users to their live sessions and tracks
// room membership. Safe for concurrent use.
type IRegistry interface {
	Register(userID string, sink EventSink) domain.SessionID
	Unregister(id domain.SessionID) (string, bool)
	JoinRoom(id domain.SessionID, room domain.RoomID)
	LeaveRoom(id domain.SessionID, room domain.RoomID)
	SinksFor(room domain.RoomID) []EventSink
	SinksForExcept(room domain.RoomID, origin domain.SessionID) []EventSink
	SinksExcept(origin domain.SessionID) []EventSink
	SinkOf(id domain.SessionID) (EventSink, bool)
	ConnectionsFor(userID string) int
}

// IMembershipOracle answers conversation membership questions against
// persisted state.
type IMembershipOracle interface {
	// IsParticipant returns errors.ErrNotFound when the conversation does
	// not exist. Callers surface both not-found and false the same way to
	// avoid leaking existence.
	IsParticipant(conversationID, userID string) (bool, error)
	GetOrCreate(userA, userB string) (domain.Conversation, error)
	Get(conversationID string) (domain.Conversation, error)
}

// IMessageStore is the durable append/read side of the relay.
type IMessageStore interface {
	Append(conversationID, senderID, text string) (domain.Message, error)
	// MarkRead reports through its second return whether this call performed
	// the unread-to-read transition. Already-read messages return false and
	// no error.
	MarkRead(messageID, readerID string) (domain.Message, bool, error)
	Get(messageID string) (domain.Message, error)
	ListByConversation(conversationID string) ([]domain.Message, error)
}

// IUserStore is the presence-facing slice of user storage.
type IUserStore interface {
	Get(userID string) (domain.User, error)
	Save(user domain.User) error
	SetOnline(userID string) error
	SetOffline(userID string, lastSeen time.Time) error
}

// TokenVerifier is the identity collaborator consulted at handshake.
type TokenVerifier interface {
	Verify(token string) (userID string, err error)
}
