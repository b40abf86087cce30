package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
)

type recordSink struct {
	mu     sync.Mutex
	events []event.Event
	block  bool
}

func (s *recordSink) Consume(ctx context.Context, e event.Event) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordSink) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

// stubRegistry resolves every scope from fixed session->sink and
// room membership tables.
type stubRegistry struct {
	sinks map[domain.SessionID]contract.EventSink
	rooms map[domain.RoomID][]domain.SessionID
}

func (r *stubRegistry) Register(string, contract.EventSink) domain.SessionID { return "" }
func (r *stubRegistry) Unregister(domain.SessionID) (string, bool)           { return "", false }
func (r *stubRegistry) JoinRoom(domain.SessionID, domain.RoomID)             {}
func (r *stubRegistry) LeaveRoom(domain.SessionID, domain.RoomID)            {}
func (r *stubRegistry) ConnectionsFor(string) int                            { return 0 }

func (r *stubRegistry) SinksFor(room domain.RoomID) []contract.EventSink {
	return r.SinksForExcept(room, "")
}

func (r *stubRegistry) SinksForExcept(room domain.RoomID, origin domain.SessionID) []contract.EventSink {
	var sinks []contract.EventSink
	for _, id := range r.rooms[room] {
		if id == origin {
			continue
		}
		sinks = append(sinks, r.sinks[id])
	}
	return sinks
}

func (r *stubRegistry) SinksExcept(origin domain.SessionID) []contract.EventSink {
	var sinks []contract.EventSink
	for id, sink := range r.sinks {
		if id == origin {
			continue
		}
		sinks = append(sinks, sink)
	}
	return sinks
}

func (r *stubRegistry) SinkOf(id domain.SessionID) (contract.EventSink, bool) {
	sink, ok := r.sinks[id]
	return sink, ok
}

func Test_Fanout_Room_Scope_Reaches_Every_Member(t *testing.T) {
	req := require.New(t)

	room := domain.ConversationRoom("conv-1")
	first, second, outsider := &recordSink{}, &recordSink{}, &recordSink{}
	registry := &stubRegistry{
		sinks: map[domain.SessionID]contract.EventSink{"s1": first, "s2": second, "s3": outsider},
		rooms: map[domain.RoomID][]domain.SessionID{room: {"s1", "s2"}},
	}
	fanout := NewEventFanout(slog.Default(), registry, nil, time.Second)

	fanout.Fanout(context.Background(), event.MessageCreated{
		Message: domain.Message{ID: "m1", ConversationID: "conv-1"},
	})

	req.Len(first.Events(), 1)
	req.Len(second.Events(), 1)
	req.Empty(outsider.Events())
}

func Test_Fanout_Room_Except_Origin_Skips_Originating_Session(t *testing.T) {
	req := require.New(t)

	room := domain.ConversationRoom("conv-1")
	origin, peer := &recordSink{}, &recordSink{}
	registry := &stubRegistry{
		sinks: map[domain.SessionID]contract.EventSink{"s1": origin, "s2": peer},
		rooms: map[domain.RoomID][]domain.SessionID{room: {"s1", "s2"}},
	}
	fanout := NewEventFanout(slog.Default(), registry, nil, time.Second)

	fanout.Fanout(context.Background(), event.TypingStarted{
		ConversationID: "conv-1", UserID: "alice", Origin: "s1",
	})

	req.Empty(origin.Events())
	req.Len(peer.Events(), 1)
}

func Test_Fanout_Session_Scope_Targets_One_Sink(t *testing.T) {
	req := require.New(t)

	target, other := &recordSink{}, &recordSink{}
	registry := &stubRegistry{
		sinks: map[domain.SessionID]contract.EventSink{"s1": target, "s2": other},
	}
	fanout := NewEventFanout(slog.Default(), registry, nil, time.Second)

	fanout.Fanout(context.Background(), event.ScopedError{Target: "s1", Message: "access denied"})

	req.Len(target.Events(), 1)
	req.Empty(other.Events())

	// An unknown target is dropped without delivering anywhere
	fanout.Fanout(context.Background(), event.ScopedError{Target: "gone", Message: "access denied"})
	req.Len(target.Events(), 1)
	req.Empty(other.Events())
}

func Test_Fanout_Slow_Sink_Does_Not_Stall_Others(t *testing.T) {
	req := require.New(t)

	room := domain.ConversationRoom("conv-1")
	stuck := &recordSink{block: true}
	healthy := &recordSink{}
	registry := &stubRegistry{
		sinks: map[domain.SessionID]contract.EventSink{"s1": stuck, "s2": healthy},
		rooms: map[domain.RoomID][]domain.SessionID{room: {"s1", "s2"}},
	}
	fanout := NewEventFanout(slog.Default(), registry, nil, 20*time.Millisecond)

	start := time.Now()
	fanout.Fanout(context.Background(), event.MessageCreated{
		Message: domain.Message{ID: "m1", ConversationID: "conv-1"},
	})

	// The stuck sink burns only its own delivery timeout
	req.Less(time.Since(start), 500*time.Millisecond)
	req.Len(healthy.Events(), 1)
}

func Test_Fanout_Run_Drains_Channel_Until_Cancel(t *testing.T) {
	req := require.New(t)

	room := domain.ConversationRoom("conv-1")
	sink := &recordSink{}
	registry := &stubRegistry{
		sinks: map[domain.SessionID]contract.EventSink{"s1": sink},
		rooms: map[domain.RoomID][]domain.SessionID{room: {"s1"}},
	}
	events := make(chan event.Event, 4)
	fanout := NewEventFanout(slog.Default(), registry, events, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fanout.Run(ctx) }()

	events <- event.MessageCreated{Message: domain.Message{ID: "m1", ConversationID: "conv-1"}}
	events <- event.MessageCreated{Message: domain.Message{ID: "m2", ConversationID: "conv-1"}}

	req.Eventually(func() bool { return len(sink.Events()) == 2 }, time.Second, 5*time.Millisecond)
	req.Equal("m1", sink.Events()[0].(event.MessageCreated).Message.ID)

	cancel()
	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		t.Fatal("fanout did not stop on cancel")
	}
}
