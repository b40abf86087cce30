package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
)

type serviceCall struct {
	name string
	args []any
}

// fakeService records every call and hands the registered sink back to the
// test so it can push events at the write pump.
type fakeService struct {
	mu          sync.Mutex
	calls       []serviceCall
	sink        contract.EventSink
	rejectToken bool
}

func (f *fakeService) Connect(token string, sink contract.EventSink) (domain.SessionID, string, error) {
	if f.rejectToken {
		return "", "", errors.ErrAuth
	}
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	f.record("Connect", token)
	return "session-1", "user-1", nil
}

func (f *fakeService) Disconnect(sessionID domain.SessionID) {
	f.record("Disconnect", sessionID)
}

func (f *fakeService) JoinRoom(sessionID domain.SessionID, conversationID string) {
	f.record("JoinRoom", sessionID, conversationID)
}

func (f *fakeService) LeaveRoom(sessionID domain.SessionID, conversationID string) {
	f.record("LeaveRoom", sessionID, conversationID)
}

func (f *fakeService) SendMessage(sessionID domain.SessionID, senderID, conversationID, text string) {
	f.record("SendMessage", sessionID, senderID, conversationID, text)
}

func (f *fakeService) Typing(sessionID domain.SessionID, userID, conversationID string, started bool) {
	f.record("Typing", sessionID, userID, conversationID, started)
}

func (f *fakeService) MarkRead(sessionID domain.SessionID, readerID, messageID string) {
	f.record("MarkRead", sessionID, readerID, messageID)
}

func (f *fakeService) GetOrCreateConversation(userA, userB string) (domain.Conversation, error) {
	f.record("GetOrCreateConversation", userA, userB)
	return domain.Conversation{}, nil
}

func (f *fakeService) ListMessages(conversationID, userID string) ([]domain.Message, error) {
	f.record("ListMessages", conversationID, userID)
	return nil, nil
}

func (f *fakeService) record(name string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, serviceCall{name: name, args: args})
}

func (f *fakeService) callsNamed(name string) []serviceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []serviceCall
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeService) push(t *testing.T, e event.Event) {
	t.Helper()
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	require.NotNil(t, sink)
	require.NoError(t, sink.Consume(context.Background(), e))
}

func dial(t *testing.T, service *fakeService) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(NewServer(slog.Default(), service, 16, 2000))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=tok"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, eventName string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(Frame{Event: eventName, Data: raw})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func Test_Server_Rejects_Bad_Credential(t *testing.T) {
	req := require.New(t)
	service := &fakeService{rejectToken: true}
	server := httptest.NewServer(NewServer(slog.Default(), service, 16, 2000))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=bad"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	req.NoError(err)
	defer conn.Close()

	// One error frame, then the socket dies
	frame := readFrame(t, conn)
	req.Equal(string(event.KindError), frame.Event)

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err = conn.ReadMessage()
	req.Error(err)
	req.Empty(service.callsNamed("Disconnect"))
}

func Test_Server_Accepts_Bearer_Header_Credential(t *testing.T) {
	req := require.New(t)
	service := &fakeService{}
	server := httptest.NewServer(NewServer(slog.Default(), service, 16, 2000))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	header := http.Header{"Authorization": []string{"Bearer header-tok"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	req.NoError(err)
	defer conn.Close()

	req.Eventually(func() bool {
		calls := service.callsNamed("Connect")
		return len(calls) == 1 && calls[0].args[0] == "header-tok"
	}, 2*time.Second, 10*time.Millisecond)
}

func Test_Server_Writes_Sink_Events_As_Frames(t *testing.T) {
	req := require.New(t)
	service := &fakeService{}
	conn := dial(t, service)

	now := time.Now().UTC().Truncate(time.Millisecond)
	service.push(t, event.MessageCreated{
		Message: domain.Message{
			ID:             "m1",
			ConversationID: "c1",
			SenderID:       "user-2",
			Text:           "hello",
			CreatedAt:      now,
		},
		SenderName: "bob",
	})

	frame := readFrame(t, conn)
	req.Equal(string(event.KindMessageNew), frame.Event)

	var payload messagePayload
	req.NoError(json.Unmarshal(frame.Data, &payload))
	req.Equal("m1", payload.ID)
	req.Equal("c1", payload.ConversationID)
	req.Equal("bob", payload.SenderName)
	req.Equal("hello", payload.Text)
	req.False(payload.IsRead)
	req.True(payload.CreatedAt.Equal(now))
}

func Test_Server_Dispatches_Client_Frames(t *testing.T) {
	req := require.New(t)
	service := &fakeService{}
	conn := dial(t, service)

	writeFrame(t, conn, evtJoinRoom, roomPayload{ConversationID: "c1"})
	writeFrame(t, conn, evtMessageSend, sendPayload{ConversationID: "c1", Text: "hi"})
	writeFrame(t, conn, evtTypingStart, roomPayload{ConversationID: "c1"})
	writeFrame(t, conn, evtTypingStop, roomPayload{ConversationID: "c1"})
	writeFrame(t, conn, evtMessageRead, readPayload{MessageID: "m1"})
	writeFrame(t, conn, evtLeaveRoom, roomPayload{ConversationID: "c1"})

	req.Eventually(func() bool {
		return len(service.callsNamed("LeaveRoom")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sends := service.callsNamed("SendMessage")
	req.Len(sends, 1)
	req.Equal([]any{domain.SessionID("session-1"), "user-1", "c1", "hi"}, sends[0].args)

	typings := service.callsNamed("Typing")
	req.Len(typings, 2)
	req.Equal(true, typings[0].args[3])
	req.Equal(false, typings[1].args[3])

	reads := service.callsNamed("MarkRead")
	req.Len(reads, 1)
	req.Equal("m1", reads[0].args[2])
}

func Test_Server_Rejects_Invalid_Payload_With_Error_Frame(t *testing.T) {
	req := require.New(t)
	service := &fakeService{}
	conn := dial(t, service)

	// Missing conversationId fails validation
	writeFrame(t, conn, evtMessageSend, map[string]string{"text": "hi"})

	frame := readFrame(t, conn)
	req.Equal(string(event.KindError), frame.Event)
	req.Empty(service.callsNamed("SendMessage"))
}

func Test_Server_Rejects_Oversized_Text(t *testing.T) {
	req := require.New(t)
	service := &fakeService{}
	conn := dial(t, service)

	writeFrame(t, conn, evtMessageSend, sendPayload{
		ConversationID: "c1",
		Text:           strings.Repeat("a", 2001),
	})

	frame := readFrame(t, conn)
	req.Equal(string(event.KindError), frame.Event)
	req.Empty(service.callsNamed("SendMessage"))
}

func Test_Server_Rejects_Unknown_Event(t *testing.T) {
	req := require.New(t)
	service := &fakeService{}
	conn := dial(t, service)

	writeFrame(t, conn, "shrug", map[string]string{})

	frame := readFrame(t, conn)
	req.Equal(string(event.KindError), frame.Event)
}

func Test_Server_Disconnects_Once_On_Close(t *testing.T) {
	req := require.New(t)
	service := &fakeService{}
	conn := dial(t, service)

	req.Eventually(func() bool {
		return len(service.callsNamed("Connect")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	req.NoError(conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	req.Eventually(func() bool {
		return len(service.callsNamed("Disconnect")) == 1
	}, 2*time.Second, 10*time.Millisecond)
	req.Equal(domain.SessionID("session-1"), service.callsNamed("Disconnect")[0].args[0])
}
