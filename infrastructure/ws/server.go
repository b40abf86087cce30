package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"dm-relay/services"
	"dm-relay/sink"
)

// Server upgrades HTTP requests into relay sessions. Per connection it runs
// a read pump (decoding and dispatching client events) and a write pump
// (draining the session sink onto the wire).
type Server struct {
	log              *slog.Logger
	service          services.IChatService
	validate         *validator.Validate
	upgrader         websocket.Upgrader
	bufferSize       int
	maxContentLength int
}

func NewServer(log *slog.Logger, service services.IChatService,
	bufferSize, maxContentLength int) *Server {
	return &Server{
		log:      log,
		service:  service,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks belong to the HTTP layer in front of the relay.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		bufferSize:       bufferSize,
		maxContentLength: maxContentLength,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade failed", "error", err)
		return
	}
	conn := newConnection(wsConn, s.log)
	sessionSink := sink.NewSessionSink(s.log, s.bufferSize)

	// Handshake: Connecting -> Authenticated. A bad credential gets one
	// error frame and the socket is closed, no retry.
	sessionID, userID, err := s.service.Connect(credential(r), sessionSink)
	if err != nil {
		if frame, encErr := encodeEvent(event.ScopedError{
			Message: errors.WireMessage(err),
		}); encErr == nil {
			_ = wsConn.WriteMessage(websocket.TextMessage, frame)
		}
		conn.close(websocket.ClosePolicyViolation, "authentication failed")
		return
	}

	go s.writeLoop(conn, sessionSink)
	s.readLoop(conn, sessionSink, sessionID, userID)

	// Abrupt termination and clean close land here alike: the disconnect
	// path runs exactly once per session.
	s.service.Disconnect(sessionID)
	conn.close(websocket.CloseNormalClosure, "bye")
}

// credential extracts the handshake token from the query string or the
// Authorization header.
func credential(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) writeLoop(conn *connection, sessionSink *sink.SessionSink) {
	frames := make(chan []byte, s.bufferSize)
	go conn.writePump(frames)

	for {
		select {
		case <-conn.done:
			return
		case evt := <-sessionSink.Events:
			frame, err := encodeEvent(evt)
			if err != nil {
				s.log.Error("event encoding failed", "kind", evt.Kind(), "error", err)
				continue
			}
			select {
			case frames <- frame:
			case <-conn.done:
				return
			}
		}
	}
}

func (s *Server) readLoop(conn *connection, sessionSink *sink.SessionSink,
	sessionID domain.SessionID, userID string) {
	conn.ws.SetReadLimit(maxFrameSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			s.log.Debug("read loop ended", "session_id", sessionID, "error", err)
			return
		}
		s.dispatch(data, sessionSink, sessionID, userID)
	}
}

// dispatch decodes one client frame and routes it. Failures never escape:
// they become scoped error events on this session's sink alone.
func (s *Server) dispatch(data []byte, sessionSink *sink.SessionSink,
	sessionID domain.SessionID, userID string) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.reject(sessionSink, sessionID, errors.ErrValidation)
		return
	}

	switch frame.Event {
	case evtJoinRoom:
		var payload roomPayload
		if !s.decode(frame.Data, &payload, sessionSink, sessionID) {
			return
		}
		s.service.JoinRoom(sessionID, payload.ConversationID)
	case evtLeaveRoom:
		var payload roomPayload
		if !s.decode(frame.Data, &payload, sessionSink, sessionID) {
			return
		}
		s.service.LeaveRoom(sessionID, payload.ConversationID)
	case evtMessageSend:
		var payload sendPayload
		if !s.decode(frame.Data, &payload, sessionSink, sessionID) {
			return
		}
		if len(payload.Text) > s.maxContentLength {
			s.reject(sessionSink, sessionID, errors.ErrValidation)
			return
		}
		s.service.SendMessage(sessionID, userID, payload.ConversationID, payload.Text)
	case evtTypingStart, evtTypingStop:
		var payload roomPayload
		if !s.decode(frame.Data, &payload, sessionSink, sessionID) {
			return
		}
		s.service.Typing(sessionID, userID, payload.ConversationID, frame.Event == evtTypingStart)
	case evtMessageRead:
		var payload readPayload
		if !s.decode(frame.Data, &payload, sessionSink, sessionID) {
			return
		}
		s.service.MarkRead(sessionID, userID, payload.MessageID)
	default:
		s.log.Debug("unknown client event", "event", frame.Event)
		s.reject(sessionSink, sessionID, errors.ErrValidation)
	}
}

func (s *Server) decode(raw json.RawMessage, payload any,
	sessionSink *sink.SessionSink, sessionID domain.SessionID) bool {
	if err := json.Unmarshal(raw, payload); err != nil {
		s.reject(sessionSink, sessionID, errors.ErrValidation)
		return false
	}
	if err := s.validate.Struct(payload); err != nil {
		s.reject(sessionSink, sessionID, errors.ErrValidation)
		return false
	}
	return true
}

// reject short-circuits the fan-out: the error concerns this session only
// and its sink is right here.
func (s *Server) reject(sessionSink *sink.SessionSink, sessionID domain.SessionID, err error) {
	_ = sessionSink.Consume(context.Background(), event.ScopedError{
		Target:  sessionID,
		Message: errors.WireMessage(err),
	})
}
