package runtime

import (
	"context"
	goerrors "errors"
	"log/slog"
	"sync"
	"time"

	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"dm-relay/moderation"
	"dm-relay/runtime/workers"
)

// Broker orchestrates the realtime core: it authenticates incoming
// connections, binds them into rooms, and routes the client event types
// through membership checks, persistence and fan-out. It is constructed
// once and handed to every collaborator that needs to publish events;
// there is no ambient global instance.
type Broker struct {
	mu            sync.Mutex
	log           *slog.Logger
	supervisor    contract.ISupervisor
	registry      contract.IRegistry
	presence      *Presence
	verifier      contract.TokenVerifier
	oracle        contract.IMembershipOracle
	store         contract.IMessageStore
	users         contract.IUserStore
	moderator     *moderation.Moderator
	events        chan event.Event
	conversations map[string]chan domain.Command
	bufferSize    int
	sinkTimeout   time.Duration
	runCtx        context.Context
	runCancel     context.CancelFunc
}

func NewBroker(
	log *slog.Logger,
	supervisor contract.ISupervisor,
	registry contract.IRegistry,
	presence *Presence,
	verifier contract.TokenVerifier,
	oracle contract.IMembershipOracle,
	store contract.IMessageStore,
	users contract.IUserStore,
	moderator *moderation.Moderator,
	events chan event.Event,
	bufferSize int,
	sinkTimeout time.Duration,
) *Broker {
	return &Broker{
		runCtx:        context.Background(),
		runCancel:     func() {},
		log:           log,
		supervisor:    supervisor,
		registry:      registry,
		presence:      presence,
		verifier:      verifier,
		oracle:        oracle,
		store:         store,
		users:         users,
		moderator:     moderator,
		events:        events,
		conversations: make(map[string]chan domain.Command),
		bufferSize:    bufferSize,
		sinkTimeout:   sinkTimeout,
	}
}

// Start launches the fan-out under the supervisor and blocks until the
// context is canceled and every worker has exited. Connections must not be
// accepted before Start is running.
func (b *Broker) Start(ctx context.Context) error {
	b.mu.Lock()
	// Lazily spawned conversation workers share this context, so one
	// cancellation tears down the whole worker tree.
	b.runCtx, b.runCancel = context.WithCancel(ctx)
	runCtx := b.runCtx
	fanout := workers.NewEventFanout(b.log, b.registry, b.events, b.sinkTimeout)
	b.supervisor.Add(fanout)
	b.mu.Unlock()

	b.log.Info("Starting relay broker and supervised workers")
	b.supervisor.Run(runCtx)
	return nil
}

// Stop cancels the run context; Start returns once workers drain.
func (b *Broker) Stop() {
	b.log.Info("Requesting broker shutdown")
	b.mu.Lock()
	cancel := b.runCancel
	b.mu.Unlock()
	cancel()
}

// Connect performs the handshake: the credential is verified, the session
// registered (joining its own user room) and presence notified. A bad or
// expired token fails the connection immediately; there is no retry here.
func (b *Broker) Connect(token string, sink contract.EventSink) (domain.SessionID, string, error) {
	userID, err := b.verifier.Verify(token)
	if err != nil {
		b.log.Info("handshake rejected", "error", err)
		return "", "", err
	}

	sessionID := b.registry.Register(userID, sink)
	b.presence.Connected(userID, sessionID)
	b.log.Info("session connected", "user_id", userID, "session_id", sessionID)
	return sessionID, userID, nil
}

// Disconnect tears a session down. Idempotent: the transport calls it from
// a close-once path, but a second call finds nothing to undo.
func (b *Broker) Disconnect(sessionID domain.SessionID) {
	userID, ok := b.registry.Unregister(sessionID)
	if !ok {
		return
	}
	b.presence.Disconnected(userID, sessionID)
	b.log.Info("session disconnected", "user_id", userID, "session_id", sessionID)
}

// JoinConversation adds the session to a conversation's multicast group.
// No membership check here: authorization is enforced per message, so a
// join never fails but unauthorized actions inside the room do.
func (b *Broker) JoinConversation(sessionID domain.SessionID, conversationID string) {
	b.registry.JoinRoom(sessionID, domain.ConversationRoom(conversationID))
}

func (b *Broker) LeaveConversation(sessionID domain.SessionID, conversationID string) {
	b.registry.LeaveRoom(sessionID, domain.ConversationRoom(conversationID))
}

// SendMessage dispatches a send intent to the worker owning the target
// conversation. Validation, persistence and broadcast happen there, in
// order. A full command queue drops the event with a scoped error; the
// client may resubmit.
func (b *Broker) SendMessage(sessionID domain.SessionID, senderID, conversationID, text string) {
	cmd := domain.SendMessageCommand{
		Origin:         sessionID,
		SenderID:       senderID,
		ConversationID: conversationID,
		Text:           text,
		At:             time.Now().UTC(),
	}
	select {
	case b.conversationChannel(conversationID) <- cmd:
	default:
		b.log.Warn("conversation queue full, dropping send",
			"conversation_id", conversationID)
		b.emit(event.ScopedError{Target: sessionID, Message: errors.WireMessage(errors.ErrStorage)})
	}
}

// Typing relays a typing indicator to the conversation room, excluding the
// originating session. No persistence, no membership check, best effort.
// A stop lost to an abrupt disconnect is accepted as a known limitation.
func (b *Broker) Typing(sessionID domain.SessionID, userID, conversationID string, started bool) {
	if started {
		b.emit(event.TypingStarted{UserID: userID, ConversationID: conversationID, Origin: sessionID})
		return
	}
	b.emit(event.TypingStopped{UserID: userID, ConversationID: conversationID, Origin: sessionID})
}

// MarkRead applies the monotonic read transition and, when this call
// performed it, addresses the receipt to the sender's user room only: no
// other participant sees it.
func (b *Broker) MarkRead(sessionID domain.SessionID, readerID, messageID string) {
	message, err := b.store.Get(messageID)
	if err != nil {
		b.log.Info("read of unknown message", "message_id", messageID, "error", err)
		b.emit(event.ScopedError{Target: sessionID, Message: errors.WireMessage(err)})
		return
	}

	if err := b.requireParticipant(message.ConversationID, readerID); err != nil {
		b.emit(event.ScopedError{Target: sessionID, Message: errors.WireMessage(err)})
		return
	}

	updated, transitioned, err := b.store.MarkRead(messageID, readerID)
	if err != nil {
		b.log.Info("read transition rejected", "message_id", messageID, "error", err)
		b.emit(event.ScopedError{Target: sessionID, Message: errors.WireMessage(err)})
		return
	}
	if !transitioned {
		// Already read: no event re-emission.
		return
	}
	b.emit(event.MessageRead{
		MessageID: updated.ID,
		ReadAt:    *updated.ReadAt,
		SenderID:  updated.SenderID,
	})
}

// GetOrCreateConversation is the entry point for outer request/response
// glue (conversation bootstrap between two users).
func (b *Broker) GetOrCreateConversation(userA, userB string) (domain.Conversation, error) {
	return b.oracle.GetOrCreate(userA, userB)
}

// ListMessages returns a conversation's history to a verified participant.
func (b *Broker) ListMessages(conversationID, userID string) ([]domain.Message, error) {
	if err := b.requireParticipant(conversationID, userID); err != nil {
		return nil, err
	}
	return b.store.ListByConversation(conversationID)
}

// requireParticipant collapses not-found and non-membership into
// ErrForbidden for callers, logging the two cases distinctly.
func (b *Broker) requireParticipant(conversationID, userID string) error {
	isParticipant, err := b.oracle.IsParticipant(conversationID, userID)
	if err != nil {
		if goerrors.Is(err, errors.ErrNotFound) {
			b.log.Info("unknown conversation", "conversation_id", conversationID)
			return errors.ErrForbidden
		}
		return err
	}
	if !isParticipant {
		b.log.Info("non-participant access", "conversation_id", conversationID, "user_id", userID)
		return errors.ErrForbidden
	}
	return nil
}

// conversationChannel lazily creates the command channel and worker that
// serialize one conversation.
func (b *Broker) conversationChannel(conversationID string) chan domain.Command {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.conversations[conversationID]
	if !ok {
		ch = make(chan domain.Command, b.bufferSize)
		b.conversations[conversationID] = ch
		worker := workers.NewConversationWorker(conversationID, ch, b.events,
			b.oracle, b.store, b.users, b.moderator, b.log)
		b.supervisor.Start(b.runCtx, worker)
	}
	return ch
}

func (b *Broker) emit(e event.Event) {
	select {
	case b.events <- e:
	default:
		b.log.Warn("event channel full, dropping event", "kind", e.Kind())
	}
}
