package workers

import (
	"context"
	goerrors "errors"
	"log/slog"

	"github.com/abadojack/whatlanggo"

	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/domain/event"
	"dm-relay/errors"
	"dm-relay/moderation"
)

// ConversationWorker is the serialization point of one conversation.
// It drains that conversation's command channel alone, and persists a
// message strictly before emitting its broadcast event, so every
// participant observes message:new in commit order. No cross-conversation
// coordination exists or is needed.
type ConversationWorker struct {
	conversationID string
	commands       chan domain.Command
	events         chan event.Event
	oracle         contract.IMembershipOracle
	store          contract.IMessageStore
	users          contract.IUserStore
	moderator      *moderation.Moderator
	log            *slog.Logger
}

func NewConversationWorker(
	conversationID string,
	commands chan domain.Command,
	events chan event.Event,
	oracle contract.IMembershipOracle,
	store contract.IMessageStore,
	users contract.IUserStore,
	moderator *moderation.Moderator,
	log *slog.Logger,
) *ConversationWorker {
	return &ConversationWorker{
		conversationID: conversationID,
		commands:       commands,
		events:         events,
		oracle:         oracle,
		store:          store,
		users:          users,
		moderator:      moderator,
		log:            log,
	}
}

func (w *ConversationWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker", "conversation_id", w.conversationID)
			return ctx.Err()
		case cmd, ok := <-w.commands:
			if !ok {
				return nil
			}
			if sendCmd, ok := cmd.(domain.SendMessageCommand); ok {
				w.handleSend(ctx, sendCmd)
			}
		}
	}
}

func (w *ConversationWorker) handleSend(ctx context.Context, cmd domain.SendMessageCommand) {
	isParticipant, err := w.oracle.IsParticipant(cmd.ConversationID, cmd.SenderID)
	if err != nil {
		// Not-found and storage failures both stop here; the sender sees
		// the same scoped error either way, the logs tell them apart.
		if goerrors.Is(err, errors.ErrNotFound) {
			w.log.Info("send to unknown conversation",
				"conversation_id", cmd.ConversationID, "sender_id", cmd.SenderID)
		} else {
			w.log.Error("membership lookup failed",
				"conversation_id", cmd.ConversationID, "error", err)
		}
		w.reject(ctx, cmd.Origin, err)
		return
	}
	if !isParticipant {
		w.log.Info("send from non-participant",
			"conversation_id", cmd.ConversationID, "sender_id", cmd.SenderID)
		w.reject(ctx, cmd.Origin, errors.ErrForbidden)
		return
	}

	text := cmd.Text
	if w.moderator != nil {
		sanitized, matched := w.moderator.Censor(text)
		if len(matched) > 0 {
			info := whatlanggo.Detect(text)
			w.log.Info("censored message content",
				"conversation_id", cmd.ConversationID,
				"matches", len(matched),
				"language", info.Lang.Iso6391())
			text = sanitized
		}
	}

	message, err := w.store.Append(cmd.ConversationID, cmd.SenderID, text)
	if err != nil {
		w.log.Error("message append failed",
			"conversation_id", cmd.ConversationID, "error", err)
		w.reject(ctx, cmd.Origin, err)
		return
	}

	senderName := cmd.SenderID
	if sender, err := w.users.Get(cmd.SenderID); err == nil {
		senderName = sender.Username
	}

	// Blocking send: the event must enter the fan-out queue in commit order.
	select {
	case <-ctx.Done():
	case w.events <- event.MessageCreated{Message: message, SenderName: senderName}:
	}
}

func (w *ConversationWorker) reject(ctx context.Context, origin domain.SessionID, err error) {
	select {
	case <-ctx.Done():
	case w.events <- event.ScopedError{Target: origin, Message: errors.WireMessage(err)}:
	}
}
