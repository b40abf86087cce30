//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"dm-relay/domain"
	"dm-relay/errors"
)

const (
	msgKeyPrefix   = "msg:"
	msgIDKeyPrefix = "msgid:"
)

// MessageRepository persists messages in BadgerDB.
// The key is formatted as "msg:{conversation_id}:{timestamp_padded}:{uuid}":
//  1. The 19-digit zero-padded timestamp makes lexicographic iteration
//     return messages in chronological order.
//  2. The UUID disambiguates two messages created at the same nanosecond.
//
// A secondary "msgid:{uuid}" index maps a message id to its full key for
// read-transition lookups.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

type diskMessage struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Text           string     `json:"text"`
	CreatedAt      time.Time  `json:"created_at"`
	Read           bool       `json:"read"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
}

// Append durably stores a message and updates the owning conversation's
// last-message pointer and last-activity timestamp in the same transaction,
// so no reader ever observes one without the other.
func (m *MessageRepository) Append(conversationID, senderID, text string) (domain.Message, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Message{}, fmt.Errorf("%w: empty message text", errors.ErrValidation)
	}

	stored := diskMessage{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		CreatedAt:      time.Now().UTC(),
	}

	err := m.db.Update(func(txn *badger.Txn) error {
		var conversation diskConversation
		if err := readConversation(txn, conversationID, &conversation); err != nil {
			return err
		}
		if conversation.Participants[0] != senderID && conversation.Participants[1] != senderID {
			return errors.ErrForbidden
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		key := messageKey(stored)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		if err := txn.Set([]byte(msgIDKeyPrefix+stored.ID), key); err != nil {
			return err
		}

		conversation.LastMessageID = stored.ID
		conversation.LastMessageAt = stored.CreatedAt
		convData, err := json.Marshal(conversation)
		if err != nil {
			return err
		}
		pair := domain.PairKey(conversation.Participants[0], conversation.Participants[1])
		return txn.Set([]byte(convKeyPrefix+pair), convData)
	})
	if err != nil {
		return domain.Message{}, mapStorageErr(err)
	}
	return toMessage(stored), nil
}

// MarkRead applies the monotonic unread-to-read transition. The second
// return reports whether this call performed it: an already-read message
// returns its current state and false, which is what keeps receipt
// emission at most once per message.
func (m *MessageRepository) MarkRead(messageID, readerID string) (domain.Message, bool, error) {
	var stored diskMessage
	transitioned := false
	err := m.db.Update(func(txn *badger.Txn) error {
		key, err := resolveMessageKey(txn, messageID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}

		if stored.SenderID == readerID {
			return fmt.Errorf("%w: sender cannot read own message", errors.ErrForbidden)
		}
		if stored.Read {
			return nil
		}

		now := time.Now().UTC()
		stored.Read = true
		stored.ReadAt = &now
		transitioned = true
		data, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.Message{}, false, mapStorageErr(err)
	}
	return toMessage(stored), transitioned, nil
}

func (m *MessageRepository) Get(messageID string) (domain.Message, error) {
	var stored diskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		key, err := resolveMessageKey(txn, messageID)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		return domain.Message{}, mapStorageErr(err)
	}
	return toMessage(stored), nil
}

// ListByConversation returns all messages of a conversation in creation
// order. Thanks to the padded timestamp in the key, a forward prefix scan
// is already sorted.
func (m *MessageRepository) ListByConversation(conversationID string) ([]domain.Message, error) {
	var records []diskMessage
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("%s%s:", msgKeyPrefix, conversationID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var stored diskMessage
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if err != nil {
				return err
			}
			records = append(records, stored)
		}
		return nil
	})
	if err != nil {
		return nil, mapStorageErr(err)
	}
	return lo.Map(records, func(item diskMessage, _ int) domain.Message {
		return toMessage(item)
	}), nil
}

func resolveMessageKey(txn *badger.Txn, messageID string) ([]byte, error) {
	item, err := txn.Get([]byte(msgIDKeyPrefix + messageID))
	if err != nil {
		return nil, err
	}
	var key []byte
	if err := item.Value(func(val []byte) error {
		key = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return nil, err
	}
	return key, nil
}

func messageKey(stored diskMessage) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d:%s",
		msgKeyPrefix,
		stored.ConversationID,
		stored.CreatedAt.UnixNano(),
		stored.ID,
	))
}

// mapStorageErr keeps domain sentinels intact and folds everything else,
// including missing keys, into the relay taxonomy.
func mapStorageErr(err error) error {
	switch {
	case goerrors.Is(err, errors.ErrForbidden),
		goerrors.Is(err, errors.ErrNotFound),
		goerrors.Is(err, errors.ErrValidation):
		return err
	case goerrors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: %v", errors.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
}

func toMessage(stored diskMessage) domain.Message {
	return domain.Message{
		ID:             stored.ID,
		ConversationID: stored.ConversationID,
		SenderID:       stored.SenderID,
		Text:           stored.Text,
		CreatedAt:      stored.CreatedAt,
		Read:           stored.Read,
		ReadAt:         stored.ReadAt,
	}
}
