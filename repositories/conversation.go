//go:generate go run go.uber.org/mock/mockgen -source=conversation.go -destination=../mocks/mock_conversation_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"dm-relay/domain"
	"dm-relay/errors"
)

const (
	convKeyPrefix   = "conv:"
	convIDKeyPrefix = "convid:"

	// getOrCreate retries on transaction conflicts; more than a couple of
	// attempts means the same pair raced repeatedly and the existing row
	// is read on the next pass anyway.
	maxCreateAttempts = 3
)

// ConversationRepository stores two-party conversations keyed by their
// normalized participant pair. The pair key IS the uniqueness guarantee:
// "conv:{a|b}" with sorted ids admits a single row per unordered pair.
// A secondary "convid:{id}" index resolves lookups by conversation id.
type ConversationRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewConversationRepository(db *badger.DB, log *slog.Logger) *ConversationRepository {
	return &ConversationRepository{db: db, log: log}
}

type diskConversation struct {
	ID            string    `json:"id"`
	Participants  [2]string `json:"participants"`
	LastMessageID string    `json:"last_message_id"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// GetOrCreate returns the conversation for the unordered pair, creating it
// atomically when absent. Concurrent calls for the same pair race on the
// pair key inside Badger's SSI transactions: one commit wins, the losers
// observe ErrConflict and re-read the winner's row.
func (c *ConversationRepository) GetOrCreate(userA, userB string) (domain.Conversation, error) {
	if userA == "" || userB == "" {
		return domain.Conversation{}, fmt.Errorf("%w: empty participant id", errors.ErrValidation)
	}
	if userA == userB {
		return domain.Conversation{}, fmt.Errorf("%w: conversation with self", errors.ErrValidation)
	}

	pairKey := []byte(convKeyPrefix + domain.PairKey(userA, userB))

	var result diskConversation
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		err := c.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(pairKey)
			if err == nil {
				return item.Value(func(val []byte) error {
					return json.Unmarshal(val, &result)
				})
			}
			if !goerrors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			result = diskConversation{
				ID:           uuid.NewString(),
				Participants: sortedPair(userA, userB),
				CreatedAt:    time.Now().UTC(),
			}
			data, err := json.Marshal(result)
			if err != nil {
				return err
			}
			if err := txn.Set(pairKey, data); err != nil {
				return err
			}
			return txn.Set([]byte(convIDKeyPrefix+result.ID), []byte(domain.PairKey(userA, userB)))
		})
		if goerrors.Is(err, badger.ErrConflict) {
			c.log.Debug("conversation creation conflict, retrying",
				"pair", domain.PairKey(userA, userB))
			continue
		}
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("%w: %v", errors.ErrStorage, err)
		}
		return toConversation(result), nil
	}
	return domain.Conversation{}, fmt.Errorf("%w: conversation creation kept conflicting", errors.ErrStorage)
}

func (c *ConversationRepository) Get(conversationID string) (domain.Conversation, error) {
	var stored diskConversation
	err := c.db.View(func(txn *badger.Txn) error {
		return readConversation(txn, conversationID, &stored)
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Conversation{}, fmt.Errorf("%w: conversation %s", errors.ErrNotFound, conversationID)
	}
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return toConversation(stored), nil
}

// IsParticipant reports membership, with ErrNotFound when the conversation
// does not exist so callers can log the two cases distinctly.
func (c *ConversationRepository) IsParticipant(conversationID, userID string) (bool, error) {
	conversation, err := c.Get(conversationID)
	if err != nil {
		return false, err
	}
	return conversation.HasParticipant(userID), nil
}

// readConversation resolves the id index and loads the row inside txn.
func readConversation(txn *badger.Txn, conversationID string, out *diskConversation) error {
	idxItem, err := txn.Get([]byte(convIDKeyPrefix + conversationID))
	if err != nil {
		return err
	}
	var pairKey []byte
	if err := idxItem.Value(func(val []byte) error {
		pairKey = append([]byte(nil), val...)
		return nil
	}); err != nil {
		return err
	}
	item, err := txn.Get(append([]byte(convKeyPrefix), pairKey...))
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func sortedPair(userA, userB string) [2]string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return [2]string{userA, userB}
}

func toConversation(stored diskConversation) domain.Conversation {
	return domain.Conversation{
		ID:            stored.ID,
		Participants:  stored.Participants,
		LastMessageID: stored.LastMessageID,
		LastMessageAt: stored.LastMessageAt,
		CreatedAt:     stored.CreatedAt,
	}
}
