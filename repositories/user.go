//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"dm-relay/domain"
	"dm-relay/errors"
)

const userKeyPrefix = "user:"

// UserRepository persists user identity and presence fields in BadgerDB.
// The relay never deletes users; account lifecycle belongs to collaborators.
type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db}
}

type diskUser struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

func (u *UserRepository) Get(userID string) (domain.User, error) {
	var stored diskUser
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userKeyPrefix + userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return domain.User{}, fmt.Errorf("%w: user %s", errors.ErrNotFound, userID)
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return toUser(stored), nil
}

func (u *UserRepository) Save(user domain.User) error {
	data, err := json.Marshal(fromUser(user))
	if err != nil {
		return err
	}
	err = u.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(userKeyPrefix+user.ID), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return nil
}

// SetOnline marks the user online without touching LastSeen.
func (u *UserRepository) SetOnline(userID string) error {
	return u.mutate(userID, func(user *domain.User) {
		user.Online = true
	})
}

// SetOffline marks the user offline and stamps the given last-seen time.
func (u *UserRepository) SetOffline(userID string, lastSeen time.Time) error {
	return u.mutate(userID, func(user *domain.User) {
		user.Online = false
		user.LastSeen = lastSeen
	})
}

func (u *UserRepository) mutate(userID string, apply func(*domain.User)) error {
	err := u.db.Update(func(txn *badger.Txn) error {
		key := []byte(userKeyPrefix + userID)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var stored diskUser
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		}); err != nil {
			return err
		}
		user := toUser(stored)
		apply(&user)
		data, err := json.Marshal(fromUser(user))
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if goerrors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: user %s", errors.ErrNotFound, userID)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errors.ErrStorage, err)
	}
	return nil
}

func fromUser(user domain.User) diskUser {
	return diskUser{
		ID:       user.ID,
		Username: user.Username,
		Online:   user.Online,
		LastSeen: user.LastSeen,
	}
}

func toUser(stored diskUser) domain.User {
	return domain.User{
		ID:       stored.ID,
		Username: stored.Username,
		Online:   stored.Online,
		LastSeen: stored.LastSeen,
	}
}
