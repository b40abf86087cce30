package repositories

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"dm-relay/errors"
)

func openTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func Test_GetOrCreate_Creates_Then_Returns_Existing(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openTestDB(t), slog.Default())
	alice, bob := uuid.NewString(), uuid.NewString()

	// When the pair first meets
	created, err := repository.GetOrCreate(alice, bob)
	req.NoError(err)
	req.NotEmpty(created.ID)
	req.True(created.HasParticipant(alice))
	req.True(created.HasParticipant(bob))

	// Then a second call returns the same conversation
	again, err := repository.GetOrCreate(alice, bob)
	req.NoError(err)
	req.Equal(created.ID, again.ID)
}

func Test_GetOrCreate_Is_Unordered(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openTestDB(t), slog.Default())
	alice, bob := uuid.NewString(), uuid.NewString()

	first, err := repository.GetOrCreate(alice, bob)
	req.NoError(err)

	// GetOrCreate(B, A) must resolve to the same row as GetOrCreate(A, B)
	second, err := repository.GetOrCreate(bob, alice)
	req.NoError(err)
	req.Equal(first.ID, second.ID)
}

func Test_GetOrCreate_Concurrent_Calls_Create_One_Row(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openTestDB(t), slog.Default())
	alice, bob := uuid.NewString(), uuid.NewString()

	const callers = 16
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		a, b := alice, bob
		if i%2 == 1 {
			a, b = bob, alice
		}
		go func() {
			defer wg.Done()
			conversation, err := repository.GetOrCreate(a, b)
			require.NoError(t, err)
			ids <- conversation.ID
		}()
	}
	wg.Wait()
	close(ids)

	// Then every caller observed the same single conversation
	var unique string
	for id := range ids {
		if unique == "" {
			unique = id
		}
		req.Equal(unique, id)
	}
}

func Test_GetOrCreate_Rejects_Invalid_Pairs(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openTestDB(t), slog.Default())
	alice := uuid.NewString()

	_, err := repository.GetOrCreate(alice, alice)
	req.ErrorIs(err, errors.ErrValidation)

	_, err = repository.GetOrCreate(alice, "")
	req.ErrorIs(err, errors.ErrValidation)
}

func Test_IsParticipant(t *testing.T) {
	req := require.New(t)
	repository := NewConversationRepository(openTestDB(t), slog.Default())
	alice, bob, mallory := uuid.NewString(), uuid.NewString(), uuid.NewString()

	conversation, err := repository.GetOrCreate(alice, bob)
	req.NoError(err)

	ok, err := repository.IsParticipant(conversation.ID, alice)
	req.NoError(err)
	req.True(ok)

	ok, err = repository.IsParticipant(conversation.ID, mallory)
	req.NoError(err)
	req.False(ok)

	// A conversation that does not exist is reported as ErrNotFound, so the
	// caller can log it apart from a plain authorization failure.
	_, err = repository.IsParticipant(uuid.NewString(), alice)
	req.ErrorIs(err, errors.ErrNotFound)
}
