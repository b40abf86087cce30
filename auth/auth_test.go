package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"dm-relay/errors"
)

func Test_Generate_And_Verify_Token(t *testing.T) {
	req := require.New(t)
	service := NewTokenService("unit-test-secret", time.Hour)
	userID := uuid.NewString()

	// When a token is issued for a user
	token, err := service.Generate(userID)
	req.NoError(err)
	req.NotEmpty(token)

	// Then verification yields the same user id
	verifiedID, err := service.Verify(token)
	req.NoError(err)
	req.Equal(userID, verifiedID)
}

func Test_Verify_Expired_Token(t *testing.T) {
	req := require.New(t)
	service := NewTokenService("unit-test-secret", -time.Minute)

	// Given a token already past its expiration
	token, err := service.Generate(uuid.NewString())
	req.NoError(err)

	// When verifying it
	_, err = service.Verify(token)

	// Then the handshake error is surfaced
	req.ErrorIs(err, errors.ErrAuth)
}

func Test_Verify_Token_Signed_With_Other_Secret(t *testing.T) {
	req := require.New(t)
	issuer := NewTokenService("secret-one", time.Hour)
	verifier := NewTokenService("secret-two", time.Hour)

	token, err := issuer.Generate(uuid.NewString())
	req.NoError(err)

	_, err = verifier.Verify(token)
	req.ErrorIs(err, errors.ErrAuth)
}

func Test_Verify_Garbage_Token(t *testing.T) {
	req := require.New(t)
	service := NewTokenService("unit-test-secret", time.Hour)

	_, err := service.Verify("not-a-jwt")
	req.ErrorIs(err, errors.ErrAuth)
}
