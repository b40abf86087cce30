package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"dm-relay/errors"
)

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService issues and verifies the credentials presented at handshake.
// The secret comes from configuration; token issuance lives here too so the
// external login collaborator and the tests share one claims shape.
type TokenService struct {
	secret   []byte
	duration time.Duration
}

func NewTokenService(secret string, duration time.Duration) *TokenService {
	return &TokenService{secret: []byte(secret), duration: duration}
}

// Generate creates a signed JWT for a specific user.
func (s *TokenService) Generate(userID string) (string, error) {
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "dm-relay",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates the signature and expiration of a JWT string
// and returns the user id it was issued for.
func (s *TokenService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrAuth, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", errors.ErrAuth
	}
	return claims.UserID, nil
}
