// Package auth issues and verifies the bearer tokens that guard the API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "speech-translate-server"

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are carried by every issued token.
type Claims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// AuthToken signs and verifies client scoped JWT tokens.
type AuthToken struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewAuthToken builds a token helper using the provided secret.
func NewAuthToken(secretKey string) *AuthToken {
	return &AuthToken{
		secretKey: []byte(secretKey),
		ttl:       time.Hour,
		now:       time.Now,
	}
}

// WithTTL allows customising the expiration duration.
func (at *AuthToken) WithTTL(ttl time.Duration) *AuthToken {
	if ttl > 0 {
		at.ttl = ttl
	}
	return at
}

// GenerateToken issues a JWT for client.
func (at *AuthToken) GenerateToken(client string) (string, error) {
	if at == nil {
		return "", errors.New("auth token is nil")
	}
	if len(at.secretKey) == 0 {
		return "", errors.New("auth token secret is empty")
	}
	if client == "" {
		return "", errors.New("client name is required")
	}

	now := at.now()
	claims := Claims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   client,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(at.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(at.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates the JWT and returns its claims.
func (at *AuthToken) VerifyToken(tokenString string) (*Claims, error) {
	if at == nil {
		return nil, errors.New("auth token is nil")
	}
	if len(at.secretKey) == 0 {
		return nil, errors.New("auth token secret is empty")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return at.secretKey, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(at.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Client == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
