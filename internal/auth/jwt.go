// Package auth verifies bearer tokens issued by the identity provider.
// Tokens are HS256 JWTs signed with a secret shared with that provider.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/ammar1510/chatsync/internal/logger"
	"github.com/ammar1510/chatsync/internal/models"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrMissingKey   = errors.New("signing key is empty")

	log = logger.New("auth")
)

// DefaultTTL is the lifetime of tokens minted by Issue
const DefaultTTL = 24 * time.Hour

// Claims represents the claims in the JWT
type Claims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates tokens against one key and optional issuer
type Verifier struct {
	key    []byte
	issuer string
}

func NewVerifier(key []byte, issuer string) (*Verifier, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	return &Verifier{key: key, issuer: issuer}, nil
}

// Issue mints a token for p. The server never calls this; it exists for
// development tooling and tests standing in for the identity provider.
func (v *Verifier) Issue(p *models.Participant, ttl time.Duration) (string, time.Time, error) {
	if p == nil {
		return "", time.Time{}, errors.New("participant cannot be nil")
	}
	if p.ID == uuid.Nil {
		return "", time.Time{}, errors.New("participant ID cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	expirationTime := now.Add(ttl)

	claims := &Claims{
		UserID: p.ID.String(),
		Name:   p.DisplayName,
		Email:  p.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Issuer:    v.issuer,
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(v.key)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expirationTime, nil
}

// Validate parses a token and returns its claims
func (v *Verifier) Validate(tokenString string) (*Claims, error) {
	// Safe logging of token preview
	if len(tokenString) > 10 {
		log.Debug("Validating token: %s...", tokenString[:10])
	} else if len(tokenString) == 0 {
		log.Warn("Validating empty token")
		return nil, ErrInvalidToken
	}

	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Check signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			log.Error("Unexpected signing method: %v", token.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	})

	if err != nil {
		log.Debug("Token validation error: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if !token.Valid {
		log.Warn("Token is invalid")
		return nil, ErrInvalidToken
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		log.Warn("Token issuer %q does not match %q", claims.Issuer, v.issuer)
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	return claims, nil
}

// UserID extracts the participant ID from claims
func UserID(claims *Claims) (uuid.UUID, error) {
	if claims == nil {
		return uuid.Nil, errors.New("claims cannot be nil")
	}
	return uuid.Parse(claims.UserID)
}

// Participant builds a roster entry from the identity carried by claims
func Participant(claims *Claims) (*models.Participant, error) {
	id, err := UserID(claims)
	if err != nil {
		return nil, err
	}
	return &models.Participant{ID: id, DisplayName: claims.Name, Email: claims.Email}, nil
}
