// Package session owns authenticated-session lifecycle: it signs a JWT at
// login and validates it on every request. The signing secret lives on
// the Manager instance, passed in from config, so there is no ambient
// global session state.
package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/edustack/accessgate/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const issuer = "accessgate"

// ErrInvalidToken indicates the session token failed validation.
var ErrInvalidToken = errors.New("invalid session token")

// Claims are the JWT claims carried by a session token. Subject is the
// auth user ID; Email rides along so first-login resolution can provision
// a principal without a second lookup.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a Manager from session config.
func NewManager(cfg config.SessionConfig) *Manager {
	return &Manager{secret: []byte(cfg.JWTSecret), ttl: cfg.TTL}
}

// Issue signs a session token for the authenticated user.
func (m *Manager) Issue(authUserID uuid.UUID, email string) (string, time.Time, error) {
	now := time.Now().UTC()
	expires := now.Add(m.ttl)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   authUserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies the signature and required claims and returns the auth
// user identity.
func (m *Manager) Parse(token string) (uuid.UUID, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return uuid.Nil, "", ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	})
	if err != nil {
		return uuid.Nil, "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return uuid.Nil, "", ErrInvalidToken
	}
	if claims.Issuer != issuer {
		return uuid.Nil, "", ErrInvalidToken
	}
	authUserID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, "", ErrInvalidToken
	}
	return authUserID, claims.Email, nil
}
