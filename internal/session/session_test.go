package session

import (
	"testing"
	"time"

	"github.com/edustack/accessgate/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(config.SessionConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		TTL:       ttl,
	})
}

func TestIssueAndParse(t *testing.T) {
	m := newTestManager(time.Hour)
	authUserID := uuid.New()

	token, expires, err := m.Issue(authUserID, "user@example.org")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, 5*time.Second)

	gotID, gotEmail, err := m.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, authUserID, gotID)
	assert.Equal(t, "user@example.org", gotEmail)
}

func TestParse_Invalid(t *testing.T) {
	m := newTestManager(time.Hour)

	_, _, err := m.Parse("")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, _, err = m.Parse("not.a.jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_WrongSecret(t *testing.T) {
	m := newTestManager(time.Hour)
	token, _, err := m.Issue(uuid.New(), "user@example.org")
	require.NoError(t, err)

	other := NewManager(config.SessionConfig{
		JWTSecret: "ffffffffffffffffffffffffffffffff",
		TTL:       time.Hour,
	})
	_, _, err = other.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_Expired(t *testing.T) {
	m := newTestManager(-time.Minute)
	token, _, err := m.Issue(uuid.New(), "user@example.org")
	require.NoError(t, err)

	_, _, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_RejectsWrongSigningMethod(t *testing.T) {
	m := newTestManager(time.Hour)

	// A token with alg none must never verify.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accessgate",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, _, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParse_RejectsForeignIssuer(t *testing.T) {
	m := newTestManager(time.Hour)

	claims := Claims{
		Email: "user@example.org",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	_, _, err = m.Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
