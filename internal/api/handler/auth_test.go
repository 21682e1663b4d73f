package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/edustack/accessgate/internal/config"
	"github.com/edustack/accessgate/internal/session"
	"github.com/edustack/accessgate/internal/store/storetest"
	"github.com/edustack/accessgate/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

func newLoginFixture(t *testing.T) (http.HandlerFunc, *session.Manager, *storetest.Store) {
	t.Helper()
	st := storetest.New()
	sessions := session.NewManager(config.SessionConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		TTL:       time.Hour,
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse battery"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	hashStr := string(hash)
	st.Principals = append(st.Principals, &models.Principal{
		ID:           uuid.New(),
		AuthUserID:   uuid.New(),
		Email:        "staff@example.org",
		PasswordHash: &hashStr,
		Active:       true,
	})

	return NewLoginHandler(st, sessions), sessions, st
}

func TestLogin_Success(t *testing.T) {
	h, sessions, st := newLoginFixture(t)

	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/auth/login", map[string]string{
		"email":    "staff@example.org",
		"password": "correct horse battery",
	}))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	data := decodeData(t, rec)
	tok, _ := data["token"].(string)
	if tok == "" {
		t.Fatal("expected a session token")
	}

	authUserID, email, err := sessions.Parse(tok)
	if err != nil {
		t.Fatalf("parse issued session: %v", err)
	}
	if authUserID != st.Principals[0].AuthUserID || email != "staff@example.org" {
		t.Errorf("session identity mismatch: %s %s", authUserID, email)
	}
}

func TestLogin_Rejections(t *testing.T) {
	h, _, _ := newLoginFixture(t)

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"bad json", "{nope", http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing fields", `{"email":"staff@example.org"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown email", `{"email":"nobody@example.org","password":"x"}`, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"wrong password", `{"email":"staff@example.org","password":"wrong"}`, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tc.body))
			h(rec, r)
			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tc.wantStatus, rec.Code, rec.Body.String())
			}
			if code, _ := decodeError(t, rec); code != tc.wantCode {
				t.Errorf("expected %s, got %s", tc.wantCode, code)
			}
		})
	}
}

func TestLogin_NoPasswordOnAccount(t *testing.T) {
	st := storetest.New()
	sessions := session.NewManager(config.SessionConfig{
		JWTSecret: "0123456789abcdef0123456789abcdef",
		TTL:       time.Hour,
	})
	// SSO-only principal: no local password hash.
	st.Principals = append(st.Principals, &models.Principal{
		ID:         uuid.New(),
		AuthUserID: uuid.New(),
		Email:      "sso@example.org",
		Active:     true,
	})
	h := NewLoginHandler(st, sessions)

	rec := httptest.NewRecorder()
	h(rec, familyReq(t, "/api/v1/auth/login", map[string]string{
		"email":    "sso@example.org",
		"password": "anything",
	}))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}
