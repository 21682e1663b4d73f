package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/audit"
	"github.com/edustack/accessgate/internal/session"
	"github.com/edustack/accessgate/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// NewLoginHandler returns the handler for POST /api/v1/auth/login.
// Locally-managed staff accounts authenticate with email and password;
// success issues a session token.
func NewLoginHandler(s store.Store, sessions *session.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Email == "" || req.Password == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "email and password are required", nil)
			return
		}

		principal, err := s.GetPrincipalByEmail(r.Context(), req.Email)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Login failed", nil)
			return
		}
		if principal.PasswordHash == nil ||
			bcrypt.CompareHashAndPassword([]byte(*principal.PasswordHash), []byte(req.Password)) != nil {
			response.Error(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password", nil)
			return
		}

		tokenStr, expiresAt, err := sessions.Issue(principal.AuthUserID, principal.Email)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Login failed", nil)
			return
		}

		audit.Event(r.Context(), "session.login", "principal_id", principal.ID)
		response.JSON(w, map[string]any{
			"token":      tokenStr,
			"expires_at": expiresAt,
		})
	}
}
