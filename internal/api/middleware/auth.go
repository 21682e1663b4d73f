package middleware

import (
	"net/http"
	"strings"

	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/gate"
	"github.com/edustack/accessgate/internal/session"
)

// Auth validates the session token and resolves the caller into a
// principal context via the access gate.
type Auth struct {
	sessions *session.Manager
	gate     *gate.Gate
}

// NewAuth creates the auth middleware.
func NewAuth(sessions *session.Manager, g *gate.Gate) *Auth {
	return &Auth{sessions: sessions, gate: g}
}

// Authenticate validates the Bearer session token, resolves the principal
// context, and stores it in the request context. Resolution alone does
// not imply access: inactive or unscoped principals pass through here and
// are stopped by RequireCapability.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHENTICATED", "Missing or invalid Authorization header", nil)
			return
		}

		authUserID, email, err := a.sessions.Parse(raw)
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"UNAUTHENTICATED", "Invalid session token", nil)
			return
		}

		pc, err := a.gate.Resolve(r.Context(), authUserID, email)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to resolve principal", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetPrincipal(r.Context(), pc)))
	})
}

// RequireCapability returns middleware that authorizes the capability
// against the resolved principal. Deny reasons map to distinct error
// codes because the user-facing remediation differs.
func (a *Auth) RequireCapability(capability gate.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pc, ok := GetPrincipal(r)
			if !ok {
				response.Error(w, http.StatusUnauthorized,
					"UNAUTHENTICATED", "No authenticated principal", nil)
				return
			}

			decision := a.gate.Authorize(pc, capability)
			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			switch decision.Reason {
			case gate.DenyInactive:
				response.Error(w, http.StatusForbidden,
					"PENDING_APPROVAL", "Account is awaiting administrative approval", nil)
			case gate.DenyScopeMissing:
				response.Error(w, http.StatusForbidden,
					"SCOPE_MISSING", "Account has no school or network assigned", nil)
			default:
				response.Error(w, http.StatusForbidden,
					"FORBIDDEN", "Insufficient permissions", nil)
			}
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
