package middleware

import (
	"context"
	"net/http"

	"github.com/edustack/accessgate/internal/gate"
)

type contextKey string

const principalContextKey contextKey = "principal_context"

// SetPrincipal attaches the resolved principal context to the request
// context. Exported for handler tests.
func SetPrincipal(ctx context.Context, pc *gate.PrincipalContext) context.Context {
	return context.WithValue(ctx, principalContextKey, pc)
}

// GetPrincipal returns the principal context resolved by the auth
// middleware.
func GetPrincipal(r *http.Request) (*gate.PrincipalContext, bool) {
	pc, ok := r.Context().Value(principalContextKey).(*gate.PrincipalContext)
	return pc, ok && pc != nil
}
