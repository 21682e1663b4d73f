// Package audit emits structured audit entries for security-relevant
// actions. Entries go to the process log stream tagged type=audit so they
// can be filtered into long-term retention downstream.
package audit

import (
	"context"
	"log/slog"
	"time"
)

type ctxKey struct{}

// WithRequestID attaches the request identifier to the context so audit
// entries can be correlated with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}

// Event writes one audit entry. Attrs follow slog key/value convention.
func Event(ctx context.Context, event string, attrs ...any) {
	base := []any{
		slog.String("type", "audit"),
		slog.String("event", event),
		slog.Time("at", time.Now().UTC()),
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		base = append(base, slog.String("request_id", rid))
	}
	slog.Info("audit", append(base, attrs...)...)
}
