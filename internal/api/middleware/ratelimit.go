package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/edustack/accessgate/internal/api/response"
	"github.com/edustack/accessgate/internal/cache"
)

const defaultAttemptsPerMinute = 10

// FamilyRateLimit throttles the unauthenticated family endpoints per
// caller address via Redis.
type FamilyRateLimit struct {
	cache          cache.Cache
	attemptsPerMin int
}

// NewFamilyRateLimit creates the rate limiter for family endpoints.
func NewFamilyRateLimit(c cache.Cache, attemptsPerMin int) *FamilyRateLimit {
	if attemptsPerMin <= 0 {
		attemptsPerMin = defaultAttemptsPerMinute
	}
	return &FamilyRateLimit{cache: c, attemptsPerMin: attemptsPerMin}
}

// Limit applies the per-address attempt budget.
func (rl *FamilyRateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}

		key := cache.RateLimitKey("family:" + host)
		count, err := rl.cache.IncrWithExpiry(r.Context(), key, 60*time.Second)
		if err != nil {
			// The token check itself still gates access; a cache outage
			// only disables throttling.
			slog.Warn("rate limit cache unavailable", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.attemptsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.attemptsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > int64(rl.attemptsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many attempts", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
