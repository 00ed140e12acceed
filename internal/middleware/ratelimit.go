package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Resemble/internal/ratelimit"
)

// RateLimit enforces policy per caller. Authenticated callers are keyed by
// user, everyone else by client address.
func RateLimit(limiter *ratelimit.Limiter, policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Check(Identity(r), policy)
			setRateHeaders(w.Header(), d)

			if !d.Allowed {
				retry := int(d.RetryAfter(limiter.Now()) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Try again later.", map[string]any{
					"retry_after": retry,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Identity returns the rate-limit identity of r.
func Identity(r *http.Request) string {
	if user := UserIDFromContext(r.Context()); user != "" {
		return "user:" + user
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return "unknown"
}

func setRateHeaders(h http.Header, d ratelimit.Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}
