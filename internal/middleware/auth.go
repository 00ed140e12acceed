// Package middleware provides HTTP middleware for Resemble.
package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// contextKey is a private type for context keys.
type contextKey string

const userIDKey contextKey = "user_id"

// UserIDFromContext extracts the authenticated user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserAuth reads the user ID set by the gallery gateway in X-User-ID.
// Requests without it continue anonymously.
func UserAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// TrustedUserAuth accepts X-User-ID only from callers that present apiKey
// in X-API-Key, so a client cannot pick its own identity. Other requests
// continue anonymously. An empty apiKey trusts every request.
func TrustedUserAuth(apiKey string) func(http.Handler) http.Handler {
	if apiKey == "" {
		return UserAuth
	}
	return func(next http.Handler) http.Handler {
		trusted := UserAuth(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hasAPIKey(r, apiKey) {
				next.ServeHTTP(w, r)
				return
			}
			trusted.ServeHTTP(w, r)
		})
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFromContext(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// APIKeyAuth requires X-API-Key on mutating requests when apiKey is set.
// GET requests and the health endpoint pass through.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if apiKey == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || strings.HasSuffix(r.URL.Path, "/health") {
				next.ServeHTTP(w, r)
				return
			}
			if !hasAPIKey(r, apiKey) {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAPIKey(r *http.Request, apiKey string) bool {
	got := r.Header.Get("X-API-Key")
	return subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) == 1
}

func writeError(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	body := map[string]any{
		"code":    code,
		"message": message,
	}
	for k, v := range extra {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": body,
		"meta": map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}
