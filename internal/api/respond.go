// Package api provides HTTP handlers for the Resemble REST API.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
		"meta": meta(),
	})
}

// writeSuccess writes a standard success response.
func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{
		"data": data,
		"meta": meta(),
	})
}

// writeServiceError maps a coded error to its status. Server-side failures
// get a generic message so upstream details stay in the logs.
func writeServiceError(w http.ResponseWriter, err error) {
	status := reserr.HTTPStatus(err)
	code := string(reserr.CodeOf(err))
	if code == "" {
		code = "INTERNAL_ERROR"
	}

	message := err.Error()
	switch {
	case status == http.StatusServiceUnavailable:
		message = "Similarity service temporarily unavailable"
	case status >= http.StatusInternalServerError:
		message = "Internal error"
	}
	writeError(w, status, code, message)
}

func meta() map[string]any {
	return map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
}

// LimitAccepted acknowledges a request that passed its rate limit. The
// remaining budget is carried in the X-RateLimit headers.
func LimitAccepted(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]bool{"allowed": true})
}
