package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
	"github.com/MikeSquared-Agency/Resemble/internal/middleware"
	"github.com/MikeSquared-Agency/Resemble/internal/similar"
)

// maxEmbedBody bounds the embed request body.
const maxEmbedBody = 64 << 10

// SimilarService is the part of similar.Service the handlers use.
type SimilarService interface {
	Similar(ctx context.Context, postID string, topK int) (*similar.SimilarResult, error)
	Embed(ctx context.Context, in embeddings.Input) (*similar.EmbedResult, error)
	DeleteEmbedding(ctx context.Context, postID string) error
}

// SimilarHandler serves similar-post lookups and embedding endpoints.
type SimilarHandler struct {
	service SimilarService
	logger  *slog.Logger
}

// NewSimilarHandler creates a new SimilarHandler.
func NewSimilarHandler(service SimilarService, logger *slog.Logger) *SimilarHandler {
	return &SimilarHandler{service: service, logger: logger}
}

// Similar handles GET /posts/{id}/similar.
func (h *SimilarHandler) Similar(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	res, err := h.service.Similar(r.Context(), postID, limit)
	if err != nil {
		h.logger.Warn("similar lookup failed", "post_id", postID, "error", err)
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// EmbedRequest is the request body for POST /embed.
type EmbedRequest struct {
	ImageURL string `json:"imageUrl,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// Embed handles POST /embed.
func (h *SimilarHandler) Embed(w http.ResponseWriter, r *http.Request) {
	var req EmbedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEmbedBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	res, err := h.service.Embed(r.Context(), embeddings.Input{ImageRef: req.ImageURL, Text: req.Caption})
	if err != nil {
		h.logger.Warn("embed failed", "user", middleware.UserIDFromContext(r.Context()), "error", err)
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, res)
}

// DeleteEmbedding handles DELETE /posts/{id}/embedding.
func (h *SimilarHandler) DeleteEmbedding(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "id")

	if err := h.service.DeleteEmbedding(r.Context(), postID); err != nil {
		h.logger.Error("delete embedding failed", "post_id", postID, "error", err)
		writeServiceError(w, err)
		return
	}

	h.logger.Info("embedding deleted via api", "post_id", postID, "user", middleware.UserIDFromContext(r.Context()))
	writeSuccess(w, http.StatusOK, map[string]string{"deleted": postID})
}
