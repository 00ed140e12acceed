// Package embeddings provides a swappable interface for multimodal embedding generation.
package embeddings

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// Input is what gets embedded: an image reference, a caption, or both.
type Input struct {
	// ImageRef is a path under the public asset root or an http(s) URL.
	ImageRef string
	Text     string
}

// HasImage reports whether an image reference was supplied.
func (in Input) HasImage() bool { return strings.TrimSpace(in.ImageRef) != "" }

// HasText reports whether a caption was supplied.
func (in Input) HasText() bool { return strings.TrimSpace(in.Text) != "" }

// Validate fails with an invalid-input error when neither modality is present.
func (in Input) Validate() error {
	if !in.HasImage() && !in.HasText() {
		return reserr.New(reserr.CodeEmbeddingInputInvalid, "either an image reference or text must be provided")
	}
	return nil
}

// Provider generates embeddings for an image and/or text.
type Provider interface {
	// Embed returns a freshly computed vector. Implementations never retry.
	Embed(ctx context.Context, in Input) (pgvector.Vector, error)

	// Name returns the provider name used for selection and logging.
	Name() string

	// Model returns the model identifier recorded as embedding provenance.
	Model() string
}

// errorBodyLimit caps how much of an upstream error body ends up in messages.
const errorBodyLimit = 512

// checkStatus classifies a non-2xx upstream response. Credential rejections
// are configuration problems; anything else means the back-end cannot serve
// the request right now.
func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	msg := fmt.Sprintf("%s returned %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return reserr.New(reserr.CodeEmbeddingProviderConfig, msg, reserr.FieldProvider(provider))
	default:
		return reserr.New(reserr.CodeEmbeddingUnavailable, msg,
			reserr.FieldProvider(provider), reserr.Field("status", resp.StatusCode))
	}
}

// unavailable wraps a transport failure (refused connection, DNS, deadline).
func unavailable(provider string, err error) error {
	return reserr.Wrap(err, reserr.CodeEmbeddingUnavailable,
		"embedding service is unavailable", reserr.FieldProvider(provider))
}

func malformed(provider, msg string) error {
	return reserr.New(reserr.CodeEmbeddingResponseMalformed, msg, reserr.FieldProvider(provider))
}
