package embeddings_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// newHFServer answers image requests with imageVec and text requests with textVec.
func newHFServer(t *testing.T, imageVec, textVec []float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+embeddings.DefaultHuggingFaceModel, r.URL.Path)
		assert.Equal(t, "Bearer hf-token", r.Header.Get("Authorization"))

		var body struct {
			Inputs json.RawMessage `json:"inputs"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		vec := textVec
		if len(body.Inputs) > 0 && body.Inputs[0] == '{' {
			vec = imageVec
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"embedding": vec}})
	}))
}

func newHF(t *testing.T, url string) *embeddings.HuggingFaceProvider {
	t.Helper()
	images, err := embeddings.NewImageResolver(newPublicRoot(t), nil)
	require.NoError(t, err)
	return embeddings.NewHuggingFaceProvider(url, "hf-token", "", images)
}

func TestHuggingFaceProvider_AveragesModalities(t *testing.T) {
	server := newHFServer(t, []float32{1, 3}, []float32{3, 5})
	defer server.Close()

	vec, err := newHF(t, server.URL).Embed(context.Background(), embeddings.Input{ImageRef: "/uploads/cat.jpg", Text: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, vec.Slice())
}

func TestHuggingFaceProvider_SingleModality(t *testing.T) {
	server := newHFServer(t, []float32{1, 3}, []float32{3, 5})
	defer server.Close()

	p := newHF(t, server.URL)

	vec, err := p.Embed(context.Background(), embeddings.Input{ImageRef: "/uploads/cat.jpg"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 3}, vec.Slice())

	vec, err = p.Embed(context.Background(), embeddings.Input{Text: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 5}, vec.Slice())
}

func TestHuggingFaceProvider_DimensionMismatch(t *testing.T) {
	server := newHFServer(t, []float32{1, 2, 3}, []float32{1, 2})
	defer server.Close()

	_, err := newHF(t, server.URL).Embed(context.Background(), embeddings.Input{ImageRef: "/uploads/cat.jpg", Text: "a cat"})
	require.Error(t, err)
	assert.True(t, reserr.IsMalformed(err))
}

func TestHuggingFaceProvider_RejectedCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := newHF(t, server.URL).Embed(context.Background(), embeddings.Input{Text: "x"})
	require.Error(t, err)
	assert.True(t, reserr.HasCode(err, reserr.CodeEmbeddingProviderConfig))
}
