package embeddings_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

func TestLocalProvider_Embed(t *testing.T) {
	var gotText, gotImage string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/embed", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))

		gotText = r.FormValue("text")
		if f, _, err := r.FormFile("image"); err == nil {
			data, _ := io.ReadAll(f)
			gotImage = string(data)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.1, 0.2, 0.3}})
	}))
	defer server.Close()

	images, err := embeddings.NewImageResolver(newPublicRoot(t), nil)
	require.NoError(t, err)
	p := embeddings.NewLocalProvider(server.URL+"/embed", images)
	assert.Equal(t, "local", p.Name())

	vec, err := p.Embed(context.Background(), embeddings.Input{ImageRef: "/uploads/cat.jpg", Text: "a cat"})
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec.Slice())
	assert.Equal(t, "a cat", gotText)
	assert.Equal(t, "jpeg-bytes", gotImage)
}

func TestLocalProvider_TextOnly(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		_, _, err := r.FormFile("image")
		assert.Error(t, err, "no image part expected")
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1}})
	}))
	defer server.Close()

	p := embeddings.NewLocalProvider(server.URL, nil)
	vec, err := p.Embed(context.Background(), embeddings.Input{Text: "only words"})
	require.NoError(t, err)
	assert.Len(t, vec.Slice(), 1)
}

func TestLocalProvider_EmptyInput(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	p := embeddings.NewLocalProvider(server.URL, nil)
	_, err := p.Embed(context.Background(), embeddings.Input{Text: "   "})
	require.Error(t, err)
	assert.True(t, reserr.IsInvalidInput(err))
	assert.Zero(t, calls, "no network call for invalid input")
}

func TestLocalProvider_TraversalRejectedBeforeCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	images, err := embeddings.NewImageResolver(newPublicRoot(t), nil)
	require.NoError(t, err)
	p := embeddings.NewLocalProvider(server.URL, images)

	_, err = p.Embed(context.Background(), embeddings.Input{ImageRef: "../../etc/passwd"})
	require.Error(t, err)
	assert.True(t, reserr.IsInvalidInput(err))
	assert.Zero(t, calls)
}

func TestLocalProvider_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	p := embeddings.NewLocalProvider(server.URL, nil)
	_, err := p.Embed(context.Background(), embeddings.Input{Text: "test"})
	require.Error(t, err)
	assert.True(t, reserr.IsUnavailable(err))
}

func TestLocalProvider_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := embeddings.NewLocalProvider(url, nil)
	_, err := p.Embed(context.Background(), embeddings.Input{Text: "test"})
	require.Error(t, err)
	assert.True(t, reserr.IsUnavailable(err))
}

func TestLocalProvider_MalformedResponse(t *testing.T) {
	for name, body := range map[string]string{
		"missing field": `{"vector": [1, 2]}`,
		"not json":      `<html>oops</html>`,
		"wrong type":    `{"embedding": "nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer server.Close()

			p := embeddings.NewLocalProvider(server.URL, nil)
			_, err := p.Embed(context.Background(), embeddings.Input{Text: "test"})
			require.Error(t, err)
			assert.True(t, reserr.IsMalformed(err), "got %v", err)
			assert.False(t, reserr.IsUnavailable(err))
		})
	}
}
