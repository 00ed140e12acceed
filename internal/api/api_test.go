package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/similar"
)

type fakeService struct {
	similarID   string
	similarTopK int
	similarRes  *similar.SimilarResult
	similarErr  error
	embedIn     embeddings.Input
	embedRes    *similar.EmbedResult
	embedErr    error
	deleted     []string
	deleteErr   error
}

func (f *fakeService) Similar(_ context.Context, postID string, topK int) (*similar.SimilarResult, error) {
	f.similarID, f.similarTopK = postID, topK
	return f.similarRes, f.similarErr
}

func (f *fakeService) Embed(_ context.Context, in embeddings.Input) (*similar.EmbedResult, error) {
	f.embedIn = in
	return f.embedRes, f.embedErr
}

func (f *fakeService) DeleteEmbedding(_ context.Context, postID string) error {
	f.deleted = append(f.deleted, postID)
	return f.deleteErr
}

func newRouter(svc SimilarService) http.Handler {
	h := NewSimilarHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	r.Get("/posts/{id}/similar", h.Similar)
	r.Post("/embed", h.Embed)
	r.Delete("/posts/{id}/embedding", h.DeleteEmbedding)
	return r
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta map[string]any `json:"meta"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, rdr))

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	assert.NotEmpty(t, env.Meta["timestamp"])
	return rec.Code, env
}

func TestSimilar_Success(t *testing.T) {
	svc := &fakeService{similarRes: &similar.SimilarResult{
		Results: []similar.Neighbor{{PostID: "p2", Score: 0.9}},
		Mode:    similar.ModeVector,
	}}

	code, env := do(t, newRouter(svc), http.MethodGet, "/posts/p1/similar?limit=4", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p1", svc.similarID)
	assert.Equal(t, 4, svc.similarTopK)

	var data map[string]any
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "vector", data["mode"])
	assert.NotContains(t, data, "backfilled")
	results := data["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "p2", results[0].(map[string]any)["postId"])
}

func TestSimilar_DefaultLimit(t *testing.T) {
	svc := &fakeService{similarRes: &similar.SimilarResult{Results: []similar.Neighbor{}, Mode: similar.ModeLexical}}
	code, _ := do(t, newRouter(svc), http.MethodGet, "/posts/p1/similar", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, svc.similarTopK)
}

func TestSimilar_InvalidLimit(t *testing.T) {
	svc := &fakeService{}
	for _, q := range []string{"abc", "0", "-2"} {
		code, env := do(t, newRouter(svc), http.MethodGet, "/posts/p1/similar?limit="+q, "")
		assert.Equal(t, http.StatusBadRequest, code, q)
		assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	}
	assert.Empty(t, svc.similarID)
}

func TestSimilar_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		message string
	}{
		{"not found", reserr.New(reserr.CodeStorePostNotFound, "post not found"), http.StatusNotFound, "store.post.not_found", "post not found"},
		{"unavailable", reserr.New(reserr.CodeEmbeddingUnavailable, "vertex timed out"), http.StatusServiceUnavailable, "embedding.upstream.unavailable", "Similarity service temporarily unavailable"},
		{"malformed", reserr.New(reserr.CodeVectorIndexResponseMalformed, "bad json"), http.StatusBadGateway, "vectorindex.response.malformed", "Internal error"},
		{"misconfigured", reserr.New(reserr.CodeEmbeddingProviderConfig, "no key"), http.StatusInternalServerError, "embedding.provider.misconfigured", "Internal error"},
		{"plain", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR", "Internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := do(t, newRouter(&fakeService{similarErr: tt.err}), http.MethodGet, "/posts/p1/similar", "")
			assert.Equal(t, tt.status, code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.message, env.Error.Message)
		})
	}
}

func TestEmbed(t *testing.T) {
	svc := &fakeService{embedRes: &similar.EmbedResult{Vector: []float32{0.5, 0.5}, Dimension: 2, Model: "m", Provider: "simple"}}

	code, env := do(t, newRouter(svc), http.MethodPost, "/embed", `{"imageUrl":"/uploads/a.jpg","caption":"sunset"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, embeddings.Input{ImageRef: "/uploads/a.jpg", Text: "sunset"}, svc.embedIn)

	var data similar.EmbedResult
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 2, data.Dimension)
	assert.Equal(t, "m", data.Model)
}

func TestEmbed_BadBody(t *testing.T) {
	code, env := do(t, newRouter(&fakeService{}), http.MethodPost, "/embed", `{"caption":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
}

func TestEmbed_TooLarge(t *testing.T) {
	body := `{"caption":"` + strings.Repeat("a", maxEmbedBody) + `"}`
	code, _ := do(t, newRouter(&fakeService{}), http.MethodPost, "/embed", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)
}

func TestEmbed_InvalidInput(t *testing.T) {
	svc := &fakeService{embedErr: reserr.New(reserr.CodeEmbeddingInputInvalid, "image or text is required")}
	code, env := do(t, newRouter(svc), http.MethodPost, "/embed", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "image or text is required", env.Error.Message)
}

func TestDeleteEmbedding(t *testing.T) {
	svc := &fakeService{}
	code, env := do(t, newRouter(svc), http.MethodDelete, "/posts/p3/embedding", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"p3"}, svc.deleted)
	assert.JSONEq(t, `{"deleted":"p3"}`, string(env.Data))
}

func TestDeleteEmbedding_Failure(t *testing.T) {
	svc := &fakeService{deleteErr: reserr.New(reserr.CodeVectorIndexUnavailable, "pinecone down")}
	code, _ := do(t, newRouter(svc), http.MethodDelete, "/posts/p3/embedding", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

type fakePinger struct{ err error }

func (f fakePinger) HealthCheck(context.Context) error { return f.err }

type fakeBus bool

func (f fakeBus) IsConnected() bool { return bool(f) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		bus      Connection
		status   string
		database string
		nats     string
	}{
		{"standalone", nil, nil, "healthy", "disabled", "disabled"},
		{"all connected", fakePinger{}, fakeBus(true), "healthy", "connected", "connected"},
		{"database down", fakePinger{err: errors.New("refused")}, fakeBus(false), "degraded", "disconnected", "disconnected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, tt.bus, HealthInfo{Provider: func() string { return "vertex" }, IndexBackend: "pinecone"})
			code, env := do(t, http.HandlerFunc(h.Health), http.MethodGet, "/health", "")
			require.Equal(t, http.StatusOK, code)

			var data map[string]any
			require.NoError(t, json.Unmarshal(env.Data, &data))
			assert.Equal(t, tt.status, data["status"])
			assert.Equal(t, tt.database, data["database"])
			assert.Equal(t, tt.nats, data["nats"])
			assert.Equal(t, "vertex", data["embedding_provider"])
			assert.Equal(t, "pinecone", data["vector_index"])
		})
	}
}

func TestHealthReportsCurrentProvider(t *testing.T) {
	active := "local"
	h := NewHealthHandler(nil, nil, HealthInfo{Provider: func() string { return active }, IndexBackend: "memory"})

	provider := func() any {
		_, env := do(t, http.HandlerFunc(h.Health), http.MethodGet, "/health", "")
		var data map[string]any
		require.NoError(t, json.Unmarshal(env.Data, &data))
		return data["embedding_provider"]
	}

	assert.Equal(t, "local", provider())
	active = "vertex"
	assert.Equal(t, "vertex", provider())
}
