package vectorindex_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	pgvector "github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/vectorindex"
)

// fakePinecone serves the data-plane routes from an in-memory map.
type fakePinecone struct {
	mu      sync.Mutex
	vectors map[string]map[string]any
	queries []map[string]any
	fail    int
}

func newFakePinecone(t *testing.T) (*fakePinecone, *vectorindex.Pinecone) {
	t.Helper()
	fake := &fakePinecone{vectors: map[string]map[string]any{}}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	idx, err := vectorindex.NewPinecone(vectorindex.PineconeConfig{APIKey: "pc-key", Host: server.URL, Namespace: "posts"}, server.Client())
	require.NoError(t, err)
	return fake, idx
}

func (f *fakePinecone) stored(id string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.vectors[id]
}

func (f *fakePinecone) counts() (vectors, queries int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vectors), len(f.queries)
}

func (f *fakePinecone) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("Api-Key") != "pc-key" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if f.fail != 0 {
		http.Error(w, "failure", f.fail)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/vectors/upsert":
		var body struct {
			Vectors []map[string]any `json:"vectors"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, v := range body.Vectors {
			f.vectors[v["id"].(string)] = v
		}
		_, _ = w.Write([]byte(`{"upsertedCount":1}`))
	case "/vectors/delete":
		var body struct {
			IDs []string `json:"ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, id := range body.IDs {
			delete(f.vectors, id)
		}
		_, _ = w.Write([]byte(`{}`))
	case "/vectors/fetch":
		out := map[string]any{}
		for _, id := range r.URL.Query()["ids"] {
			if v, ok := f.vectors[id]; ok {
				out[id] = v
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"vectors": out, "namespace": r.URL.Query().Get("namespace")})
	case "/query":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.queries = append(f.queries, body)

		matches := []map[string]any{}
		for id := range f.vectors {
			matches = append(matches, map[string]any{"id": id, "score": 0.5})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"matches": matches})
	default:
		http.NotFound(w, r)
	}
}

func TestPinecone_UpsertAndDelete(t *testing.T) {
	fake, idx := newFakePinecone(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, vectorindex.Record{ID: "post-1", Values: pgvector.NewVector([]float32{1, 2, 3}), Metadata: vectorindex.Metadata{Model: "m"}}))
	stored := fake.stored("post-1")
	require.NotNil(t, stored)
	meta := stored["metadata"].(map[string]any)
	assert.Equal(t, "post-1", meta["postId"])
	assert.EqualValues(t, 3, meta["dimension"])
	assert.Equal(t, "m", meta["model"])

	require.NoError(t, idx.Delete(ctx, "post-1"))
	require.NoError(t, idx.Delete(ctx, "post-1"))
	vectors, _ := fake.counts()
	assert.Zero(t, vectors)
}

func TestPinecone_QueryByIDNotFound(t *testing.T) {
	fake, idx := newFakePinecone(t)

	lookup := idx.QueryByID(context.Background(), "post-1", vectorindex.Query{TopK: 5, ExcludeID: "post-1"})
	assert.Equal(t, vectorindex.LookupNotFound, lookup.Status)
	_, queries := fake.counts()
	assert.Zero(t, queries, "no neighbor query for an unknown id")
}

func TestPinecone_QueryByIDFound(t *testing.T) {
	fake, idx := newFakePinecone(t)
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, vectorindex.Record{ID: "post-2", Values: pgvector.NewVector([]float32{1, 0})}))

	lookup := idx.QueryByID(ctx, "post-2", vectorindex.Query{TopK: 5, ExcludeID: "post-2"})
	require.Equal(t, vectorindex.LookupFound, lookup.Status)
	assert.Empty(t, lookup.Matches, "the fake ignores filters, so the client must drop the excluded id")

	fake.mu.Lock()
	require.Len(t, fake.queries, 1)
	q := fake.queries[0]
	fake.mu.Unlock()
	assert.EqualValues(t, 5, q["topK"])
	assert.Equal(t, true, q["includeMetadata"])
	assert.Equal(t, "posts", q["namespace"])
	filter := q["filter"].(map[string]any)
	assert.Equal(t, map[string]any{"$ne": "post-2"}, filter["postId"])
	assert.Equal(t, map[string]any{"$eq": float64(2)}, filter["dimension"])
}

func TestPinecone_QueryByIDFailure(t *testing.T) {
	fake, idx := newFakePinecone(t)
	fake.fail = http.StatusServiceUnavailable

	lookup := idx.QueryByID(context.Background(), "post-1", vectorindex.Query{TopK: 5})
	require.Equal(t, vectorindex.LookupFailed, lookup.Status)
	assert.True(t, reserr.IsUnavailable(lookup.Err()))
}

func TestPinecone_Unreachable(t *testing.T) {
	idx, err := vectorindex.NewPinecone(vectorindex.PineconeConfig{APIKey: "k", Host: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)

	lookup := idx.QueryByID(context.Background(), "post-1", vectorindex.Query{TopK: 5})
	assert.Equal(t, vectorindex.LookupFailed, lookup.Status)

	err = idx.Upsert(context.Background(), vectorindex.Record{ID: "post-1", Values: pgvector.NewVector([]float32{1})})
	assert.True(t, reserr.IsUnavailable(err))
}

func TestPinecone_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer server.Close()

	idx, err := vectorindex.NewPinecone(vectorindex.PineconeConfig{APIKey: "k", Host: server.URL}, nil)
	require.NoError(t, err)

	lookup := idx.QueryByID(context.Background(), "post-1", vectorindex.Query{TopK: 5})
	require.Equal(t, vectorindex.LookupFailed, lookup.Status)
	assert.True(t, reserr.IsMalformed(lookup.Err()))
}

func TestNewPinecone_RequiresCredentials(t *testing.T) {
	_, err := vectorindex.NewPinecone(vectorindex.PineconeConfig{Host: "idx.svc.pinecone.io"}, nil)
	assert.Error(t, err)
}
