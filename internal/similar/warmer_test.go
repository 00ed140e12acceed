package similar_test

import (
	"context"
	"strings"
	"testing"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/similar"
	"github.com/MikeSquared-Agency/Resemble/internal/store"
	"github.com/MikeSquared-Agency/Resemble/internal/vectorindex"
)

// escapingRefProvider rejects image references that leave the asset root.
type escapingRefProvider struct {
	embeddings.Provider
}

func (p escapingRefProvider) Embed(ctx context.Context, in embeddings.Input) (pgvector.Vector, error) {
	if strings.Contains(in.ImageRef, "..") {
		return pgvector.Vector{}, reserr.New(reserr.CodeEmbeddingInputInvalid, "image reference escapes the asset root")
	}
	return p.Provider.Embed(ctx, in)
}

func TestWarmer_RunOnce(t *testing.T) {
	f := newFixture(t, true)
	w := similar.NewWarmer(f.svc, f.posts, 0, 2, discardLogger())
	ctx := context.Background()

	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.index.Len())

	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "everything is embedded")
	assert.Equal(t, 4, f.provider.calls)
	assert.Len(t, f.publisher.backfilled, 4)
}

func TestWarmer_RecordsProvenanceForIndexedPosts(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Similar(ctx, "p1", 3)
	require.NoError(t, err)
	require.NoError(t, f.posts.ClearEmbedding(ctx, "p1"))

	w := similar.NewWarmer(f.svc, f.posts, 0, 10, discardLogger())
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	post, _ := f.posts.Get(ctx, "p1")
	require.NotNil(t, post.Embedding)
	assert.Equal(t, "p1", post.Embedding.VectorID)
}

func TestWarmer_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t, true)
	f.provider.err = reserr.New(reserr.CodeEmbeddingUnavailable, "down")

	w := similar.NewWarmer(f.svc, f.posts, 0, 10, discardLogger())
	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 4, f.provider.calls)
}

func TestWarmer_SkipsPostsThatCannotBeEmbedded(t *testing.T) {
	posts := newMemPosts(
		store.Post{ID: "bad-1", ImageURL: "../../etc/passwd"},
		store.Post{ID: "bad-2", ImageURL: "../../etc/shadow"},
		store.Post{ID: "bad-3", ImageURL: "../secrets.png"},
		store.Post{ID: "good", Caption: "sunset over the bay"},
	)
	index := vectorindex.NewMemory()
	provider := escapingRefProvider{Provider: embeddings.NewSimpleProvider(32)}
	svc := similar.NewService(newResolver(index), index, staticProviders{p: provider}, posts, nil,
		similar.Config{DefaultTopK: 3}, discardLogger())

	w := similar.NewWarmer(svc, posts, 0, 2, discardLogger())
	ctx := context.Background()

	total := 0
	for i := 0; i < 3; i++ {
		n, err := w.RunOnce(ctx)
		require.NoError(t, err)
		total += n
	}

	assert.Equal(t, 1, total)
	_, indexed := index.Get("good")
	assert.True(t, indexed, "posts behind failing ones are reached")
	_, indexed = index.Get("bad-1")
	assert.False(t, indexed)
}

func TestWarmer_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t, true)
	f.provider.err = reserr.New(reserr.CodeEmbeddingUnavailable, "down")
	w := similar.NewWarmer(f.svc, f.posts, 0, 10, discardLogger())
	ctx := context.Background()

	_, err := w.RunOnce(ctx)
	require.NoError(t, err)

	f.provider.err = nil
	n, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}
