// Package similar resolves nearest-neighbor posts, computing a post's
// embedding the first time it is looked up.
package similar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pgvector "github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/vectorindex"
)

// DefaultEmbedTimeout bounds one embedding call made during a backfill.
const DefaultEmbedTimeout = 20 * time.Second

// Embedding is a freshly computed vector and the model that produced it.
type Embedding struct {
	Vector pgvector.Vector
	Model  string
}

// EmbedFunc computes the embedding of the post being resolved.
type EmbedFunc func(ctx context.Context) (Embedding, error)

// Request asks for the neighbors of one post.
type Request struct {
	PostID    string
	TopK      int
	ExcludeID string // defaults to PostID
	Embed     EmbedFunc
}

// Backfill describes a vector computed and stored during Resolve.
type Backfill struct {
	VectorID   string    `json:"vectorId"`
	Dimension  int       `json:"dimension"`
	Model      string    `json:"model"`
	EmbeddedAt time.Time `json:"embeddedAt"`
}

// Result holds the neighbors, and Backfill when the post was embedded by
// this call.
type Result struct {
	Matches  []vectorindex.Match
	Backfill *Backfill
}

// Resolver treats the vector index as a read-through cache of embeddings.
// A post moves from absent to present on its first successful lookup and
// never back except through explicit deletion.
type Resolver struct {
	index   vectorindex.Index
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	inflight singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
	gen     uint64
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEmbedTimeout sets the deadline for one embedding call; 0 disables it.
func WithEmbedTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithClock replaces time.Now for backfill timestamps.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver over index.
func NewResolver(index vectorindex.Index, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		index:   index,
		timeout: DefaultEmbedTimeout,
		now:     time.Now,
		logger:  logger,
		flights: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type computed struct {
	vector   pgvector.Vector
	backfill Backfill
}

// Resolve returns the neighbors of req.PostID.
//
// When the index knows the post, its neighbors are returned as they are,
// even if there are none. Only a not-found lookup embeds the post, stores
// the vector and queries with it. Any other lookup failure is returned
// without embedding.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	if req.PostID == "" {
		return nil, reserr.New(reserr.CodeSimilarRequestInvalid, "post id is required")
	}
	if req.Embed == nil {
		return nil, reserr.New(reserr.CodeSimilarRequestInvalid, "embed function is required", reserr.FieldPostID(req.PostID))
	}
	exclude := req.ExcludeID
	if exclude == "" {
		exclude = req.PostID
	}
	q := vectorindex.Query{TopK: req.TopK, ExcludeID: exclude}

	lookup := r.index.QueryByID(ctx, req.PostID, q)
	switch lookup.Status {
	case vectorindex.LookupFound:
		return &Result{Matches: lookup.Matches}, nil
	case vectorindex.LookupNotFound:
	default:
		return nil, lookup.Err()
	}

	r.logger.Info("vector missing, backfilling", "post_id", req.PostID, "index", r.index.Name())

	c, err := r.backfill(ctx, req)
	if err != nil {
		return nil, err
	}

	matches, err := r.index.QueryByVector(ctx, c.vector, q)
	if err != nil {
		return nil, err
	}

	r.logger.Info("backfill complete",
		"post_id", req.PostID,
		"dimension", c.backfill.Dimension,
		"model", c.backfill.Model,
		"matches", len(matches),
	)

	bf := c.backfill
	return &Result{Matches: matches, Backfill: &bf}, nil
}

// flight is one shared embed+upsert. It runs detached from any single
// caller and is cancelled only once every caller has gone away.
type flight struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	callers []context.Context
}

// backfill shares one embed+upsert per post id between concurrent callers.
// Each caller still runs its own neighbor query afterwards.
func (r *Resolver) backfill(ctx context.Context, req Request) (*computed, error) {
	r.mu.Lock()
	f, ok := r.flights[req.PostID]
	if !ok || f.ctx.Err() != nil {
		r.gen++
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{key: fmt.Sprintf("%s#%d", req.PostID, r.gen), ctx: shared, cancel: cancel}
		r.flights[req.PostID] = f
	}
	f.callers = append(f.callers, ctx)
	ch := r.inflight.DoChan(f.key, func() (any, error) {
		defer r.finish(req.PostID, f)
		return r.compute(f, req)
	})
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		if r.abandoned(f) {
			f.cancel()
		}
	})
	defer stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*computed), nil
	case <-ctx.Done():
		return nil, reserr.Wrap(ctx.Err(), reserr.CodeEmbeddingUnavailable, "request cancelled during backfill", reserr.FieldPostID(req.PostID))
	}
}

// abandoned reports whether every caller waiting on f has been cancelled.
func (r *Resolver) abandoned(f *flight) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range f.callers {
		if c.Err() == nil {
			return false
		}
	}
	return true
}

func (r *Resolver) finish(postID string, f *flight) {
	r.mu.Lock()
	if r.flights[postID] == f {
		delete(r.flights, postID)
	}
	r.mu.Unlock()
	f.cancel()
}

func (r *Resolver) compute(f *flight, req Request) (*computed, error) {
	embedCtx := f.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(f.ctx, r.timeout)
		defer cancel()
	}

	emb, err := req.Embed(embedCtx)
	if err != nil {
		return nil, classifyEmbedError(err, req.PostID)
	}

	dim := len(emb.Vector.Slice())
	if dim == 0 {
		return nil, reserr.New(reserr.CodeEmbeddingResponseMalformed, "embedding has no values", reserr.FieldPostID(req.PostID))
	}

	// Nobody is left to use the vector, so the index stays untouched.
	if r.abandoned(f) {
		f.cancel()
	}
	if err := f.ctx.Err(); err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingUnavailable, "request cancelled before upsert", reserr.FieldPostID(req.PostID))
	}

	rec := vectorindex.Record{
		ID:       req.PostID,
		Values:   emb.Vector,
		Metadata: vectorindex.Metadata{PostID: req.PostID, Dimension: dim, Model: emb.Model},
	}
	if err := r.index.Upsert(f.ctx, rec); err != nil {
		return nil, err
	}

	return &computed{
		vector: emb.Vector,
		backfill: Backfill{
			VectorID:   req.PostID,
			Dimension:  dim,
			Model:      emb.Model,
			EmbeddedAt: r.now().UTC(),
		},
	}, nil
}

// classifyEmbedError keeps coded errors and turns bare deadline or
// cancellation errors into transient unavailability.
func classifyEmbedError(err error, postID string) error {
	if reserr.CodeOf(err) != "" {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return reserr.Wrap(err, reserr.CodeEmbeddingUnavailable, "embedding timed out", reserr.FieldPostID(postID))
	}
	if errors.Is(err, context.Canceled) {
		return reserr.Wrap(err, reserr.CodeEmbeddingUnavailable, "embedding cancelled", reserr.FieldPostID(postID))
	}
	return reserr.Wrap(err, reserr.CodeEmbeddingUnavailable, "embedding failed", reserr.FieldPostID(postID))
}
