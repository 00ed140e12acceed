package similar

import (
	"context"
	"log/slog"

	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/lexical"
	"github.com/MikeSquared-Agency/Resemble/internal/store"
	"github.com/MikeSquared-Agency/Resemble/internal/vectorindex"
)

// Mode reports how a result set was ranked.
type Mode string

const (
	ModeVector  Mode = "vector"
	ModeLexical Mode = "lexical"
)

// Posts is the post storage the service reads and annotates.
type Posts interface {
	Get(ctx context.Context, id string) (*store.Post, error)
	GetMany(ctx context.Context, ids []string) ([]store.Post, error)
	ListRecent(ctx context.Context, limit int) ([]store.Post, error)
	ListUnembedded(ctx context.Context, limit int, skip []string) ([]store.Post, error)
	RecordEmbedding(ctx context.Context, id string, p store.Provenance) error
	ClearEmbedding(ctx context.Context, id string) error
}

// Providers yields the active embedding provider.
type Providers interface {
	Get() (embeddings.Provider, error)
}

// Publisher announces embedding lifecycle changes.
type Publisher interface {
	EmbeddingBackfilled(ctx context.Context, postID string, b Backfill) error
	EmbeddingDeleted(ctx context.Context, postID string) error
}

// Config tunes the service.
type Config struct {
	DefaultTopK       int
	MaxTopK           int
	LexicalCandidates int
}

func (c Config) withDefaults() Config {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 6
	}
	if c.MaxTopK <= 0 {
		c.MaxTopK = 50
	}
	if c.LexicalCandidates <= 0 {
		c.LexicalCandidates = 200
	}
	return c
}

// Neighbor is one similar post.
type Neighbor struct {
	PostID string      `json:"postId"`
	Score  float64     `json:"score"`
	Post   *store.Post `json:"post,omitempty"`
}

// SimilarResult is the answer to Similar.
type SimilarResult struct {
	Results  []Neighbor `json:"results"`
	Mode     Mode       `json:"mode"`
	Backfill *Backfill  `json:"backfilled,omitempty"`
}

// EmbedResult is the answer to Embed.
type EmbedResult struct {
	Vector    []float32 `json:"vector"`
	Dimension int       `json:"dimension"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
}

// Service binds the resolver to posts, providers and events. index and
// posts may be nil: without an index every lookup is lexical, without posts
// neither provenance nor lexical ranking is available.
type Service struct {
	resolver  *Resolver
	index     vectorindex.Index
	providers Providers
	posts     Posts
	publisher Publisher
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a Service. resolver must wrap index when index is set.
func NewService(resolver *Resolver, index vectorindex.Index, providers Providers, posts Posts, publisher Publisher, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		resolver:  resolver,
		index:     index,
		providers: providers,
		posts:     posts,
		publisher: publisher,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// VectorEnabled reports whether an index is configured.
func (s *Service) VectorEnabled() bool {
	return s.index != nil && s.resolver != nil
}

func (s *Service) clampTopK(topK int) int {
	if topK <= 0 {
		return s.cfg.DefaultTopK
	}
	return min(topK, s.cfg.MaxTopK)
}

// Similar returns the posts most similar to postID.
func (s *Service) Similar(ctx context.Context, postID string, topK int) (*SimilarResult, error) {
	if postID == "" {
		return nil, reserr.New(reserr.CodeSimilarRequestInvalid, "post id is required")
	}
	topK = s.clampTopK(topK)

	var post *store.Post
	if s.posts != nil {
		p, err := s.posts.Get(ctx, postID)
		if err != nil {
			return nil, err
		}
		post = p
	}

	if !s.VectorEnabled() {
		return s.rankLexical(ctx, post, topK)
	}

	res, err := s.resolver.Resolve(ctx, Request{
		PostID: postID,
		TopK:   topK,
		Embed:  s.embedPost(postID, post),
	})
	if err != nil {
		if reserr.IsUnavailable(err) && post != nil && post.Caption != "" {
			s.logger.Warn("vector similarity unavailable, falling back to lexical", "post_id", postID, "error", err)
			return s.rankLexical(ctx, post, topK)
		}
		return nil, err
	}

	if res.Backfill != nil {
		s.recordBackfill(ctx, postID, *res.Backfill)
	}

	neighbors, err := s.join(ctx, res.Matches)
	if err != nil {
		return nil, err
	}
	return &SimilarResult{Results: neighbors, Mode: ModeVector, Backfill: res.Backfill}, nil
}

// embedPost binds the active provider to a post's stored content.
func (s *Service) embedPost(postID string, post *store.Post) EmbedFunc {
	return func(ctx context.Context) (Embedding, error) {
		if post == nil {
			return Embedding{}, reserr.New(reserr.CodeSimilarRequestInvalid, "post content is unavailable without a post store", reserr.FieldPostID(postID))
		}
		provider, err := s.providers.Get()
		if err != nil {
			return Embedding{}, err
		}
		vec, err := provider.Embed(ctx, embeddings.Input{ImageRef: post.ImageURL, Text: post.Caption})
		if err != nil {
			return Embedding{}, err
		}
		return Embedding{Vector: vec, Model: provider.Model()}, nil
	}
}

func (s *Service) recordBackfill(ctx context.Context, postID string, b Backfill) {
	if s.posts != nil {
		err := s.posts.RecordEmbedding(ctx, postID, store.Provenance{
			VectorID:   b.VectorID,
			Dimension:  b.Dimension,
			ModelName:  b.Model,
			EmbeddedAt: b.EmbeddedAt,
		})
		if err != nil {
			s.logger.Error("recording embedding provenance", "post_id", postID, "error", err)
		}
	}
	if s.publisher != nil {
		if err := s.publisher.EmbeddingBackfilled(ctx, postID, b); err != nil {
			s.logger.Warn("publishing backfill event", "post_id", postID, "error", err)
		}
	}
}

// join attaches stored posts to matches and drops ids whose post is gone.
func (s *Service) join(ctx context.Context, matches []vectorindex.Match) ([]Neighbor, error) {
	neighbors := make([]Neighbor, 0, len(matches))
	if s.posts == nil {
		for _, m := range matches {
			neighbors = append(neighbors, Neighbor{PostID: m.ID, Score: m.Score})
		}
		return neighbors, nil
	}
	if len(matches) == 0 {
		return neighbors, nil
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.ID
	}
	posts, err := s.posts.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*store.Post, len(posts))
	for i := range posts {
		byID[posts[i].ID] = &posts[i]
	}

	for _, m := range matches {
		if p, ok := byID[m.ID]; ok {
			neighbors = append(neighbors, Neighbor{PostID: m.ID, Score: m.Score, Post: p})
		}
	}
	return neighbors, nil
}

// rankLexical ranks recent captions against the post's caption.
func (s *Service) rankLexical(ctx context.Context, post *store.Post, topK int) (*SimilarResult, error) {
	if s.posts == nil || post == nil {
		return nil, reserr.New(reserr.CodeEmbeddingUnavailable, "no similarity backend is available")
	}

	recent, err := s.posts.ListRecent(ctx, s.cfg.LexicalCandidates)
	if err != nil {
		return nil, err
	}

	candidates := make([]lexical.Candidate, 0, len(recent))
	byID := make(map[string]*store.Post, len(recent))
	for i := range recent {
		p := &recent[i]
		if p.ID == post.ID {
			continue
		}
		candidates = append(candidates, lexical.Candidate{ID: p.ID, Text: p.Caption})
		byID[p.ID] = p
	}

	ranked := lexical.Rank(post.Caption, candidates, topK)
	neighbors := make([]Neighbor, 0, len(ranked))
	for _, r := range ranked {
		neighbors = append(neighbors, Neighbor{PostID: r.ID, Score: r.Score, Post: byID[r.ID]})
	}
	return &SimilarResult{Results: neighbors, Mode: ModeLexical}, nil
}

// Embed computes a one-off embedding with the active provider.
func (s *Service) Embed(ctx context.Context, in embeddings.Input) (*EmbedResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	provider, err := s.providers.Get()
	if err != nil {
		return nil, err
	}
	vec, err := provider.Embed(ctx, in)
	if err != nil {
		return nil, err
	}
	values := vec.Slice()
	return &EmbedResult{
		Vector:    values,
		Dimension: len(values),
		Model:     provider.Model(),
		Provider:  provider.Name(),
	}, nil
}

// DeleteEmbedding removes a post's vector and provenance. Deleting a post
// that was never embedded succeeds.
func (s *Service) DeleteEmbedding(ctx context.Context, postID string) error {
	if postID == "" {
		return reserr.New(reserr.CodeSimilarRequestInvalid, "post id is required")
	}
	if s.index != nil {
		if err := s.index.Delete(ctx, postID); err != nil {
			return err
		}
	}
	if s.posts != nil {
		if err := s.posts.ClearEmbedding(ctx, postID); err != nil {
			return err
		}
	}
	if s.publisher != nil {
		if err := s.publisher.EmbeddingDeleted(ctx, postID); err != nil {
			s.logger.Warn("publishing delete event", "post_id", postID, "error", err)
		}
	}
	s.logger.Info("embedding deleted", "post_id", postID)
	return nil
}

// Warm embeds one post ahead of its first lookup. It reports whether a
// vector was computed.
func (s *Service) Warm(ctx context.Context, post store.Post) (bool, error) {
	if !s.VectorEnabled() {
		return false, nil
	}
	res, err := s.resolver.Resolve(ctx, Request{
		PostID: post.ID,
		TopK:   1,
		Embed:  s.embedPost(post.ID, &post),
	})
	if err != nil {
		return false, err
	}
	if res.Backfill != nil {
		s.recordBackfill(ctx, post.ID, *res.Backfill)
		return true, nil
	}

	// Indexed already but the post lost its provenance; mark it so the
	// warmer stops selecting it. Dimension and model are unknown here and
	// are stored as NULL.
	if s.posts != nil && post.Embedding == nil {
		err := s.posts.RecordEmbedding(ctx, post.ID, store.Provenance{VectorID: post.ID, EmbeddedAt: s.resolver.now().UTC()})
		if err != nil {
			return false, err
		}
	}
	return false, nil
}
