package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// Post is the subset of a gallery post the similarity service reads.
type Post struct {
	ID        string      `json:"id"`
	Caption   string      `json:"caption,omitempty"`
	ImageURL  string      `json:"imageUrl,omitempty"`
	UserID    string      `json:"userId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Embedding *Provenance `json:"embedding,omitempty"`
}

// PostStore reads posts and writes embedding provenance. The posts table
// belongs to the gallery application; only the embedding columns are
// written here.
type PostStore struct {
	db DBTX
}

// NewPostStore creates a new PostStore.
func NewPostStore(db DBTX) *PostStore {
	return &PostStore{db: db}
}

const postColumns = `id::text, caption, image_url, user_id::text, created_at, updated_at,
	vector_id, embedding_dimension, embedding_model, embedded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var (
		p                         Post
		caption, imageURL, userID *string
		vectorID, model           *string
		dimension                 *int32
		embeddedAt                *time.Time
	)
	if err := row.Scan(&p.ID, &caption, &imageURL, &userID, &p.CreatedAt, &p.UpdatedAt,
		&vectorID, &dimension, &model, &embeddedAt); err != nil {
		return nil, err
	}
	p.Caption = deref(caption)
	p.ImageURL = deref(imageURL)
	p.UserID = deref(userID)

	if vectorID != nil && embeddedAt != nil {
		p.Embedding = &Provenance{VectorID: *vectorID, ModelName: deref(model), EmbeddedAt: *embeddedAt}
		if dimension != nil {
			p.Embedding.Dimension = int(*dimension)
		}
	}
	return &p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Get returns one post or a store.post.not_found error.
func (s *PostStore) Get(ctx context.Context, id string) (*Post, error) {
	p, err := scanPost(s.db.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id::text = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, reserr.New(reserr.CodeStorePostNotFound, "post not found", reserr.FieldPostID(id))
	}
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeStoreDatabaseFailure, "getting post", reserr.FieldPostID(id))
	}
	return p, nil
}

// GetMany returns the posts that still exist, in the order of ids.
func (s *PostStore) GetMany(ctx context.Context, ids []string) ([]Post, error) {
	if len(ids) == 0 {
		return []Post{}, nil
	}

	posts, err := s.list(ctx, `SELECT `+postColumns+` FROM posts WHERE id::text = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	out := make([]Post, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// ListRecent returns the newest posts first.
func (s *PostStore) ListRecent(ctx context.Context, limit int) ([]Post, error) {
	return s.list(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC LIMIT $1`, limit)
}

// ListUnembedded returns the oldest posts that have no vector yet,
// leaving out the ids in skip.
func (s *PostStore) ListUnembedded(ctx context.Context, limit int, skip []string) ([]Post, error) {
	if skip == nil {
		skip = []string{}
	}
	return s.list(ctx, `
		SELECT `+postColumns+` FROM posts
		WHERE vector_id IS NULL
		  AND (coalesce(caption, '') <> '' OR coalesce(image_url, '') <> '')
		  AND NOT (id::text = ANY($2))
		ORDER BY created_at
		LIMIT $1`, limit, skip)
}

func (s *PostStore) list(ctx context.Context, sql string, args ...any) ([]Post, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeStoreDatabaseFailure, "listing posts")
	}
	defer rows.Close()

	posts := []Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, reserr.Wrap(err, reserr.CodeStoreDatabaseFailure, "scanning post")
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, reserr.Wrap(err, reserr.CodeStoreDatabaseFailure, "listing posts")
	}
	return posts, nil
}

// RecordEmbedding writes embedding provenance onto a post. A zero
// dimension or empty model is stored as NULL.
func (s *PostStore) RecordEmbedding(ctx context.Context, id string, p Provenance) error {
	var dimension, model any
	if p.Dimension > 0 {
		dimension = p.Dimension
	}
	if p.ModelName != "" {
		model = p.ModelName
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE posts SET
			vector_id = $2,
			embedding_dimension = $3,
			embedding_model = $4,
			embedded_at = $5
		WHERE id::text = $1
	`, id, p.VectorID, dimension, model, p.EmbeddedAt)
	if err != nil {
		return reserr.Wrap(err, reserr.CodeStoreDatabaseFailure, "recording embedding", reserr.FieldPostID(id))
	}
	if tag.RowsAffected() == 0 {
		return reserr.New(reserr.CodeStorePostNotFound, "post not found", reserr.FieldPostID(id))
	}
	return nil
}

// ClearEmbedding removes provenance so the next lookup re-embeds lazily.
// Clearing a missing post is not an error.
func (s *PostStore) ClearEmbedding(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE posts SET
			vector_id = NULL,
			embedding_dimension = NULL,
			embedding_model = NULL,
			embedded_at = NULL
		WHERE id::text = $1
	`, id)
	if err != nil {
		return reserr.Wrap(err, reserr.CodeStoreDatabaseFailure, "clearing embedding", reserr.FieldPostID(id))
	}
	return nil
}
