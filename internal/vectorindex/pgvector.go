package vectorindex

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/store"
)

// PGVector stores post vectors in Postgres and ranks them by cosine
// distance. The embedding column is unsized so records from different
// models can coexist; queries filter on the dimension column.
type PGVector struct {
	db store.DBTX
}

// NewPGVector creates a pgvector-backed index.
func NewPGVector(db store.DBTX) *PGVector {
	return &PGVector{db: db}
}

// Name returns the backend name.
func (p *PGVector) Name() string { return BackendPGVector }

// EnsureSchema creates the vector table if it does not exist.
func (p *PGVector) EnsureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS resemble_post_vectors (
			id         text PRIMARY KEY,
			post_id    text NOT NULL,
			embedding  vector NOT NULL,
			dimension  integer NOT NULL,
			model      text NOT NULL DEFAULT '',
			created_at timestamptz NOT NULL DEFAULT now(),
			updated_at timestamptz NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS resemble_post_vectors_dimension_idx ON resemble_post_vectors (dimension);
	`)
	if err != nil {
		return reserr.Wrap(err, reserr.CodeVectorIndexUnavailable, "creating resemble_post_vectors")
	}
	return nil
}

// Upsert inserts or replaces the vector for rec.ID.
func (p *PGVector) Upsert(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	postID := rec.Metadata.PostID
	if postID == "" {
		postID = rec.ID
	}

	_, err := p.db.Exec(ctx, `
		INSERT INTO resemble_post_vectors (id, post_id, embedding, dimension, model)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			post_id = EXCLUDED.post_id,
			embedding = EXCLUDED.embedding,
			dimension = EXCLUDED.dimension,
			model = EXCLUDED.model,
			updated_at = now()
	`, rec.ID, postID, rec.Values, len(rec.Values.Slice()), rec.Metadata.Model)
	if err != nil {
		return reserr.Wrap(err, reserr.CodeVectorIndexUnavailable, "upserting vector", reserr.FieldPostID(rec.ID))
	}
	return nil
}

// Delete removes ids; absent ids are ignored.
func (p *PGVector) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := p.db.Exec(ctx, `DELETE FROM resemble_post_vectors WHERE id = ANY($1)`, ids); err != nil {
		return reserr.Wrap(err, reserr.CodeVectorIndexUnavailable, "deleting vectors")
	}
	return nil
}

// QueryByVector returns the nearest records of the same dimension.
func (p *PGVector) QueryByVector(ctx context.Context, vec pgvector.Vector, q Query) ([]Match, error) {
	dim := len(vec.Slice())
	if dim == 0 {
		return nil, reserr.New(reserr.CodeVectorIndexRequestInvalid, "query vector is empty")
	}

	rows, err := p.db.Query(ctx, `
		SELECT id, embedding <=> $1 AS distance
		FROM resemble_post_vectors
		WHERE dimension = $2 AND id <> $3
		ORDER BY distance, id
		LIMIT $4
	`, vec, dim, q.ExcludeID, topK(q))
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeVectorIndexUnavailable, "querying nearest vectors")
	}
	defer rows.Close()

	matches := []Match{}
	for rows.Next() {
		var (
			m        Match
			distance float64
		)
		if err := rows.Scan(&m.ID, &distance); err != nil {
			return nil, reserr.Wrap(err, reserr.CodeVectorIndexResponseMalformed, "scanning nearest vector")
		}
		m.Score = 1.0 - distance
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, reserr.Wrap(err, reserr.CodeVectorIndexUnavailable, "iterating nearest vectors")
	}
	return matches, nil
}

// QueryByID loads the stored vector for id and queries with it.
func (p *PGVector) QueryByID(ctx context.Context, id string, q Query) Lookup {
	var vec pgvector.Vector
	err := p.db.QueryRow(ctx, `SELECT embedding FROM resemble_post_vectors WHERE id = $1`, id).Scan(&vec)
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound()
	}
	if err != nil {
		return Failed(reserr.Wrap(err, reserr.CodeVectorIndexUnavailable, "loading stored vector", reserr.FieldPostID(id)))
	}

	matches, err := p.QueryByVector(ctx, vec, q)
	if err != nil {
		return Failed(err)
	}
	return Found(matches)
}
