// Package vectorindex adapts nearest-neighbor stores keyed by post id.
//
// Every backend separates three lookup outcomes: the id is present (possibly
// with zero neighbors), the id is absent, or the lookup itself failed. Only
// the absent case may trigger a backfill.
package vectorindex

import (
	"context"

	pgvector "github.com/pgvector/pgvector-go"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// Metadata is stored alongside each vector.
type Metadata struct {
	PostID    string `json:"postId"`
	Dimension int    `json:"dimension"`
	Model     string `json:"model,omitempty"`
}

// Record is one vector keyed by post id.
type Record struct {
	ID       string
	Values   pgvector.Vector
	Metadata Metadata
}

// Query parameterizes a nearest-neighbor search.
type Query struct {
	TopK      int
	ExcludeID string
}

// Match is one neighbor, ordered by descending score.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// LookupStatus is the outcome of QueryByID.
type LookupStatus int

const (
	// LookupFound means the id is indexed; Matches may be empty.
	LookupFound LookupStatus = iota
	// LookupNotFound means the id has no vector yet.
	LookupNotFound
	// LookupFailed means the lookup could not be answered.
	LookupFailed
)

func (s LookupStatus) String() string {
	switch s {
	case LookupFound:
		return "found"
	case LookupNotFound:
		return "not_found"
	default:
		return "failed"
	}
}

// Lookup is the result of QueryByID.
type Lookup struct {
	Status  LookupStatus
	Matches []Match
	Cause   error
}

// Found reports an indexed id and its neighbors.
func Found(matches []Match) Lookup {
	if matches == nil {
		matches = []Match{}
	}
	return Lookup{Status: LookupFound, Matches: matches}
}

// NotFound reports an id with no stored vector.
func NotFound() Lookup {
	return Lookup{Status: LookupNotFound}
}

// Failed reports a lookup that could not be answered.
func Failed(err error) Lookup {
	return Lookup{Status: LookupFailed, Cause: err}
}

// Err returns nil for Found, a not-found coded error for NotFound and the
// cause for Failed.
func (l Lookup) Err() error {
	switch l.Status {
	case LookupFound:
		return nil
	case LookupNotFound:
		return reserr.New(reserr.CodeVectorIndexNotFound, "vector not found in index")
	default:
		if l.Cause == nil {
			return reserr.New(reserr.CodeVectorIndexUnavailable, "vector lookup failed")
		}
		return l.Cause
	}
}

// Index is a nearest-neighbor store. Upsert and Delete are idempotent.
// Queries only compare vectors of the same dimension as the query vector.
type Index interface {
	Upsert(ctx context.Context, rec Record) error
	Delete(ctx context.Context, ids ...string) error
	QueryByVector(ctx context.Context, vec pgvector.Vector, q Query) ([]Match, error)
	QueryByID(ctx context.Context, id string, q Query) Lookup
	Name() string
}

// Backend names accepted by VECTOR_INDEX_BACKEND.
const (
	BackendPinecone = "pinecone"
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

func validateRecord(rec Record) error {
	if rec.ID == "" {
		return reserr.New(reserr.CodeVectorIndexRequestInvalid, "record id is required")
	}
	if len(rec.Values.Slice()) == 0 {
		return reserr.New(reserr.CodeVectorIndexRequestInvalid, "record has no values", reserr.FieldPostID(rec.ID))
	}
	return nil
}

func topK(q Query) int {
	if q.TopK <= 0 {
		return 1
	}
	return q.TopK
}

// dropExcluded removes the excluded id and trims to k. Backends filter
// server-side too, but records written without metadata would slip through.
func dropExcluded(matches []Match, exclude string, k int) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if exclude != "" && m.ID == exclude {
			continue
		}
		out = append(out, m)
		if len(out) == k {
			break
		}
	}
	return out
}
