package vectorindex

import (
	"context"
	"math"
	"sort"
	"sync"

	pgvector "github.com/pgvector/pgvector-go"
)

// Memory is a brute-force cosine index held in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemory creates an empty in-memory index.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]Record)}
}

// Name returns the backend name.
func (m *Memory) Name() string { return BackendMemory }

// Upsert stores a copy of rec, replacing any previous record for its id.
func (m *Memory) Upsert(_ context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	values := append([]float32(nil), rec.Values.Slice()...)
	rec.Values = pgvector.NewVector(values)
	if rec.Metadata.Dimension == 0 {
		rec.Metadata.Dimension = len(values)
	}

	m.mu.Lock()
	m.records[rec.ID] = rec
	m.mu.Unlock()
	return nil
}

// Delete removes ids; absent ids are ignored.
func (m *Memory) Delete(_ context.Context, ids ...string) error {
	m.mu.Lock()
	for _, id := range ids {
		delete(m.records, id)
	}
	m.mu.Unlock()
	return nil
}

// Get returns the stored record for id.
func (m *Memory) Get(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return rec, ok
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// QueryByVector ranks records of the same dimension by cosine similarity.
func (m *Memory) QueryByVector(_ context.Context, vec pgvector.Vector, q Query) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.query(vec.Slice(), q), nil
}

// QueryByID queries with the stored vector for id.
func (m *Memory) QueryByID(_ context.Context, id string, q Query) Lookup {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return NotFound()
	}
	return Found(m.query(rec.Values.Slice(), q))
}

func (m *Memory) query(vec []float32, q Query) []Match {
	matches := make([]Match, 0, len(m.records))
	for id, rec := range m.records {
		if id == q.ExcludeID || len(rec.Values.Slice()) != len(vec) {
			continue
		}
		matches = append(matches, Match{ID: id, Score: cosine(vec, rec.Values.Slice())})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})

	if k := topK(q); len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
