// Package lexical scores caption similarity without embeddings.
package lexical

import (
	"math"
	"sort"
	"strings"
)

// Similarity returns the cosine similarity of the term-frequency vectors of
// a and b. Terms are whitespace-separated after lowercasing. The result is
// in [0,1] and is 0 when either text is empty.
func Similarity(a, b string) float64 {
	ta := termFrequencies(a)
	tb := termFrequencies(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var dot, na, nb float64
	for term, fa := range ta {
		na += fa * fa
		dot += fa * tb[term]
	}
	for _, fb := range tb {
		nb += fb * fb
	}
	if na == 0 || nb == 0 {
		return 0
	}

	// Term counts are small integers, so the products are exact and
	// identical texts score exactly 1.
	return math.Min(1, dot/math.Sqrt(na*nb))
}

func termFrequencies(text string) map[string]float64 {
	terms := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(terms) == 0 {
		return nil
	}
	tf := make(map[string]float64, len(terms))
	for _, t := range terms {
		tf[t]++
	}
	return tf
}

// Candidate is one text that can be ranked against a query.
type Candidate struct {
	ID   string
	Text string
}

// Scored is a ranked candidate.
type Scored struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Rank orders candidates by descending similarity to query, breaking ties
// by id. Zero scores are dropped; topK <= 0 keeps every match.
func Rank(query string, candidates []Candidate, topK int) []Scored {
	out := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if score := Similarity(query, c.Text); score > 0 {
			out = append(out, Scored{ID: c.ID, Score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
