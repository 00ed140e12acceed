package lexical_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Resemble/internal/lexical"
)

var pairs = [][2]string{
	{"a cat on a mat", "the cat sat"},
	{"Sunset over the BAY", "bay sunset"},
	{"one two three", "four five six"},
	{"dog dog dog", "dog"},
	{"  spaced   out  words ", "words out"},
	{"", "anything"},
}

func TestSimilarity_Symmetric(t *testing.T) {
	for _, p := range pairs {
		assert.Equal(t, lexical.Similarity(p[0], p[1]), lexical.Similarity(p[1], p[0]), "%q vs %q", p[0], p[1])
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	for _, p := range pairs {
		s := lexical.Similarity(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestSimilarity_EmptyIsZero(t *testing.T) {
	assert.Zero(t, lexical.Similarity("", "anything"))
	assert.Zero(t, lexical.Similarity("anything", ""))
	assert.Zero(t, lexical.Similarity("   ", "   "))
	assert.Zero(t, lexical.Similarity("", ""))
}

func TestSimilarity_SelfIsOne(t *testing.T) {
	for _, text := range []string{"x", "hello world", "the the the quick fox", "MiXeD case Text"} {
		assert.Equal(t, 1.0, lexical.Similarity(text, text), text)
	}
}

func TestSimilarity_CaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, 1.0, lexical.Similarity("Golden  Gate\tBridge", "golden gate bridge"))
}

func TestSimilarity_Disjoint(t *testing.T) {
	assert.Zero(t, lexical.Similarity("one two three", "four five six"))
}

func TestSimilarity_KnownValue(t *testing.T) {
	// {dog:3} vs {dog:1}: parallel vectors.
	assert.InDelta(t, 1.0, lexical.Similarity("dog dog dog", "dog"), 1e-12)
	// {a:1,b:1} vs {a:1}: 1/sqrt(2).
	assert.InDelta(t, 0.7071067811865475, lexical.Similarity("a b", "a"), 1e-12)
}

func TestRank(t *testing.T) {
	candidates := []lexical.Candidate{
		{ID: "p3", Text: "city lights at night"},
		{ID: "p1", Text: "sunset over the bay"},
		{ID: "p2", Text: "sunset"},
		{ID: "p4", Text: "sunset over the bay"},
	}

	ranked := lexical.Rank("sunset over the bay", candidates, 2)
	require.Len(t, ranked, 2)
	assert.Equal(t, "p1", ranked[0].ID, "ties break by id")
	assert.Equal(t, "p4", ranked[1].ID)

	all := lexical.Rank("sunset", candidates, 0)
	require.Len(t, all, 3, "zero scores are dropped")
	assert.Equal(t, "p2", all[0].ID)
}
