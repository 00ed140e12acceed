package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"path"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"
)

// DefaultSimpleDimension is the vector size of the hashing provider.
const DefaultSimpleDimension = 384

// SimpleProvider generates embeddings by hashing caption words and image
// file-name tokens into vector dimensions. Not semantically meaningful, but
// deterministic and offline, which suits development and tests.
type SimpleProvider struct {
	dimension int
}

// NewSimpleProvider creates a new SimpleProvider. A non-positive dimension
// selects DefaultSimpleDimension.
func NewSimpleProvider(dimension int) *SimpleProvider {
	if dimension <= 0 {
		dimension = DefaultSimpleDimension
	}
	return &SimpleProvider{dimension: dimension}
}

// Name returns the provider name.
func (p *SimpleProvider) Name() string {
	return "simple"
}

// Model returns the model name; it encodes the dimension so records from
// differently sized configurations never look interchangeable.
func (p *SimpleProvider) Model() string {
	return fmt.Sprintf("fnv-hash-%d", p.dimension)
}

// Embed hashes words and bigrams, then L2-normalizes the vector.
func (p *SimpleProvider) Embed(_ context.Context, in Input) (pgvector.Vector, error) {
	if err := in.Validate(); err != nil {
		return pgvector.Vector{}, err
	}

	vec := make([]float32, p.dimension)

	words := tokenize(in.Text)
	if in.HasImage() {
		// The file name is the only image signal available offline.
		base := path.Base(strings.ReplaceAll(in.ImageRef, "\\", "/"))
		base = strings.TrimSuffix(base, path.Ext(base))
		words = append(words, tokenize(strings.NewReplacer("-", " ", "_", " ").Replace(base))...)
	}

	for _, word := range words {
		vec[p.index(word)] += 1.0
	}
	for i := 0; i < len(words)-1; i++ {
		vec[p.index(words[i]+" "+words[i+1])] += 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}

	return pgvector.NewVector(vec), nil
}

func (p *SimpleProvider) index(token string) int {
	h := fnv.New64a()
	h.Write([]byte(token))
	return int(h.Sum64() % uint64(p.dimension))
}

// tokenize splits text into lowercase word tokens.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	for _, c := range ".,;:!?()[]{}\"'`~@#$%^&*+=|\\/<>" {
		text = strings.ReplaceAll(text, string(c), " ")
	}
	fields := strings.Fields(text)
	var result []string
	for _, f := range fields {
		if len(f) >= 2 {
			result = append(result, f)
		}
	}
	return result
}
