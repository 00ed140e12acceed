package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	pgvector "github.com/pgvector/pgvector-go"
)

// DefaultHuggingFaceModel is a CLIP model that embeds images and text into
// the same space.
const DefaultHuggingFaceModel = "openai/clip-vit-base-patch32"

// HuggingFaceProvider requests image and text vectors separately from the
// inference API and averages them per dimension. Vectors of different
// dimension are rejected rather than combined.
type HuggingFaceProvider struct {
	baseURL string
	token   string
	model   string
	images  *ImageResolver
	client  *http.Client
}

// NewHuggingFaceProvider creates a HuggingFace inference provider. An empty
// baseURL selects the hosted inference API.
func NewHuggingFaceProvider(baseURL, token, model string, images *ImageResolver) *HuggingFaceProvider {
	if model == "" {
		model = DefaultHuggingFaceModel
	}
	if baseURL == "" {
		baseURL = "https://api-inference.huggingface.co/models"
	}
	return &HuggingFaceProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		model:   model,
		images:  images,
		client:  &http.Client{},
	}
}

// Name returns the provider name.
func (p *HuggingFaceProvider) Name() string { return "huggingface" }

// Model returns the model name.
func (p *HuggingFaceProvider) Model() string { return p.model }

type hfImageInputs struct {
	Image string `json:"image"`
}

type hfRequest struct {
	Inputs any `json:"inputs"`
}

type hfResponse []struct {
	Embedding []float32 `json:"embedding"`
}

// Embed embeds each present modality and averages the results.
func (p *HuggingFaceProvider) Embed(ctx context.Context, in Input) (pgvector.Vector, error) {
	if err := in.Validate(); err != nil {
		return pgvector.Vector{}, err
	}

	var vectors [][]float32

	if in.HasImage() {
		data, err := p.images.Resolve(ctx, in.ImageRef)
		if err != nil {
			return pgvector.Vector{}, err
		}
		vec, err := p.call(ctx, hfImageInputs{Image: base64.StdEncoding.EncodeToString(data)}, "image")
		if err != nil {
			return pgvector.Vector{}, err
		}
		vectors = append(vectors, vec)
	}

	if in.HasText() {
		vec, err := p.call(ctx, in.Text, "text")
		if err != nil {
			return pgvector.Vector{}, err
		}
		vectors = append(vectors, vec)
	}

	avg, err := averageVectors(vectors)
	if err != nil {
		return pgvector.Vector{}, malformed(p.Name(), err.Error())
	}
	return pgvector.NewVector(avg), nil
}

func (p *HuggingFaceProvider) call(ctx context.Context, inputs any, modality string) ([]float32, error) {
	body, err := json.Marshal(hfRequest{Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/"+p.model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, unavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if err := checkStatus(p.Name(), resp); err != nil {
		return nil, err
	}

	var result hfResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, malformed(p.Name(), fmt.Sprintf("parsing %s embedding response: %v", modality, err))
	}
	if len(result) == 0 || len(result[0].Embedding) == 0 {
		return nil, malformed(p.Name(), "failed to get "+modality+" embedding from huggingface")
	}
	return result[0].Embedding, nil
}

// averageVectors returns the per-dimension mean. All vectors must share a
// dimension.
func averageVectors(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to average")
	}
	dim := len(vectors[0])
	sum := make([]float64, dim)
	for _, vec := range vectors {
		if len(vec) != dim {
			return nil, fmt.Errorf("cannot average vectors of dimension %d and %d", dim, len(vec))
		}
		for i, v := range vec {
			sum[i] += float64(v)
		}
	}

	out := make([]float32, dim)
	n := float64(len(vectors))
	for i := range sum {
		out[i] = float32(sum[i] / n)
	}
	return out, nil
}
