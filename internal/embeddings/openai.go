package embeddings

import (
	"context"
	"errors"
	"net/http"

	pgvector "github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// OpenAIProvider embeds captions with OpenAI's embedding API. It is
// text-only: image-only inputs are rejected.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewOpenAIProvider creates a new OpenAI embedding provider. baseURL may be
// empty to use the public API.
func NewOpenAIProvider(apiKey, model string, dimension int, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, reserr.New(reserr.CodeEmbeddingProviderConfig, "OPENAI_API_KEY is required for the openai provider")
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		dimension: dimension,
	}, nil
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the model name.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Embed generates an embedding for the caption.
func (p *OpenAIProvider) Embed(ctx context.Context, in Input) (pgvector.Vector, error) {
	if err := in.Validate(); err != nil {
		return pgvector.Vector{}, err
	}
	if !in.HasText() {
		return pgvector.Vector{}, reserr.New(reserr.CodeEmbeddingInputInvalid, "openai provider requires text", reserr.FieldProvider(p.Name()))
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{in.Text},
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimension,
	})
	if err != nil {
		return pgvector.Vector{}, p.classify(err)
	}

	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return pgvector.Vector{}, malformed(p.Name(), "no embeddings returned")
	}

	return pgvector.NewVector(resp.Data[0].Embedding), nil
}

func (p *OpenAIProvider) classify(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return reserr.Wrap(err, reserr.CodeEmbeddingProviderConfig, "openai rejected credentials", reserr.FieldProvider(p.Name()))
	}
	return unavailable(p.Name(), err)
}
