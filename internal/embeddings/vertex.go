package embeddings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	pgvector "github.com/pgvector/pgvector-go"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

const (
	// VertexModel is the multimodal embedding model on Vertex AI.
	VertexModel = "multimodalembedding@001"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"
)

// VertexConfig parameterizes the Vertex AI provider.
type VertexConfig struct {
	Project   string
	Location  string
	Dimension int // 128, 256, 512 or 1408; zero lets the model choose

	// Endpoint overrides the derived predict URL (tests, private endpoints).
	Endpoint string
}

func (c VertexConfig) endpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	return fmt.Sprintf("https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		c.Location, c.Project, c.Location, VertexModel)
}

// VertexProvider embeds image and text in one multimodal predict call and
// keeps the fused vector. It never averages separately fetched modalities.
type VertexProvider struct {
	cfg    VertexConfig
	tokens auth.TokenProvider
	images *ImageResolver
	client *http.Client
}

// NewVertexProvider creates a Vertex AI provider.
func NewVertexProvider(cfg VertexConfig, tokens auth.TokenProvider, images *ImageResolver) (*VertexProvider, error) {
	if cfg.Endpoint == "" && (cfg.Project == "" || cfg.Location == "") {
		return nil, reserr.New(reserr.CodeEmbeddingProviderConfig, "GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION are required for the vertex provider")
	}
	if tokens == nil {
		return nil, reserr.New(reserr.CodeEmbeddingProviderConfig, "vertex provider requires a token provider")
	}
	return &VertexProvider{
		cfg:    cfg,
		tokens: tokens,
		images: images,
		client: &http.Client{},
	}, nil
}

// Name returns the provider name.
func (p *VertexProvider) Name() string { return "vertex" }

// Model returns the model name.
func (p *VertexProvider) Model() string { return VertexModel }

type vertexImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type vertexInstance struct {
	Image *vertexImage `json:"image,omitempty"`
	Text  string       `json:"text,omitempty"`
}

type vertexParameters struct {
	Dimension int `json:"dimension,omitempty"`
}

type vertexRequest struct {
	Instances  []vertexInstance  `json:"instances"`
	Parameters *vertexParameters `json:"parameters,omitempty"`
}

type vertexPrediction struct {
	MultimodalEmbedding []float32 `json:"multimodalEmbedding,omitempty"`
	ImageEmbedding      []float32 `json:"imageEmbedding,omitempty"`
	TextEmbedding       []float32 `json:"textEmbedding,omitempty"`
}

type vertexResponse struct {
	Predictions []vertexPrediction `json:"predictions"`
}

// pick prefers the fused vector, then the image vector; text-only requests
// only ever carry a text vector.
func (v vertexPrediction) pick() []float32 {
	switch {
	case len(v.MultimodalEmbedding) > 0:
		return v.MultimodalEmbedding
	case len(v.ImageEmbedding) > 0:
		return v.ImageEmbedding
	default:
		return v.TextEmbedding
	}
}

// Embed generates an embedding using the Vertex AI predict endpoint.
func (p *VertexProvider) Embed(ctx context.Context, in Input) (pgvector.Vector, error) {
	if err := in.Validate(); err != nil {
		return pgvector.Vector{}, err
	}

	instance := vertexInstance{}
	if in.HasImage() {
		data, err := p.images.Resolve(ctx, in.ImageRef)
		if err != nil {
			return pgvector.Vector{}, err
		}
		instance.Image = &vertexImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(data)}
	}
	if in.HasText() {
		instance.Text = in.Text
	}

	reqBody := vertexRequest{Instances: []vertexInstance{instance}}
	if p.cfg.Dimension > 0 {
		reqBody.Parameters = &vertexParameters{Dimension: p.cfg.Dimension}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("marshaling request: %w", err)
	}

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return pgvector.Vector{}, reserr.Wrap(err, reserr.CodeEmbeddingUnavailable, "obtaining vertex access token", reserr.FieldProvider(p.Name()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.endpoint(), bytes.NewReader(body))
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token.Value)

	resp, err := p.client.Do(req)
	if err != nil {
		return pgvector.Vector{}, unavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if err := checkStatus(p.Name(), resp); err != nil {
		return pgvector.Vector{}, err
	}

	var result vertexResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return pgvector.Vector{}, malformed(p.Name(), "parsing vertex response: "+err.Error())
	}
	if len(result.Predictions) == 0 {
		return pgvector.Vector{}, malformed(p.Name(), "no predictions returned from vertex")
	}

	vec := result.Predictions[0].pick()
	if len(vec) == 0 {
		return pgvector.Vector{}, malformed(p.Name(), "no embedding found in vertex response")
	}
	return pgvector.NewVector(vec), nil
}

// serviceAccountKey is the subset of a service-account JSON key we check
// before handing it to the credential exchange.
type serviceAccountKey struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
}

// DecodeServiceKey decodes a base64-encoded service-account JSON key.
func DecodeServiceKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, reserr.New(reserr.CodeEmbeddingProviderConfig, "GOOGLE_SERVICE_KEY is not set")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingProviderConfig, "GOOGLE_SERVICE_KEY is not valid base64")
	}

	var key serviceAccountKey
	if err := json.Unmarshal(raw, &key); err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingProviderConfig, "GOOGLE_SERVICE_KEY is not valid JSON")
	}
	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, reserr.New(reserr.CodeEmbeddingProviderConfig, "invalid credential format: missing client_email or private_key")
	}
	return raw, nil
}

// ServiceAccountTokens exchanges a service-account key for cloud-platform
// access tokens. Tokens are cached and refreshed by the auth library.
func ServiceAccountTokens(keyJSON []byte) (auth.TokenProvider, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{cloudPlatformScope},
		CredentialsJSON: keyJSON,
	})
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingProviderConfig, "loading service account credentials")
	}
	return creds, nil
}
