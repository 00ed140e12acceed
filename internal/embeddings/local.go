package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	pgvector "github.com/pgvector/pgvector-go"
)

// LocalProvider calls a local inference server that captions the image and
// fuses caption and text into a single vector.
type LocalProvider struct {
	url    string
	model  string
	images *ImageResolver
	client *http.Client
}

// NewLocalProvider creates a new local embedding provider.
// url is the full embed endpoint, e.g. "http://127.0.0.1:8050/embed".
func NewLocalProvider(url string, images *ImageResolver) *LocalProvider {
	return &LocalProvider{
		url:    url,
		model:  "local-caption-fusion",
		images: images,
		client: &http.Client{},
	}
}

// Name returns the provider name.
func (p *LocalProvider) Name() string {
	return "local"
}

// Model returns the model name.
func (p *LocalProvider) Model() string {
	return p.model
}

type localResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed posts the text and image as multipart form data.
func (p *LocalProvider) Embed(ctx context.Context, in Input) (pgvector.Vector, error) {
	if err := in.Validate(); err != nil {
		return pgvector.Vector{}, err
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	if in.HasText() {
		if err := form.WriteField("text", in.Text); err != nil {
			return pgvector.Vector{}, fmt.Errorf("writing text field: %w", err)
		}
	}

	if in.HasImage() {
		data, err := p.images.Resolve(ctx, in.ImageRef)
		if err != nil {
			return pgvector.Vector{}, err
		}
		part, err := form.CreateFormFile("image", "image.jpg")
		if err != nil {
			return pgvector.Vector{}, fmt.Errorf("creating image part: %w", err)
		}
		if _, err := part.Write(data); err != nil {
			return pgvector.Vector{}, fmt.Errorf("writing image part: %w", err)
		}
	}

	if err := form.Close(); err != nil {
		return pgvector.Vector{}, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, &buf)
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return pgvector.Vector{}, unavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if err := checkStatus(p.Name(), resp); err != nil {
		return pgvector.Vector{}, err
	}

	var result localResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return pgvector.Vector{}, malformed(p.Name(), "invalid embedding response from server: "+err.Error())
	}
	if len(result.Embedding) == 0 {
		return pgvector.Vector{}, malformed(p.Name(), "invalid embedding response from server: missing embedding")
	}

	return pgvector.NewVector(result.Embedding), nil
}
