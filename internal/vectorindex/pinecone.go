package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

const pineconeAPIVersion = "2024-07"

// PineconeConfig locates one Pinecone index.
type PineconeConfig struct {
	APIKey    string
	Host      string // index host, with or without scheme
	Namespace string
}

// Pinecone talks to the Pinecone data-plane REST API.
type Pinecone struct {
	host      string
	apiKey    string
	namespace string
	client    *http.Client
}

// NewPinecone creates a Pinecone index client.
func NewPinecone(cfg PineconeConfig, client *http.Client) (*Pinecone, error) {
	if cfg.APIKey == "" || cfg.Host == "" {
		return nil, reserr.New(reserr.CodeConfigInvalid, "PINECONE_API_KEY and PINECONE_INDEX_HOST are required for the pinecone backend")
	}
	host := strings.TrimRight(cfg.Host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Pinecone{host: host, apiKey: cfg.APIKey, namespace: cfg.Namespace, client: client}, nil
}

// Name returns the backend name.
func (p *Pinecone) Name() string { return BackendPinecone }

type pineconeVector struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}

type pineconeDeleteRequest struct {
	IDs       []string `json:"ids"`
	Namespace string   `json:"namespace,omitempty"`
}

type pineconeQueryRequest struct {
	Vector          []float32      `json:"vector"`
	TopK            int            `json:"topK"`
	IncludeMetadata bool           `json:"includeMetadata"`
	Filter          map[string]any `json:"filter,omitempty"`
	Namespace       string         `json:"namespace,omitempty"`
}

type pineconeQueryResponse struct {
	Matches []Match `json:"matches"`
}

type pineconeFetchResponse struct {
	Vectors map[string]pineconeVector `json:"vectors"`
}

// Upsert writes rec, overwriting any previous vector for its id.
func (p *Pinecone) Upsert(ctx context.Context, rec Record) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	meta := rec.Metadata
	if meta.Dimension == 0 {
		meta.Dimension = len(rec.Values.Slice())
	}
	if meta.PostID == "" {
		meta.PostID = rec.ID
	}

	req := pineconeUpsertRequest{
		Vectors:   []pineconeVector{{ID: rec.ID, Values: rec.Values.Slice(), Metadata: &meta}},
		Namespace: p.namespace,
	}
	return p.do(ctx, http.MethodPost, "/vectors/upsert", req, nil)
}

// Delete removes ids. Pinecone treats absent ids as a successful no-op.
func (p *Pinecone) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return p.do(ctx, http.MethodPost, "/vectors/delete", pineconeDeleteRequest{IDs: ids, Namespace: p.namespace}, nil)
}

// QueryByVector returns neighbors of vec with the same dimension.
func (p *Pinecone) QueryByVector(ctx context.Context, vec pgvector.Vector, q Query) ([]Match, error) {
	values := vec.Slice()
	if len(values) == 0 {
		return nil, reserr.New(reserr.CodeVectorIndexRequestInvalid, "query vector is empty")
	}

	filter := map[string]any{"dimension": map[string]any{"$eq": len(values)}}
	if q.ExcludeID != "" {
		filter["postId"] = map[string]any{"$ne": q.ExcludeID}
	}

	k := topK(q)
	var resp pineconeQueryResponse
	err := p.do(ctx, http.MethodPost, "/query", pineconeQueryRequest{
		Vector:          values,
		TopK:            k,
		IncludeMetadata: true,
		Filter:          filter,
		Namespace:       p.namespace,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return dropExcluded(resp.Matches, q.ExcludeID, k), nil
}

// QueryByID fetches the stored vector for id and queries with it. An id
// missing from the fetch response is NotFound; transport or decode problems
// are Failed.
func (p *Pinecone) QueryByID(ctx context.Context, id string, q Query) Lookup {
	params := url.Values{}
	params.Set("ids", id)
	if p.namespace != "" {
		params.Set("namespace", p.namespace)
	}

	var fetched pineconeFetchResponse
	if err := p.do(ctx, http.MethodGet, "/vectors/fetch?"+params.Encode(), nil, &fetched); err != nil {
		return Failed(err)
	}

	stored, ok := fetched.Vectors[id]
	if !ok {
		return NotFound()
	}
	if len(stored.Values) == 0 {
		return Failed(reserr.New(reserr.CodeVectorIndexResponseMalformed, "fetched vector has no values", reserr.FieldPostID(id)))
	}

	matches, err := p.QueryByVector(ctx, pgvector.NewVector(stored.Values), q)
	if err != nil {
		return Failed(err)
	}
	return Found(matches)
}

func (p *Pinecone) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling pinecone request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.host+path, reader)
	if err != nil {
		return fmt.Errorf("creating pinecone request: %w", err)
	}
	req.Header.Set("Api-Key", p.apiKey)
	req.Header.Set("X-Pinecone-API-Version", pineconeAPIVersion)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return reserr.Wrap(err, reserr.CodeVectorIndexUnavailable, "pinecone is unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		code := reserr.CodeVectorIndexUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests &&
			resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
			code = reserr.CodeVectorIndexRequestInvalid
		}
		return reserr.New(code, fmt.Sprintf("pinecone %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg))),
			reserr.Field("status", resp.StatusCode))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return reserr.Wrap(err, reserr.CodeVectorIndexResponseMalformed, "decoding pinecone response")
	}
	return nil
}
