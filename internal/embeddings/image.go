package embeddings

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// maxImageBytes bounds a single image read, local or remote.
const maxImageBytes = 20 << 20

// ImageResolver turns image references into bytes. Local references are
// confined to the public asset root; http(s) references are fetched.
type ImageResolver struct {
	root   string
	client *http.Client
}

// NewImageResolver creates a resolver rooted at publicRoot.
func NewImageResolver(publicRoot string, client *http.Client) (*ImageResolver, error) {
	abs, err := filepath.Abs(publicRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving public root: %w", err)
	}
	// Compare against the resolved location so symlinked roots still match.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if client == nil {
		client = &http.Client{}
	}
	return &ImageResolver{root: abs, client: client}, nil
}

// Root returns the canonical public asset root.
func (r *ImageResolver) Root() string { return r.root }

// IsRemote reports whether ref is fetched over HTTP rather than read from disk.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Resolve reads the bytes behind ref.
func (r *ImageResolver) Resolve(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, reserr.New(reserr.CodeEmbeddingInputInvalid, "image reference is empty")
	}
	if IsRemote(ref) {
		return r.fetch(ctx, ref)
	}

	path, err := r.LocalPath(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingInputInvalid, "opening image", reserr.Field("image_ref", ref))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", ref, err)
	}
	if len(data) > maxImageBytes {
		return nil, reserr.New(reserr.CodeEmbeddingInputInvalid, "image exceeds size limit", reserr.Field("image_ref", ref))
	}
	return data, nil
}

// LocalPath canonicalizes ref under the public root. Any reference that
// escapes the root, lexically or through a symlink, is rejected before the
// file is opened.
func (r *ImageResolver) LocalPath(ref string) (string, error) {
	rel := strings.TrimLeft(filepath.FromSlash(ref), string(filepath.Separator)+"/")
	full := filepath.Join(r.root, rel)

	if !within(r.root, full) {
		return "", reserr.New(reserr.CodeEmbeddingInputInvalid,
			"invalid image reference: must point inside the public directory",
			reserr.Field("image_ref", ref))
	}

	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", reserr.New(reserr.CodeEmbeddingInputInvalid, "image not found", reserr.Field("image_ref", ref))
		}
		return "", fmt.Errorf("resolving image path: %w", err)
	}
	if !within(r.root, resolved) {
		return "", reserr.New(reserr.CodeEmbeddingInputInvalid,
			"invalid image reference: must point inside the public directory",
			reserr.Field("image_ref", ref))
	}
	return resolved, nil
}

func (r *ImageResolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingInputInvalid, "invalid image URL")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingUnavailable, "fetching image", reserr.Field("image_ref", url))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, reserr.Errorf(reserr.CodeEmbeddingUnavailable, "image host returned %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, reserr.Errorf(reserr.CodeEmbeddingInputInvalid, "failed to fetch image from %s: %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingUnavailable, "reading image body")
	}
	if len(data) > maxImageBytes {
		return nil, reserr.New(reserr.CodeEmbeddingInputInvalid, "image exceeds size limit", reserr.Field("image_ref", url))
	}
	return data, nil
}

// within reports whether path lies strictly inside root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
