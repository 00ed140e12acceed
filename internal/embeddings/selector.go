package embeddings

import (
	"strings"
	"sync"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
)

// Provider names accepted by EMBEDDING_PROVIDER.
const (
	ProviderVertex      = "vertex"
	ProviderLocal       = "local"
	ProviderHuggingFace = "huggingface"
	ProviderOpenAI      = "openai"
	ProviderSimple      = "simple"

	// DefaultProvider is used when the key is unset or unrecognized.
	DefaultProvider = ProviderLocal
)

// Factory builds a provider for one configuration value.
type Factory func() (Provider, error)

// Selector maps the configured provider name to a provider. The key is read
// on every call; constructed providers are immutable and cached per name.
type Selector struct {
	key       func() string
	fallback  string
	factories map[string]Factory

	mu    sync.Mutex
	cache map[string]Provider
}

// NewSelector creates a selector. fallback must name one of factories.
func NewSelector(key func() string, fallback string, factories map[string]Factory) *Selector {
	return &Selector{
		key:       key,
		fallback:  fallback,
		factories: factories,
		cache:     make(map[string]Provider),
	}
}

// Resolve returns the provider name the current configuration selects.
func (s *Selector) Resolve() string {
	name := strings.ToLower(strings.TrimSpace(s.key()))
	if _, ok := s.factories[name]; ok {
		return name
	}
	return s.fallback
}

// Get returns the active provider, constructing it on first use.
func (s *Selector) Get() (Provider, error) {
	name := s.Resolve()

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cache[name]; ok {
		return p, nil
	}

	factory, ok := s.factories[name]
	if !ok {
		return nil, reserr.Errorf(reserr.CodeEmbeddingProviderConfig, "no embedding provider registered for %q", name)
	}

	p, err := factory()
	if err != nil {
		return nil, reserr.Wrap(err, reserr.CodeEmbeddingProviderConfig, "initializing embedding provider", reserr.FieldProvider(name))
	}
	s.cache[name] = p
	return p, nil
}
