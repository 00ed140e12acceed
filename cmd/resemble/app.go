package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MikeSquared-Agency/Resemble/internal/config"
	"github.com/MikeSquared-Agency/Resemble/internal/embeddings"
	"github.com/MikeSquared-Agency/Resemble/internal/encryption"
	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/hermes"
	"github.com/MikeSquared-Agency/Resemble/internal/similar"
	"github.com/MikeSquared-Agency/Resemble/internal/store"
	"github.com/MikeSquared-Agency/Resemble/internal/vectorindex"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db        *store.DB
	posts     *store.PostStore
	index     vectorindex.Index
	selector  *embeddings.Selector
	service   *similar.Service
	hermes    *hermes.Client
	publisher *hermes.Publisher
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newApp connects the configured backends. The database and NATS are
// optional; the returned app must be closed.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.DatabaseURL != "" {
		var opts []store.Option
		if cfg.VectorIndexBackend == vectorindex.BackendPGVector {
			if err := store.EnsureVectorExtension(ctx, cfg.DatabaseURL); err != nil {
				return nil, err
			}
			opts = append(opts, store.WithVectorTypes())
		}
		db, err := store.NewDB(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, opts...)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.posts = store.NewPostStore(db.DBTX())
		logger.Info("connected to database")
	}

	index, err := buildIndex(ctx, cfg, a.db)
	if err != nil {
		a.close()
		return nil, err
	}
	a.index = index

	var enc *encryption.Encryptor
	if cfg.EncryptionKey != "" {
		enc, err = encryption.NewEncryptor(cfg.EncryptionKey)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	images, err := embeddings.NewImageResolver(cfg.PublicAssetRoot, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		a.close()
		return nil, reserr.Wrap(err, reserr.CodeConfigInvalid, "resolving PUBLIC_ASSET_ROOT")
	}
	a.selector = embeddings.NewSelector(config.ProviderKey, embeddings.DefaultProvider, providerFactories(cfg, images, enc))

	if cfg.NatsURL != "" {
		client, err := hermes.NewClient(cfg.NatsURL, logger)
		if err != nil {
			logger.Warn("failed to connect to Hermes (NATS), running without event bus", "error", err)
		} else {
			a.hermes = client
			a.publisher = hermes.NewPublisher(client, logger)
			logger.Info("connected to Hermes (NATS)", "url", cfg.NatsURL)
		}
	}

	var resolver *similar.Resolver
	if a.index != nil {
		resolver = similar.NewResolver(a.index, logger, similar.WithEmbedTimeout(cfg.EmbeddingTimeout))
	}

	// Typed nils must not leak into the service's interfaces.
	var posts similar.Posts
	if a.posts != nil {
		posts = a.posts
	}
	var publisher similar.Publisher
	if a.publisher != nil {
		publisher = a.publisher
	}

	a.service = similar.NewService(resolver, a.index, a.selector, posts, publisher, similar.Config{DefaultTopK: cfg.SimilarTopK}, logger)
	return a, nil
}

// buildIndex returns the configured vector index, or nil for lexical-only mode.
func buildIndex(ctx context.Context, cfg *config.Config, db *store.DB) (vectorindex.Index, error) {
	switch cfg.VectorIndexBackend {
	case vectorindex.BackendNone:
		return nil, nil
	case vectorindex.BackendPinecone:
		idx, err := vectorindex.NewPinecone(vectorindex.PineconeConfig{
			APIKey:    cfg.PineconeAPIKey,
			Host:      cfg.PineconeHost,
			Namespace: cfg.PineconeNamespace,
		}, &http.Client{Timeout: 15 * time.Second})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case vectorindex.BackendPGVector:
		if db == nil {
			return nil, reserr.New(reserr.CodeConfigInvalid, "DATABASE_URL is required for the pgvector backend")
		}
		idx := vectorindex.NewPGVector(db.DBTX())
		if err := idx.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return idx, nil
	case vectorindex.BackendMemory, "":
		return vectorindex.NewMemory(), nil
	default:
		return nil, reserr.Errorf(reserr.CodeConfigInvalid, "unknown vector index backend %q", cfg.VectorIndexBackend)
	}
}

// providerFactories registers every embedding provider. Each factory runs
// on first selection, so an unused provider's credentials are never needed.
func providerFactories(cfg *config.Config, images *embeddings.ImageResolver, enc *encryption.Encryptor) map[string]embeddings.Factory {
	return map[string]embeddings.Factory{
		embeddings.ProviderVertex: func() (embeddings.Provider, error) {
			encoded, err := encryption.Unseal(enc, cfg.GoogleServiceKey)
			if err != nil {
				return nil, err
			}
			keyJSON, err := embeddings.DecodeServiceKey(encoded)
			if err != nil {
				return nil, err
			}
			tokens, err := embeddings.ServiceAccountTokens(keyJSON)
			if err != nil {
				return nil, err
			}
			return embeddings.NewVertexProvider(embeddings.VertexConfig{
				Project:   cfg.GoogleProject,
				Location:  cfg.GoogleLocation,
				Dimension: cfg.VertexDimension,
			}, tokens, images)
		},
		embeddings.ProviderLocal: func() (embeddings.Provider, error) {
			return embeddings.NewLocalProvider(cfg.LocalInferenceURL, images), nil
		},
		embeddings.ProviderHuggingFace: func() (embeddings.Provider, error) {
			if cfg.HFToken == "" {
				return nil, reserr.New(reserr.CodeEmbeddingProviderConfig, "HF_API_TOKEN is required for the huggingface provider")
			}
			return embeddings.NewHuggingFaceProvider("", cfg.HFToken, cfg.HFModel, images), nil
		},
		embeddings.ProviderOpenAI: func() (embeddings.Provider, error) {
			return embeddings.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIDimension, "")
		},
		embeddings.ProviderSimple: func() (embeddings.Provider, error) {
			return embeddings.NewSimpleProvider(embeddings.DefaultSimpleDimension), nil
		},
	}
}

func (a *app) close() {
	if a.hermes != nil {
		if err := a.hermes.Drain(); err != nil {
			a.hermes.Close()
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}
