// Package config provides environment-based configuration for Resemble.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	reserr "github.com/MikeSquared-Agency/Resemble/internal/errors"
	"github.com/MikeSquared-Agency/Resemble/internal/vectorindex"
)

// ProviderEnv names the variable selecting the embedding provider.
const ProviderEnv = "EMBEDDING_PROVIDER"

// Config holds all configuration for the Resemble service.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	CORSOrigins []string
	APIKey      string

	// Embeddings
	EmbeddingProvider string
	EmbeddingTimeout  time.Duration
	PublicAssetRoot   string

	GoogleProject    string
	GoogleLocation   string
	GoogleServiceKey string
	VertexDimension  int

	LocalInferenceURL string

	HFToken string
	HFModel string

	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIDimension int

	// Vector index
	VectorIndexBackend string
	PineconeAPIKey     string
	PineconeHost       string
	PineconeNamespace  string

	// Database (posts table and pgvector index)
	DatabaseURL      string
	DatabaseMaxConns int

	// NATS / Hermes
	NatsURL string

	// Encryption
	EncryptionKey string

	// Similar lookups
	SimilarTopK          int
	BackfillWarmInterval time.Duration
	BackfillWarmBatch    int

	// Rate limiting
	RateUploadImage      int
	RateEmbed            int
	RateSimilarPosts     int
	RateWindow           time.Duration
	RateSweepProbability float64
}

// Load reads an optional .env file, then the environment, and validates
// the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, reserr.Wrap(err, reserr.CodeConfigInvalid, "reading .env")
	}

	c := FromEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromEnv builds a Config from the environment without validating it.
func FromEnv() *Config {
	return &Config{
		Port:        envInt("RESEMBLE_PORT", 8600),
		LogLevel:    envStr("RESEMBLE_LOG_LEVEL", "info"),
		CORSOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		APIKey:      envStr("RESEMBLE_API_KEY", ""),

		EmbeddingProvider: envStr(ProviderEnv, ""),
		EmbeddingTimeout:  envDuration("EMBEDDING_TIMEOUT", 20*time.Second),
		PublicAssetRoot:   envStr("PUBLIC_ASSET_ROOT", "./public"),

		GoogleProject:    envStr("GOOGLE_CLOUD_PROJECT", ""),
		GoogleLocation:   envStr("GOOGLE_CLOUD_LOCATION", "us-central1"),
		GoogleServiceKey: envStr("GOOGLE_SERVICE_KEY", ""),
		VertexDimension:  envInt("VERTEX_EMBEDDING_DIMENSION", 1408),

		LocalInferenceURL: envStr("LOCAL_INFERENCE_URL", "http://127.0.0.1:8050/embed"),

		HFToken: envStr("HF_API_TOKEN", ""),
		HFModel: envStr("HF_MODEL", "openai/clip-vit-base-patch32"),

		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),
		OpenAIModel:     envStr("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		OpenAIDimension: envInt("OPENAI_EMBEDDING_DIMENSION", 512),

		VectorIndexBackend: strings.ToLower(envStr("VECTOR_INDEX_BACKEND", vectorindex.BackendMemory)),
		PineconeAPIKey:     envStr("PINECONE_API_KEY", ""),
		PineconeHost:       envStr("PINECONE_INDEX_HOST", ""),
		PineconeNamespace:  envStr("PINECONE_NAMESPACE", ""),

		DatabaseURL:      envStr("DATABASE_URL", ""),
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 10),

		NatsURL: envStr("NATS_URL", ""),

		EncryptionKey: envStr("ENCRYPTION_KEY", ""),

		SimilarTopK:          envInt("SIMILAR_TOP_K", 6),
		BackfillWarmInterval: envDuration("BACKFILL_WARM_INTERVAL", 0),
		BackfillWarmBatch:    envInt("BACKFILL_WARM_BATCH", 25),

		RateUploadImage:      envInt("RATE_UPLOAD_IMAGE", 10),
		RateEmbed:            envInt("RATE_EMBED", 20),
		RateSimilarPosts:     envInt("RATE_SIMILAR_POSTS", 30),
		RateWindow:           envDuration("RATE_WINDOW", time.Minute),
		RateSweepProbability: envFloat("RATE_SWEEP_PROBABILITY", 0.01),
	}
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	if c.Port < 1 || c.Port > 65535 {
		add("RESEMBLE_PORT must be between 1 and 65535")
	}
	if _, ok := parseLevel(c.LogLevel); !ok {
		add("RESEMBLE_LOG_LEVEL must be debug, info, warn or error")
	}
	if c.EmbeddingTimeout < 0 {
		add("EMBEDDING_TIMEOUT must not be negative")
	}

	switch c.VectorIndexBackend {
	case vectorindex.BackendMemory:
	case vectorindex.BackendPinecone:
		if c.PineconeAPIKey == "" || c.PineconeHost == "" {
			add("PINECONE_API_KEY and PINECONE_INDEX_HOST are required for the pinecone backend")
		}
	case vectorindex.BackendPGVector:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the pgvector backend")
		}
	case vectorindex.BackendNone:
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for lexical-only mode")
		}
	default:
		add("VECTOR_INDEX_BACKEND must be pinecone, pgvector, memory or none")
	}

	if c.DatabaseMaxConns < 1 {
		add("DATABASE_MAX_CONNS must be positive")
	}
	if c.SimilarTopK < 1 {
		add("SIMILAR_TOP_K must be positive")
	}
	if c.BackfillWarmInterval < 0 {
		add("BACKFILL_WARM_INTERVAL must not be negative")
	}
	if c.BackfillWarmInterval > 0 && c.DatabaseURL == "" {
		add("BACKFILL_WARM_INTERVAL requires DATABASE_URL")
	}
	if c.BackfillWarmBatch < 1 {
		add("BACKFILL_WARM_BATCH must be positive")
	}
	if c.RateUploadImage < 1 || c.RateEmbed < 1 || c.RateSimilarPosts < 1 {
		add("rate limits must be at least 1")
	}
	if c.RateWindow <= 0 {
		add("RATE_WINDOW must be positive")
	}
	if c.RateSweepProbability < 0 || c.RateSweepProbability > 1 {
		add("RATE_SWEEP_PROBABILITY must be between 0 and 1")
	}

	if len(problems) > 0 {
		return reserr.New(reserr.CodeConfigInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// SlogLevel returns the configured log level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

// ProviderKey reads EMBEDDING_PROVIDER at call time so a changed
// environment takes effect without a restart.
func ProviderKey() string {
	return os.Getenv(ProviderEnv)
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
