// Package server provides the HTTP server setup for Resemble.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MikeSquared-Agency/Resemble/internal/api"
	"github.com/MikeSquared-Agency/Resemble/internal/config"
	"github.com/MikeSquared-Agency/Resemble/internal/middleware"
	"github.com/MikeSquared-Agency/Resemble/internal/ratelimit"
)

// Deps are the collaborators the routes need. DB and Bus are nil when the
// service runs without them.
type Deps struct {
	Service api.SimilarService
	DB      api.Pinger
	Bus     api.Connection
	Limiter *ratelimit.Limiter
	Health  api.HealthInfo
}

// Server holds the configured router.
type Server struct {
	Router *chi.Mux
	Config *config.Config
	Logger *slog.Logger
}

// Policies returns the rate policies with limits taken from cfg.
func Policies(cfg *config.Config) (upload, embed, similar ratelimit.Policy) {
	upload = ratelimit.Policy{Name: ratelimit.UploadImage.Name, MaxRequests: cfg.RateUploadImage, Window: cfg.RateWindow}
	embed = ratelimit.Policy{Name: ratelimit.Embed.Name, MaxRequests: cfg.RateEmbed, Window: cfg.RateWindow}
	similar = ratelimit.Policy{Name: ratelimit.SimilarPosts.Name, MaxRequests: cfg.RateSimilarPosts, Window: cfg.RateWindow}
	return upload, embed, similar
}

// New creates a new Server with all routes configured.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID", "X-API-Key"},
		ExposedHeaders: []string{"Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(middleware.TrustedUserAuth(cfg.APIKey))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.APIKeyAuth(cfg.APIKey))

	limiter := deps.Limiter
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.WithSweepProbability(cfg.RateSweepProbability))
	}
	uploadPolicy, embedPolicy, similarPolicy := Policies(cfg)

	healthHandler := api.NewHealthHandler(deps.DB, deps.Bus, deps.Health)
	similarHandler := api.NewSimilarHandler(deps.Service, logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Health (no rate limit)
		r.Get("/health", healthHandler.Health)

		r.With(middleware.RateLimit(limiter, similarPolicy)).Get("/posts/{id}/similar", similarHandler.Similar)
		r.With(middleware.RateLimit(limiter, embedPolicy)).Post("/embed", similarHandler.Embed)
		r.With(middleware.RequireUser).Delete("/posts/{id}/embedding", similarHandler.DeleteEmbedding)

		// The gallery counts uploads here before accepting one.
		r.With(middleware.RateLimit(limiter, uploadPolicy)).Post("/limits/upload_image", api.LimitAccepted)
	})

	return &Server{
		Router: r,
		Config: cfg,
		Logger: logger,
	}
}
