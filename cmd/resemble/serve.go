package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/Resemble/internal/api"
	"github.com/MikeSquared-Agency/Resemble/internal/config"
	"github.com/MikeSquared-Agency/Resemble/internal/hermes"
	"github.com/MikeSquared-Agency/Resemble/internal/ratelimit"
	"github.com/MikeSquared-Agency/Resemble/internal/server"
	"github.com/MikeSquared-Agency/Resemble/internal/similar"
	"github.com/MikeSquared-Agency/Resemble/internal/vectorindex"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("starting: %w", err)
	}
	defer a.close()

	if cfg.APIKey == "" {
		logger.Warn("RESEMBLE_API_KEY is not set; X-User-ID is trusted from any client and mutations are unauthenticated")
	}

	if a.hermes != nil {
		subscriber := hermes.NewSubscriber(a.hermes, a.service, logger)
		if err := subscriber.Start(); err != nil {
			logger.Warn("failed to start Hermes subscriber", "error", err)
		} else {
			defer subscriber.Stop()
		}
	}

	if cfg.BackfillWarmInterval > 0 && a.posts != nil && a.service.VectorEnabled() {
		warmer := similar.NewWarmer(a.service, a.posts, cfg.BackfillWarmInterval, cfg.BackfillWarmBatch, logger)
		warmer.Start(ctx)
	}

	deps := server.Deps{
		Service: a.service,
		Limiter: ratelimit.New(ratelimit.WithSweepProbability(cfg.RateSweepProbability)),
		Health: api.HealthInfo{
			Provider:     a.selector.Resolve,
			IndexBackend: indexName(a.index),
		},
	}
	if a.db != nil {
		deps.DB = a.db
	}
	if a.hermes != nil {
		deps.Bus = a.hermes
	}
	srv := server.New(cfg, deps, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      srv.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Resemble starting",
			"port", cfg.Port,
			"embedding_provider", a.selector.Resolve(),
			"vector_index", deps.Health.IndexBackend,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down gracefully...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("Resemble stopped")
	return nil
}

func indexName(idx vectorindex.Index) string {
	if idx == nil {
		return vectorindex.BackendNone
	}
	return idx.Name()
}
