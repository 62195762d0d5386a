package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slopecraft/terrain-cache/internal/app"
	"github.com/slopecraft/terrain-cache/internal/core/config"
	"github.com/slopecraft/terrain-cache/internal/core/health"
	middleware "github.com/slopecraft/terrain-cache/internal/core/middleware"
	"github.com/slopecraft/terrain-cache/internal/core/router"
)

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, a *app.App, readiness health.ReadinessReporter) error {
	r := chi.NewRouter()
	r.Use(middleware.Recover())
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if readiness != nil {
		r.Get("/readyz", health.Readiness(readiness))
	}
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/terrain", router.HandleTerrain(logger, a))
	r.Post("/runs", a.CreateRun)
	r.Delete("/runs/{runID}", a.DeleteRun)
	r.Post("/warm", a.WarmCache)
	r.Get("/offline/{runID}", a.OfflineStatus)
	r.Get("/cache/stats", a.CacheStats)
	r.Delete("/cache", a.ClearCache)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
