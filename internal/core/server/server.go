package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/health"
	middleware "github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/middleware"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/core/router"
	"github.com/liangqilang-zhuhui/techwolf-hotkey/internal/metrics"
)

type Deps struct {
	Service router.Service
	// Ready gates /readyz; nil is always ready.
	Ready   health.ReadinessReporter
	Metrics *metrics.Provider
}

// NewHandler assembles the chi router with probes, metrics and the API.
func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(health.All(d.Ready)))
	if d.Metrics != nil {
		d.Metrics.Mount(r)
	}
	router.Mount(r, logger, d.Service)
	return r
}

// Run serves the API on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
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
