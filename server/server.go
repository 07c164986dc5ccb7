// Package server exposes the HTTP API: the public sign-up endpoint, the
// lower-thirds display feed, staff admin endpoints for the roster and the
// sync loop, the YouTube OAuth flow, and health, status and metrics. Every
// request carries a correlation id for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/openmic/lowerthirds"
)

// NewRouter returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewRouter(ctx context.Context, deps Deps) http.Handler {
	h := NewHandlers(ctx, deps)
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())

	r := chi.NewRouter()
	r.Use(cors(loadCORSConfig()))
	r.Use(observe)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	r.Get("/status", h.HandleStatus)
	r.Get("/config", h.HandleConfigGet)

	r.With(rateLimit(limiter)).Post("/signup", h.HandleSignup)

	if deps.Hub != nil {
		r.Get("/lower-thirds", lowerthirds.StateHandler(deps.Hub))
		r.Get("/lower-thirds/stream", lowerthirds.StreamHandler(deps.Hub))
	}

	r.Get("/auth/youtube/start", h.HandleYouTubeOAuthStart)
	r.Get("/auth/youtube/callback", h.HandleYouTubeOAuthCallback)

	r.Route("/admin", func(r chi.Router) {
		r.Use(adminAuth(loadAuthConfig()))
		r.Use(rateLimit(limiter))
		r.Put("/config", h.HandleConfigPut)
		r.Get("/roster", h.HandleAdminRoster)
		r.Post("/performers/{id}/cancel", h.HandleAdminCancel)
		r.Post("/sync", h.HandleAdminSync)
		r.Get("/sync/plan", h.HandleAdminPlan)
		r.Get("/sync/history", h.HandleAdminHistory)
		r.Post("/lower-thirds", h.HandleAdminLowerThirds)
	})
	return r
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		// no write timeout: the lower-thirds stream is long-lived
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
