package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/openmic/chat"
	"github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/lowerthirds"
	"github.com/onnwee/openmic/oauth"
	"github.com/onnwee/openmic/server"
	"github.com/onnwee/openmic/showsync"
	"github.com/onnwee/openmic/telemetry"
	"github.com/onnwee/openmic/youtubeapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API, the sync loop and the lower-thirds display",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("openmic", "1.0.0")
	if err != nil {
		return err
	}
	defer shutdownTracing()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	hub := lowerthirds.NewHub(func(n int) { telemetry.SetGauge(telemetry.DisplaySubscribers, float64(n)) })
	notifier := lowerthirds.NewNotifier(cfg.NotifyTimeout, slog.Default())
	defer notifier.Close()
	notifier.Add("hub", hub)
	if cfg.LowerThirdsURL != "" {
		notifier.Add("remote", lowerthirds.NewHTTPPusher(cfg.LowerThirdsURL, cfg.LowerThirdsToken))
	}

	poller := &showsync.StatusPoller{
		Registry:    a.registry,
		Roster:      a.job.Roster,
		Format:      a.formatter(),
		Display:     notifier,
		Interval:    cfg.StatusPollInterval,
		CallTimeout: cfg.ExternalCallTimeout,
	}

	oauth.StartRefresher(ctx, &db.TokenStoreAdapter{DB: a.db}, youtubeapi.Provider, 10*time.Minute, 20*time.Minute, a.youtube.Refresh)

	if os.Getenv("ENABLE_PPROF") == "1" {
		go servePprof()
	}

	handler := server.NewRouter(ctx, server.Deps{
		DB:      a.db,
		Config:  cfg,
		Signups: a.store,
		Roster:  a.source,
		Sync:    a.job,
		Hub:     hub,
		Display: notifier,
		YouTube: a.youtube,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, cfg.HTTPAddr, handler) })
	g.Go(func() error { return a.job.Run(gctx) })
	g.Go(func() error { return poller.Run(gctx) })
	if err := cfg.ValidateChatReady(); err == nil {
		g.Go(func() error {
			chat.StartTwitchAnnouncer(gctx, hub, cfg.TwitchChannel, cfg.TwitchBotUsername, cfg.TwitchOAuthToken)
			return nil
		})
	} else {
		slog.Info("chat announcer disabled", slog.Any("reason", err))
	}

	slog.Info("openmic started", slog.String("addr", cfg.HTTPAddr))
	err = g.Wait()
	slog.Info("shutting down")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func servePprof() {
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	slog.Info("pprof profiling enabled", slog.String("addr", addr))
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil, // default mux exposes /debug/pprof
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("pprof server error", slog.Any("err", err))
	}
}
