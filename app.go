package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/onnwee/openmic/config"
	"github.com/onnwee/openmic/db"
	"github.com/onnwee/openmic/reconcile"
	"github.com/onnwee/openmic/roster"
	"github.com/onnwee/openmic/server"
	"github.com/onnwee/openmic/showsync"
	"github.com/onnwee/openmic/youtubeapi"
)

// app holds the collaborators shared by serve and reconcile.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	youtube  *youtubeapi.Service
	store    *roster.Store
	source   roster.Source
	registry reconcile.Registry
	engine   *reconcile.Engine
	job      *showsync.Job
}

// openDB connects and migrates. Versioned migrations are preferred; the
// embedded schema is the fallback for databases that predate them.
func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	database, err := db.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded schema", slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(ctx, database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("migrate db: %w", err)
		}
	}
	return database, nil
}

// applyOverrides copies runtime overrides stored through the admin API into
// the environment so config.Load sees them.
func applyOverrides(ctx context.Context, database *sql.DB) {
	for _, k := range server.ConfigKeys {
		v, err := db.GetKV(ctx, database, "cfg:"+k)
		if err != nil || v == "" {
			continue
		}
		if err := os.Setenv(k, v); err == nil {
			slog.Info("config override applied", slog.String("key", k), slog.String("component", "config"))
		}
	}
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		if err := db.SetEncryptionKey(key); err != nil {
			return nil, err
		}
	}
	database, err := openDB(ctx, cfg.DBDsn)
	if err != nil {
		return nil, err
	}

	applyOverrides(ctx, database)
	setupLogging()
	if cfg, err = config.Load(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg, db: database, store: roster.NewStore(database)}
	a.youtube = youtubeapi.New(cfg, &db.TokenStoreAdapter{DB: database})

	switch cfg.RosterSource {
	case config.RosterSheets:
		a.source = roster.NewSheetsSourceFunc(a.youtube.Sheets, cfg.SheetsSpreadsheetID, cfg.SheetsRange)
	default:
		a.source = a.store
	}

	switch cfg.RegistryBackend {
	case config.RegistryMemory:
		slog.Warn("using in-memory broadcast registry; nothing is published", slog.String("component", "reconcile"))
		a.registry = reconcile.NewMemoryRegistry()
	default:
		a.registry = youtubeapi.NewLiveRegistry(a.youtube.YouTube, cfg.BroadcastPrivacy, youtubeapi.WithCompletedLookback(cfg.CompletedLookback))
	}

	a.engine = reconcile.NewEngine(a.formatter(), reconcile.WithOpTimeout(cfg.ExternalCallTimeout))
	a.job = showsync.NewJob(a.source, a.registry, a.engine, reconcile.NewDebouncer(cfg.QuietPeriod, nil), cfg.SyncInterval, cfg.ExternalCallTimeout)
	a.job.Recorder = showsync.SQLRecorder{DB: database}

	slog.Info("app configured",
		slog.String("show", cfg.ShowName),
		slog.Int("episode", cfg.EpisodeNumber),
		slog.String("roster_source", cfg.RosterSource),
		slog.String("registry", cfg.RegistryBackend))
	return a, nil
}

func (a *app) formatter() reconcile.Formatter {
	return reconcile.Formatter{Show: a.cfg.ShowName, Episode: a.cfg.EpisodeNumber}
}

func (a *app) Close() { closeDB(a.db) }
