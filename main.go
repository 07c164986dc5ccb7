// Command openmic runs the open-mic broadcast reconciler.
//
//   - serve: the HTTP API (sign-ups, admin, lower-thirds stream), the sync
//     loop converging YouTube Live broadcasts with the roster, the status
//     poller driving the lower thirds, OAuth token refresh and the optional
//     Twitch chat announcer.
//   - reconcile: a single pass from the command line, or a dry-run plan.
//   - migrate / migrate-tokens: schema and token maintenance.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "openmic",
	Short:         "Open-mic broadcast reconciler",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		// local dev convenience only; production relies on real env
		_ = godotenv.Load(".env")
		setupLogging()
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, reconcileCmd, migrateCmd, migrateTokensCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("command failed", slog.Any("err", err))
		os.Exit(1)
	}
}

// setupLogging configures the default logger from LOG_LEVEL and LOG_FORMAT.
// Defaults: level=info, format=text.
func setupLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}
