package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/onnwee/openmic/config"
	"github.com/onnwee/openmic/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down|version]",
	Short: "Manage the database schema",
	Long: `Applies versioned migrations (up, the default), rolls back the most recent
one (down) or prints the current version.`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "version"},
	RunE:      runMigrate,
}

var migrateTokensCmd = &cobra.Command{
	Use:   "migrate-tokens",
	Short: "Encrypt OAuth tokens still stored in plaintext",
	Long: `Re-writes every plaintext oauth_tokens row through the AES-256-GCM box.
Requires ENCRYPTION_KEY (base64, 32 bytes).`,
	RunE: runMigrateTokens,
}

func init() {
	migrateTokensCmd.Flags().Bool("dry-run", false, "Show what would be migrated without making changes")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	action := "up"
	if len(args) == 1 {
		action = args[0]
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	database, err := db.Connect(cmd.Context(), cfg.DBDsn)
	if err != nil {
		return err
	}
	defer closeDB(database)

	switch action {
	case "up":
		return db.RunMigrations(database)
	case "down":
		return db.MigrateDown(database)
	case "version":
		v, dirty, err := db.GetMigrationVersion(database)
		if err != nil {
			return err
		}
		fmt.Printf("version=%d dirty=%t\n", v, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func runMigrateTokens(cmd *cobra.Command, _ []string) error {
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	key := os.Getenv("ENCRYPTION_KEY")
	if key == "" {
		return errors.New("ENCRYPTION_KEY is required")
	}
	if err := db.SetEncryptionKey(key); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	database, err := db.Connect(cmd.Context(), cfg.DBDsn)
	if err != nil {
		return err
	}
	defer closeDB(database)

	providers, err := db.EncryptPlaintextTokens(cmd.Context(), database, dryRun)
	if err != nil {
		return err
	}
	slog.Info("token migration finished", slog.Bool("dry_run", dryRun), slog.Any("providers", providers))
	return nil
}

func closeDB(database *sql.DB) {
	if err := database.Close(); err != nil {
		slog.Error("failed to close database", slog.Any("err", err))
	}
}
