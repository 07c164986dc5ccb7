// Package db provides database connection helpers, schema migration, and small data access helpers.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/openmic/crypto"
)

var (
	boxMu     sync.RWMutex
	box       *crypto.Box
	boxLoaded bool
)

// SetEncryptionKey configures OAuth token encryption. An empty key disables
// it and tokens are stored in plaintext (encryption_version = 0).
func SetEncryptionKey(key string) error {
	boxMu.Lock()
	defer boxMu.Unlock()
	boxLoaded = true
	if key == "" {
		box = nil
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
		return nil
	}
	b, err := crypto.New(key)
	if err != nil {
		box = nil
		return fmt.Errorf("failed to initialize encryption: %w", err)
	}
	box = b
	slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("key_id", b.KeyID()), slog.String("component", "db_encryption"))
	return nil
}

// tokenBox returns the configured box, reading ENCRYPTION_KEY on first use.
func tokenBox() (*crypto.Box, error) {
	boxMu.RLock()
	loaded, b := boxLoaded, box
	boxMu.RUnlock()
	if loaded {
		return b, nil
	}
	if err := SetEncryptionKey(os.Getenv("ENCRYPTION_KEY")); err != nil {
		return nil, err
	}
	boxMu.RLock()
	defer boxMu.RUnlock()
	return box, nil
}

// Connect opens a Postgres connection for dsn and verifies it.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("empty DB_DSN")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	dbx.SetMaxOpenConns(10)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbx.PingContext(pingCtx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return dbx, nil
}

// Migrate applies the embedded schema statement by statement. Every statement
// is idempotent, so it is safe against a database already managed by
// RunMigrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts, err := schemaStatements()
	if err != nil {
		return err
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

func schemaStatements() ([]string, error) {
	raw, err := migrationFiles.ReadFile("migrations/000001_init.up.sql")
	if err != nil {
		return nil, fmt.Errorf("read embedded schema: %w", err)
	}
	var out []string
	for _, s := range strings.Split(string(raw), ";\n") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, strings.TrimSuffix(s, ";"))
		}
	}
	return out, nil
}

// UpsertOAuthToken stores or updates an OAuth token for a provider.
// With encryption enabled, tokens are sealed before storage and
// encryption_version=1 is recorded.
func UpsertOAuthToken(ctx context.Context, dbx *sql.DB, provider, access, refresh string, expiry time.Time, scope string) error {
	b, err := tokenBox()
	if err != nil {
		return fmt.Errorf("get encryptor: %w", err)
	}
	encVersion, encKeyID := 0, ""
	if b != nil {
		encVersion, encKeyID = 1, b.KeyID()
		if access, err = sealIfSet(b, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = sealIfSet(b, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err = dbx.ExecContext(ctx, q, provider, access, refresh, expiry, scope, encVersion, encKeyID)
	return err
}

func sealIfSet(b *crypto.Box, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return b.Seal(v)
}

func openIfSet(b *crypto.Box, v string) (string, error) {
	if v == "" {
		return "", nil
	}
	return b.Open(v)
}

// GetOAuthToken retrieves a stored token row; returns zero values if not found.
// Sealed tokens are opened transparently; plaintext rows (version 0) are read as is.
func GetOAuthToken(ctx context.Context, dbx *sql.DB, provider string) (access, refresh string, expiry time.Time, scope string, err error) {
	var encVersion int
	var accessN, refreshN, scopeN sql.NullString
	var expiryN sql.NullTime
	row := dbx.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, provider)
	err = row.Scan(&accessN, &refreshN, &expiryN, &scopeN, &encVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", time.Time{}, "", nil
	}
	if err != nil {
		return "", "", time.Time{}, "", err
	}
	access, refresh, expiry, scope = accessN.String, refreshN.String, expiryN.Time, scopeN.String
	if encVersion == 1 {
		b, bErr := tokenBox()
		if bErr != nil {
			return "", "", time.Time{}, "", fmt.Errorf("get encryptor for decryption: %w", bErr)
		}
		if b == nil {
			return "", "", time.Time{}, "", fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if access, err = openIfSet(b, access); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt access token: %w", err)
		}
		if refresh, err = openIfSet(b, refresh); err != nil {
			return "", "", time.Time{}, "", fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return access, refresh, expiry, scope, nil
}

// EncryptPlaintextTokens seals every token row still stored in plaintext and
// returns the providers that were (or with dryRun, would be) migrated.
func EncryptPlaintextTokens(ctx context.Context, dbx *sql.DB, dryRun bool) ([]string, error) {
	b, err := tokenBox()
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.New("ENCRYPTION_KEY is required to migrate tokens")
	}
	rows, err := dbx.QueryContext(ctx, `SELECT provider FROM oauth_tokens WHERE COALESCE(encryption_version,0)=0 ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("query plaintext tokens: %w", err)
	}
	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		providers = append(providers, p)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if dryRun {
		return providers, nil
	}
	for _, p := range providers {
		// a version 0 row reads back as plaintext and is rewritten sealed
		access, refresh, exp, scope, err := GetOAuthToken(ctx, dbx, p)
		if err != nil {
			return nil, fmt.Errorf("read %s token: %w", p, err)
		}
		if err := UpsertOAuthToken(ctx, dbx, p, access, refresh, exp, scope); err != nil {
			return nil, fmt.Errorf("rewrite %s token: %w", p, err)
		}
		slog.Info("token encrypted", slog.String("provider", p), slog.String("component", "db_encryption"))
	}
	return providers, nil
}

// TokenStoreAdapter implements youtubeapi.TokenStore on top of the oauth_tokens table.
type TokenStoreAdapter struct{ DB *sql.DB }

func (t *TokenStoreAdapter) UpsertOAuthToken(ctx context.Context, provider, accessToken, refreshToken string, expiry time.Time, scope string) error {
	return UpsertOAuthToken(ctx, t.DB, provider, accessToken, refreshToken, expiry, scope)
}

func (t *TokenStoreAdapter) GetOAuthToken(ctx context.Context, provider string) (string, string, time.Time, string, error) {
	return GetOAuthToken(ctx, t.DB, provider)
}

// GetKV returns the stored value for key, or "" when unset.
func GetKV(ctx context.Context, dbx *sql.DB, key string) (string, error) {
	var v sql.NullString
	err := dbx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v.String, err
}

// SetKV stores value under key.
func SetKV(ctx context.Context, dbx *sql.DB, key, value string) error {
	_, err := dbx.ExecContext(ctx, `INSERT INTO kv (key,value,updated_at) VALUES ($1,$2,NOW())
		ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, key, value)
	return err
}

// DeleteKV removes key.
func DeleteKV(ctx context.Context, dbx *sql.DB, key string) error {
	_, err := dbx.ExecContext(ctx, `DELETE FROM kv WHERE key=$1`, key)
	return err
}
