package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SyncRun is one row of reconciliation history.
type SyncRun struct {
	ID         int64           `json:"id"`
	Trigger    string          `json:"trigger"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Created    int             `json:"created"`
	Updated    int             `json:"updated"`
	Deleted    int             `json:"deleted"`
	Errors     int             `json:"errors"`
	Anomalies  int             `json:"anomalies"`
	Aborted    bool            `json:"aborted"`
	Error      string          `json:"error,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
}

// InsertSyncRun records a run and returns its id.
func InsertSyncRun(ctx context.Context, dbx *sql.DB, r SyncRun) (int64, error) {
	var detail any
	if len(r.Detail) > 0 {
		detail = string(r.Detail)
	}
	var id int64
	err := dbx.QueryRowContext(ctx, `INSERT INTO sync_runs (trigger, started_at, finished_at, created, updated, deleted, errors, anomalies, aborted, error, detail)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),$11::jsonb) RETURNING id`,
		r.Trigger, r.StartedAt, r.FinishedAt, r.Created, r.Updated, r.Deleted, r.Errors, r.Anomalies, r.Aborted, r.Error, detail).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert sync run: %w", err)
	}
	return id, nil
}

// RecentSyncRuns returns up to limit runs, newest first.
func RecentSyncRuns(ctx context.Context, dbx *sql.DB, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := dbx.QueryContext(ctx, `SELECT id, trigger, started_at, finished_at, created, updated, deleted, errors, anomalies, aborted, COALESCE(error,''), COALESCE(detail::text,'')
		FROM sync_runs ORDER BY started_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []SyncRun
	for rows.Next() {
		var r SyncRun
		var detail string
		if err := rows.Scan(&r.ID, &r.Trigger, &r.StartedAt, &r.FinishedAt, &r.Created, &r.Updated, &r.Deleted, &r.Errors, &r.Anomalies, &r.Aborted, &r.Error, &detail); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		if detail != "" {
			r.Detail = json.RawMessage(detail)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
