package showsync

import (
	"context"
	"database/sql"

	"github.com/onnwee/openmic/db"
)

// SQLRecorder writes runs to the sync_runs table.
type SQLRecorder struct{ DB *sql.DB }

func (r SQLRecorder) Record(ctx context.Context, run db.SyncRun) error {
	_, err := db.InsertSyncRun(ctx, r.DB, run)
	return err
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, run db.SyncRun) error

func (f RecorderFunc) Record(ctx context.Context, run db.SyncRun) error { return f(ctx, run) }
