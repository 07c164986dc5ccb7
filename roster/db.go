package roster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrSlotTaken is returned when a sign-up asks for a time slot that an active
// performer already holds.
var ErrSlotTaken = errors.New("time slot already taken")

// ErrNotFound is returned when a performer id does not exist.
var ErrNotFound = errors.New("performer not found")

// Store persists sign-ups in Postgres (tables performers and songs) and serves
// as the default roster Source.
type Store struct {
	DB *sql.DB
}

// NewStore returns a Store backed by db.
func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

// Fetch returns every performer with its songs ordered by sign-up position.
func (s *Store) Fetch(ctx context.Context) ([]Performer, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, time_slot, COALESCE(email,''), cancelled FROM performers ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list performers: %w", ErrFetch, err)
	}
	var out []Performer
	index := map[int64]int{}
	for rows.Next() {
		var p Performer
		if err := rows.Scan(&p.ID, &p.Name, &p.TimeSlot, &p.Email, &p.Cancelled); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: scan performer: %w", ErrFetch, err)
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", slog.Any("err", err))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	songRows, err := s.DB.QueryContext(ctx, `SELECT performer_id, title, COALESCE(writer,'') FROM songs ORDER BY performer_id ASC, position ASC`)
	if err != nil {
		return nil, fmt.Errorf("%w: list songs: %w", ErrFetch, err)
	}
	defer func() {
		if err := songRows.Close(); err != nil {
			slog.Warn("failed to close rows", slog.Any("err", err))
		}
	}()
	for songRows.Next() {
		var pid int64
		var song Song
		if err := songRows.Scan(&pid, &song.Title, &song.Writer); err != nil {
			return nil, fmt.Errorf("%w: scan song: %w", ErrFetch, err)
		}
		if i, ok := index[pid]; ok {
			out[i].Songs = append(out[i].Songs, song)
		}
	}
	if err := songRows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	return out, nil
}

// Add stores a validated sign-up and returns the new performer id.
func (s *Store) Add(ctx context.Context, p Performer) (int64, error) {
	p, err := NormalizeSignup(p)
	if err != nil {
		return 0, err
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var taken int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM performers WHERE time_slot=$1 AND cancelled=false`, p.TimeSlot).Scan(&taken); err != nil {
		return 0, fmt.Errorf("check slot: %w", err)
	}
	if taken > 0 {
		return 0, ErrSlotTaken
	}
	var id int64
	err = tx.QueryRowContext(ctx, `INSERT INTO performers (name, time_slot, email, cancelled, created_at, updated_at) VALUES ($1,$2,NULLIF($3,''),false,NOW(),NOW()) RETURNING id`,
		p.Name, p.TimeSlot, p.Email).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// lost a race for the slot against a concurrent sign-up
			return 0, ErrSlotTaken
		}
		return 0, fmt.Errorf("insert performer: %w", err)
	}
	for i, song := range p.Songs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO songs (performer_id, position, title, writer) VALUES ($1,$2,$3,NULLIF($4,''))`, id, i, song.Title, song.Writer); err != nil {
			return 0, fmt.Errorf("insert song %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// Cancel flags a performer as cancelled. Cancelled performers stay in the
// roster so their already-aired broadcasts can be recognised.
func (s *Store) Cancel(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE performers SET cancelled=true, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("cancel performer: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
