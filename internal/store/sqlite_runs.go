package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hyperengineering/linkedevents/internal/types"
	"github.com/oklog/ulid/v2"
)

// CreateImportRun records the start of a run, assigning a ULID when the
// run has none.
func (s *SQLiteStore) CreateImportRun(ctx context.Context, run *types.ImportRun) error {
	if run.ID == "" {
		run.ID = ulid.Make().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if run.Status == "" {
		run.Status = types.RunRunning
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_runs (id, importer, status, started_at) VALUES (?, ?, ?, ?)
	`, run.ID, run.Importer, string(run.Status), formatTime(run.StartedAt))
	if err != nil {
		return fmt.Errorf("create import run: %w", err)
	}
	return nil
}

// FinishImportRun stores the outcome and counters of a run.
func (s *SQLiteStore) FinishImportRun(ctx context.Context, run *types.ImportRun) error {
	if run.FinishedAt == nil {
		now := s.now()
		run.FinishedAt = &now
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE import_runs
		SET status = ?, finished_at = ?, created = ?, changed = ?, unchanged = ?, deleted = ?, error = ?
		WHERE id = ?
	`, string(run.Status), formatTime(*run.FinishedAt), run.Created, run.Changed, run.Unchanged,
		run.Deleted, run.Error, run.ID)
	if err != nil {
		return fmt.Errorf("finish import run %s: %w", run.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish import run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// ListImportRuns returns the most recent runs first. An empty importer
// lists runs of every importer.
func (s *SQLiteStore) ListImportRuns(ctx context.Context, importer string, limit int) ([]types.ImportRun, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive", ErrInvalidFilter)
	}
	q := `SELECT id, importer, status, started_at, finished_at, created, changed, unchanged, deleted, error
		FROM import_runs`
	var args []any
	if importer != "" {
		q += " WHERE importer = ?"
		args = append(args, importer)
	}
	q += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list import runs: %w", err)
	}
	defer rows.Close()

	var out []types.ImportRun
	for rows.Next() {
		var r types.ImportRun
		var status, started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Importer, &status, &started, &finished,
			&r.Created, &r.Changed, &r.Unchanged, &r.Deleted, &r.Error); err != nil {
			return nil, fmt.Errorf("scan import run: %w", err)
		}
		r.Status = types.ImportRunStatus(status)
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
