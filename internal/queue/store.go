package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"turntable/internal/config"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

const jobColumns = "id, status, step, progress, frame_count, remove_background, source_video_ref, error_kind, error_message, result_json, cancel_requested, created_at, updated_at, completed_at"

// NewJob inserts a PENDING job for a validated submission. The caller may
// supply the job identifier so the source upload can be stored under the
// job's artifact prefix before the row exists; an empty id generates one.
func (s *Store) NewJob(ctx context.Context, id, sourceVideoRef string, params Params) (*Job, error) {
	if sourceVideoRef == "" {
		return nil, errors.New("source video ref is required")
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, status, step, progress, frame_count, remove_background,
            source_video_ref, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		StatusPending,
		StepQueued,
		0,
		params.FrameCount,
		boolToInt(params.RemoveBackground),
		sourceVideoRef,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Claim atomically transitions a PENDING job to PROCESSING and returns it.
// Returns nil when the job is unknown or not PENDING; this is what makes
// duplicate queue deliveries harmless and enforces at-most-one active run.
func (s *Store) Claim(ctx context.Context, id string) (*Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		StatusProcessing, now, id, StatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job rows: %w", err)
	}
	if affected == 0 {
		return nil, nil
	}
	return s.GetByID(ctx, id)
}

// SetStep advances a PROCESSING job to the given step and its progress
// checkpoint. The progress guard keeps updates monotonic even if a stale
// writer races a newer one.
func (s *Store) SetStep(ctx context.Context, id string, step Step) error {
	checkpoint := step.Checkpoint()
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET step = ?, progress = ?, updated_at = ?
         WHERE id = ? AND status = ? AND progress <= ?`,
		step, checkpoint, now, id, StatusProcessing, checkpoint,
	)
	if err != nil {
		return fmt.Errorf("set step: %w", err)
	}
	return nil
}

// MarkSuccess finalizes a job with its result payload.
func (s *Store) MarkSuccess(ctx context.Context, id string, resultJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, step = ?, progress = 100, result_json = ?,
            updated_at = ?, completed_at = ?
         WHERE id = ? AND status = ?`,
		StatusSuccess, StepDone, resultJSON, now, now, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark success: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark success rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark success: job %s is not processing", id)
	}
	return nil
}

// MarkFailure finalizes a job with the failing stage's error. The step column
// keeps the stage that failed so status queries can expose it.
func (s *Store) MarkFailure(ctx context.Context, id string, step Step, errorKind, errorMessage string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, step = ?, error_kind = ?, error_message = ?,
            updated_at = ?, completed_at = ?
         WHERE id = ? AND status = ?`,
		StatusFailure, step, errorKind, errorMessage, now, now, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("mark failure: %w", err)
	}
	return nil
}

// RequestCancel flags a job for cancellation. The worker checks the flag at
// stage boundaries; terminal jobs are unaffected.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET cancel_requested = 1, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		now, id, StatusPending, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}

// CancelRequested reports whether deletion was requested for a job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		// The row is gone entirely; treat as cancelled.
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}

// Delete removes a job row. Idempotent: deleting an unknown id succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

// List returns jobs filtered by status set (or all jobs when none given),
// oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ResetOrphanedProcessing returns PROCESSING jobs to PENDING. Called once at
// daemon startup to recover jobs interrupted by a crash; at-least-once queue
// delivery will hand them to a worker again.
func (s *Store) ResetOrphanedProcessing(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, step = ?, progress = 0, updated_at = ?
         WHERE status = ?`,
		StatusPending, StepQueued, now, StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset orphaned processing: %w", err)
	}
	return res.RowsAffected()
}
