package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore keeps job records across restarts
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the job database at path
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteStore{db: db, path: path}
	if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		run_dir TEXT NOT NULL DEFAULT '',
		current INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		ok INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		cancel_requested INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS job_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		line TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id);
	`
	_, err := s.db.ExecContext(context.Background(), schema)
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO jobs (id, status, created_at, updated_at, run_dir, current, total, ok, error, cancel_requested)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), formatTime(job.CreatedAt), formatTime(job.UpdatedAt), job.RunDir,
		job.Current, job.Total, job.OK, job.Error, job.Cancel,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	for _, line := range job.Logs {
		if err := s.AppendLog(ctx, job.ID, line); err != nil {
			return err
		}
	}
	return nil
}

const selectJob = `
	SELECT id, status, created_at, updated_at, run_dir, current, total, ok, error, cancel_requested
	FROM jobs`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                        Job
		status, created, updated string
	)
	err := row.Scan(&j.ID, &status, &created, &updated, &j.RunDir, &j.Current, &j.Total, &j.OK, &j.Error, &j.Cancel)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return &j, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, selectJob+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if j.Logs, err = s.logs(ctx, id); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *SQLiteStore) logs(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT line FROM job_logs WHERE job_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load job logs: %w", err)
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Job)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	j, err := scanJob(tx.QueryRowContext(ctx, selectJob+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}

	fn(j)
	j.UpdatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
	UPDATE jobs SET status = ?, updated_at = ?, run_dir = ?, current = ?, total = ?, ok = ?, error = ?, cancel_requested = ?
	WHERE id = ?`,
		string(j.Status), formatTime(j.UpdatedAt), j.RunDir, j.Current, j.Total, j.OK, j.Error, j.Cancel, id,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id, line string) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO job_logs (job_id, line) VALUES (?, ?)", id, line)
	if err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// List returns all jobs without their logs, oldest first
func (s *SQLiteStore) List(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, selectJob+" ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM job_logs WHERE job_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete job logs: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
