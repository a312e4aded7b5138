package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	checks "fixedrate-billing/internal/checks/domain"
)

// fixed width so that text order matches time order
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store keeps jobs in a SQLite database so that history survives restarts.
type Store struct {
	db *sql.DB
}

// Open creates the database file and schema if needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite job store: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// a single connection serialises writers
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS check_jobs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		log_path TEXT NOT NULL DEFAULT '',
		artifact_path TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		started_at TEXT,
		ended_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_check_jobs_created_at ON check_jobs(created_at);
	`)
	return err
}

// Create inserts a job.
func (s *Store) Create(ctx context.Context, job *checks.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("sqlite job store: job id required")
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO check_jobs (id, kind, status, error, log_path, artifact_path, created_at, started_at, ended_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), string(job.Status), job.Error, job.LogPath, job.ArtifactPath,
		job.CreatedAt.UTC().Format(timeLayout), formatOptionalTime(job.StartedAt), formatOptionalTime(job.EndedAt))
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of a job.
func (s *Store) Update(ctx context.Context, job *checks.Job) error {
	if job == nil {
		return errors.New("sqlite job store: nil job")
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE check_jobs
	SET status = ?, error = ?, log_path = ?, artifact_path = ?, started_at = ?, ended_at = ?
	WHERE id = ?`,
		string(job.Status), job.Error, job.LogPath, job.ArtifactPath,
		formatOptionalTime(job.StartedAt), formatOptionalTime(job.EndedAt), job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if n == 0 {
		return checks.ErrJobNotFound
	}
	return nil
}

// Get returns one job.
func (s *Store) Get(ctx context.Context, id string) (*checks.Job, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT id, kind, status, error, log_path, artifact_path, created_at, started_at, ended_at
	FROM check_jobs
	WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checks.ErrJobNotFound
	}
	return job, err
}

// List returns up to limit jobs, newest first. A limit <= 0 returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*checks.Job, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, kind, status, error, log_path, artifact_path, created_at, started_at, ended_at
	FROM check_jobs
	ORDER BY created_at DESC, rowid DESC
	LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var result []*checks.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*checks.Job, error) {
	var (
		job                checks.Job
		kind, status       string
		createdAt          string
		startedAt, endedAt sql.NullString
	)
	if err := row.Scan(&job.ID, &kind, &status, &job.Error, &job.LogPath, &job.ArtifactPath, &createdAt, &startedAt, &endedAt); err != nil {
		return nil, err
	}
	job.Kind = checks.Kind(kind)
	job.Status = checks.Status(status)

	var err error
	job.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if job.StartedAt, err = parseOptionalTime(startedAt); err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	if job.EndedAt, err = parseOptionalTime(endedAt); err != nil {
		return nil, fmt.Errorf("parsing ended_at: %w", err)
	}
	return &job, nil
}

func formatOptionalTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}

func parseOptionalTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
