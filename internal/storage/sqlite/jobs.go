package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/transcribe-gateway/pkg/logger"
)

// ErrNotFound is returned when no ledger entry matches
var ErrNotFound = errors.New("job record not found")

// JobRecord is one accepted submission. Job state itself lives in the
// recognition service; the record only remembers what was sent where.
type JobRecord struct {
	ID              int64     `json:"id"`
	ArtifactName    string    `json:"artifact_name"`
	SourceURL       string    `json:"source_url"`
	StoredURI       string    `json:"file"`
	JobHandle       string    `json:"job_id,omitempty"`
	SubmissionError string    `json:"submission_error,omitempty"`
	CreatedAt       time.Time `json:"timestamp"`
}

// JobStorage handles storage of submission records
type JobStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewJobStorage creates the jobs table if needed and returns the store
func NewJobStorage(db *sql.DB, log *logger.Logger) (*JobStorage, error) {
	storage := &JobStorage{
		db:     db,
		logger: log.Named("sqlite-jobs"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

func (s *JobStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			artifact_name TEXT NOT NULL UNIQUE,
			source_url TEXT NOT NULL,
			stored_uri TEXT NOT NULL,
			job_handle TEXT,
			submission_error TEXT,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_jobs_handle ON jobs(job_handle)`)
	if err != nil {
		return fmt.Errorf("failed to create job_handle index: %w", err)
	}

	return nil
}

// RecordSubmission stores a submission and sets record.ID
func (s *JobStorage) RecordSubmission(ctx context.Context, record *JobRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs
		(artifact_name, source_url, stored_uri, job_handle, submission_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.ArtifactName,
		record.SourceURL,
		record.StoredURI,
		nullString(record.JobHandle),
		nullString(record.SubmissionError),
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	s.logger.Debug("Recorded submission",
		logger.String("artifact", record.ArtifactName),
		logger.String("job_id", record.JobHandle))
	return nil
}

// List returns submissions newest first
func (s *JobStorage) List(ctx context.Context, limit, offset int) ([]*JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, artifact_name, source_url, stored_uri, job_handle, submission_error, created_at
		FROM jobs
		ORDER BY id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	records := []*JobRecord{}
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return records, nil
}

// GetByHandle returns the submission that produced the given job handle
func (s *JobStorage) GetByHandle(ctx context.Context, handle string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, artifact_name, source_url, stored_uri, job_handle, submission_error, created_at
		FROM jobs
		WHERE job_handle = ?`,
		handle,
	)
	record, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return record, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	var record JobRecord
	var handle, submissionErr sql.NullString
	var createdAt string

	if err := row.Scan(
		&record.ID,
		&record.ArtifactName,
		&record.SourceURL,
		&record.StoredURI,
		&handle,
		&submissionErr,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	record.CreatedAt = t
	record.JobHandle = handle.String
	record.SubmissionError = submissionErr.String

	return &record, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
