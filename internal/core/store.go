package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const jobColumns = `id, user_id, file_name, page_count, file_size_bytes, mime_type,
	copies, color_mode, duplex, paper_size, priority, cost_cents, status, attempts,
	failure_reason, created_at, updated_at, started_at, completed_at`

// JobStore is the durable record of every print job and the single
// source of truth for job status. All status transitions go through
// compare-and-set updates so concurrent scheduler ticks can never
// double-advance a job.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(conn *sql.DB) *JobStore {
	return &JobStore{db: conn}
}

func (s *JobStore) Create(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO print_jobs (
			id, user_id, file_name, page_count, file_size_bytes, mime_type,
			copies, color_mode, duplex, paper_size, priority, cost_cents,
			status, attempts, failure_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.UserID, job.File.FileName, job.File.PageCount, job.File.SizeBytes,
		job.File.MimeType, job.Settings.Copies, job.Settings.ColorMode, job.Settings.Duplex,
		job.Settings.PaperSize, job.Settings.Priority, job.CostCents, job.Status,
		job.Attempts, job.FailureReason, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *JobStore) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM print_jobs WHERE id = ?", id)
	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ForEachByStatus streams jobs in the given status, oldest first, into fn
// without loading the whole table. Iteration stops on the first error fn
// returns.
func (s *JobStore) ForEachByStatus(ctx context.Context, status JobStatus, fn func(*Job) error) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM print_jobs WHERE status = ? ORDER BY created_at ASC", status)
	if err != nil {
		return fmt.Errorf("failed to query jobs by status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return fmt.Errorf("failed to scan job: %w", err)
		}
		if err := fn(job); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *JobStore) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+jobColumns+" FROM print_jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?",
		userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateStatus moves a job from an expected current status to a new one.
// It returns false with no mutation when the job has already moved, which
// is how concurrent ticks and external cancellations lose gracefully.
func (s *JobStore) UpdateStatus(ctx context.Context, jobID string, from, to JobStatus, now time.Time) (bool, error) {
	var query string
	switch to {
	case JobStatusPrinting:
		query = `UPDATE print_jobs SET status = ?, updated_at = ?, started_at = ?
			WHERE id = ? AND status = ?`
	case JobStatusCompleted, JobStatusCancelled:
		query = `UPDATE print_jobs SET status = ?, updated_at = ?, completed_at = ?
			WHERE id = ? AND status = ?`
	default:
		result, err := s.db.ExecContext(ctx, `
			UPDATE print_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`, to, now, jobID, from)
		if err != nil {
			return false, fmt.Errorf("failed to update job status: %w", err)
		}
		return oneRowAffected(result)
	}

	result, err := s.db.ExecContext(ctx, query, to, now, now, jobID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update job status: %w", err)
	}
	return oneRowAffected(result)
}

// MarkFailed is the terminal-failure transition; every failed job carries
// a non-empty reason.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, from JobStatus, reason string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE print_jobs SET status = ?, failure_reason = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND status = ?
	`, JobStatusFailed, reason, now, now, jobID, from)
	if err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}
	return oneRowAffected(result)
}

// Requeue sends a printing job back to pending for another attempt,
// incrementing its attempt counter and clearing the processing timer.
func (s *JobStore) Requeue(ctx context.Context, jobID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE print_jobs
		SET status = ?, attempts = attempts + 1, updated_at = ?, started_at = NULL
		WHERE id = ? AND status = ?
	`, JobStatusPending, now, jobID, JobStatusPrinting)
	if err != nil {
		return false, fmt.Errorf("failed to requeue job: %w", err)
	}
	return oneRowAffected(result)
}

func (s *JobStore) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM print_jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[JobStatus]int)
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

func oneRowAffected(result sql.Result) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected == 1, nil
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	job := &Job{}
	var startedAt, completedAt sql.NullTime
	err := scan(
		&job.ID, &job.UserID, &job.File.FileName, &job.File.PageCount,
		&job.File.SizeBytes, &job.File.MimeType, &job.Settings.Copies,
		&job.Settings.ColorMode, &job.Settings.Duplex, &job.Settings.PaperSize,
		&job.Settings.Priority, &job.CostCents, &job.Status, &job.Attempts,
		&job.FailureReason, &job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}
