package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avoronov/marketpost/internal/domain"
)

// CreateJob stores a new posting job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *domain.PostingJob) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	query := `
	INSERT INTO posting_jobs (job_id, status, total_posts, completed_posts, failed_posts, started_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		job.JobID, string(job.Status), job.TotalPosts,
		job.CompletedPosts, job.FailedPosts, job.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert posting job: %w", err)
	}
	return nil
}

// GetJob retrieves a posting job by its ID.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*domain.PostingJob, error) {
	query := `
		SELECT job_id, status, total_posts, completed_posts, failed_posts,
		       current_post_id, current_post_title, error_message, started_at, completed_at
		FROM posting_jobs WHERE job_id = ?`

	row := s.db.QueryRowContext(ctx, query, jobID)

	var job domain.PostingJob
	var status string
	var currentPostID sql.NullInt64
	var completedAt sql.NullInt64
	var startedAt int64

	err := row.Scan(
		&job.JobID, &status, &job.TotalPosts, &job.CompletedPosts, &job.FailedPosts,
		&currentPostID, &job.CurrentPostTitle, &job.ErrorMessage, &startedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan posting job row: %w", err)
	}

	job.Status = domain.JobStatus(status)
	job.CurrentPostID = currentPostID.Int64
	job.StartedAt = time.Unix(startedAt, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &ts
	}
	return &job, nil
}

// UpdateJobCurrent updates the current-item pointer of a running job.
func (s *SQLiteStore) UpdateJobCurrent(ctx context.Context, jobID string, listingID int64, title string) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	query := `UPDATE posting_jobs SET status = 'running', current_post_id = ?, current_post_title = ? WHERE job_id = ?`
	if err := s.execJobUpdate(ctx, query, listingID, title, jobID); err != nil {
		return fmt.Errorf("update job current item: %w", err)
	}
	return nil
}

// UpdateJobCounters persists the completed/failed counters of a job.
func (s *SQLiteStore) UpdateJobCounters(ctx context.Context, jobID string, completed, failed int) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	query := `UPDATE posting_jobs SET completed_posts = ?, failed_posts = ? WHERE job_id = ?`
	if err := s.execJobUpdate(ctx, query, completed, failed, jobID); err != nil {
		return fmt.Errorf("update job counters: %w", err)
	}
	return nil
}

// FinalizeJob sets the terminal status, completion time and error
// summary, and clears the current-item pointer so a finished job never
// reads as still processing something.
func (s *SQLiteStore) FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus, errMsg string, completedAt time.Time) error {
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	query := `
	UPDATE posting_jobs
	SET status = ?, error_message = ?, completed_at = ?, current_post_id = NULL, current_post_title = ''
	WHERE job_id = ?`
	if err := s.execJobUpdate(ctx, query, string(status), errMsg, completedAt.Unix(), jobID); err != nil {
		return fmt.Errorf("finalize job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) execJobUpdate(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// CreateErrorLog appends an error log entry.
func (s *SQLiteStore) CreateErrorLog(ctx context.Context, entry *domain.ErrorLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
	INSERT INTO error_logs (listing_id, error_type, error_message, stack_trace, screenshot, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	result, err := s.db.ExecContext(ctx, query,
		entry.ListingID, string(entry.ErrorType), entry.ErrorMessage,
		entry.StackTrace, entry.Screenshot, entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get error log id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListErrorLogs retrieves error log entries matching the filter, newest first.
func (s *SQLiteStore) ListErrorLogs(ctx context.Context, filter ErrorLogFilter) ([]*domain.ErrorLog, error) {
	query := `
		SELECT id, listing_id, error_type, error_message, stack_trace, screenshot, created_at
		FROM error_logs WHERE 1=1`
	var args []any

	if filter.ListingID != 0 {
		query += ` AND listing_id = ?`
		args = append(args, filter.ListingID)
	}
	if filter.Type != "" {
		query += ` AND error_type = ?`
		args = append(args, string(filter.Type))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.Unix())
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error logs: %w", err)
	}
	defer closeRows(rows, "error_logs")

	var entries []*domain.ErrorLog
	for rows.Next() {
		var entry domain.ErrorLog
		var errType string
		var createdAt int64
		if err := rows.Scan(&entry.ID, &entry.ListingID, &errType, &entry.ErrorMessage,
			&entry.StackTrace, &entry.Screenshot, &createdAt); err != nil {
			return nil, fmt.Errorf("scan error log row: %w", err)
		}
		entry.ErrorType = domain.ErrorType(errType)
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate error logs: %w", err)
	}
	return entries, nil
}

// GetAnalyticsSummary aggregates lifetime analytics counters.
func (s *SQLiteStore) GetAnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error) {
	var summary AnalyticsSummary

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM analytics_events WHERE action = ?),
			(SELECT COUNT(*) FROM analytics_events WHERE action = ?),
			(SELECT COUNT(*) FROM listings WHERE posted = 1),
			(SELECT COUNT(*) FROM listings WHERE posted = 0)`,
		string(domain.ActionCreated), string(domain.ActionPosted),
	).Scan(&summary.TotalCreated, &summary.TotalPosted, &summary.CurrentlyPosted, &summary.CurrentlyPending)
	if err != nil {
		return nil, fmt.Errorf("query analytics summary: %w", err)
	}

	return &summary, nil
}
