// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/avoronov/marketpost/internal/domain"
)

// ErrorLogFilter narrows an error log query. Zero values mean "any".
type ErrorLogFilter struct {
	ListingID int64
	Type      domain.ErrorType
	Since     time.Time
}

// AnalyticsSummary aggregates lifetime analytics counters.
type AnalyticsSummary struct {
	TotalCreated     int `json:"total_created"`
	TotalPosted      int `json:"total_posted"`
	CurrentlyPosted  int `json:"currently_posted"`
	CurrentlyPending int `json:"currently_pending"`
}

// Repository defines the interface for persisting accounts, listings,
// posting jobs, error logs and analytics events.
type Repository interface {
	// CreateAccount stores a new account.
	CreateAccount(ctx context.Context, account *domain.Account) error

	// GetAccount retrieves an account by ID. Returns domain.ErrAccountNotFound
	// if no such account exists.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// ListAccounts retrieves all accounts ordered by creation time.
	ListAccounts(ctx context.Context) ([]*domain.Account, error)

	// DeleteAccount removes an account. The caller is responsible for
	// invalidating the account's session artifact.
	DeleteAccount(ctx context.Context, id string) error

	// CreateListing stores a new listing and appends its "created"
	// analytics event in the same transaction.
	CreateListing(ctx context.Context, listing *domain.Listing) error

	// GetListing retrieves a listing by ID with its account email resolved.
	GetListing(ctx context.Context, id int64) (*domain.Listing, error)

	// ListPending retrieves unposted listings restricted to the given IDs.
	ListPending(ctx context.Context, ids []int64) ([]*domain.Listing, error)

	// ListDue retrieves unposted listings whose scheduled time has elapsed.
	ListDue(ctx context.Context, now time.Time) ([]*domain.Listing, error)

	// MarkPosted flips posted false -> true and appends the "posted"
	// analytics event in the same transaction. The flip happens at most
	// once per listing; a repeated call is a no-op returning false.
	MarkPosted(ctx context.Context, id int64) (bool, error)

	// CreateJob stores a new posting job record.
	CreateJob(ctx context.Context, job *domain.PostingJob) error

	// GetJob retrieves a posting job by its ID. Returns domain.ErrJobNotFound
	// if no such job exists.
	GetJob(ctx context.Context, jobID string) (*domain.PostingJob, error)

	// UpdateJobCurrent marks the job running and updates its
	// current-item pointer.
	UpdateJobCurrent(ctx context.Context, jobID string, listingID int64, title string) error

	// UpdateJobCounters persists the completed/failed counters of a job.
	UpdateJobCounters(ctx context.Context, jobID string, completed, failed int) error

	// FinalizeJob sets the terminal status, completion time and error
	// summary of a job. Called exactly once at batch end.
	FinalizeJob(ctx context.Context, jobID string, status domain.JobStatus, errMsg string, completedAt time.Time) error

	// CreateErrorLog appends an error log entry.
	CreateErrorLog(ctx context.Context, entry *domain.ErrorLog) error

	// ListErrorLogs retrieves error log entries matching the filter,
	// newest first.
	ListErrorLogs(ctx context.Context, filter ErrorLogFilter) ([]*domain.ErrorLog, error)

	// GetAnalyticsSummary aggregates lifetime analytics counters.
	GetAnalyticsSummary(ctx context.Context) (*AnalyticsSummary, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
