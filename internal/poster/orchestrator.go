package poster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/avoronov/marketpost/internal/browser"
	"github.com/avoronov/marketpost/internal/config"
	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/shared"
	"github.com/avoronov/marketpost/internal/store"
)

// Submitter posts a single listing through an authenticated browser
// session.
type Submitter interface {
	Submit(ctx context.Context, listing *domain.Listing, headless bool) error
}

// Orchestrator runs batch posting jobs: it resolves the requested
// listings to pending work, walks them product by product, and records
// every per-item outcome without ever aborting the batch on one
// failure.
type Orchestrator struct {
	repo      store.Repository
	submitter Submitter
	tracker   *Tracker
	runner    *Runner
	cfg       *config.Config
}

// NewOrchestrator creates a posting orchestrator.
func NewOrchestrator(repo store.Repository, submitter Submitter, tracker *Tracker, runner *Runner, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		repo:      repo,
		submitter: submitter,
		tracker:   tracker,
		runner:    runner,
		cfg:       cfg,
	}
}

// Start resolves the requested listing IDs to pending candidates,
// creates a job record and dispatches the run in the background. When
// nothing is pending it returns domain.ErrNoPendingPosts and no job
// record is created.
func (o *Orchestrator) Start(ctx context.Context, listingIDs []int64) (string, error) {
	candidates, err := o.repo.ListPending(ctx, listingIDs)
	if err != nil {
		return "", fmt.Errorf("resolve pending listings: %w", err)
	}
	if len(candidates) == 0 {
		return "", domain.ErrNoPendingPosts
	}

	job := &domain.PostingJob{
		JobID:      uuid.NewString(),
		Status:     domain.JobQueued,
		TotalPosts: len(candidates),
		StartedAt:  time.Now(),
	}
	if err := o.tracker.Create(ctx, job); err != nil {
		return "", err
	}

	if err := o.runner.Go("posting-"+job.JobID, func(runCtx context.Context) {
		o.run(runCtx, job.JobID, candidates)
	}); err != nil {
		o.tracker.Finalize(ctx, job.JobID, domain.JobFailed, err.Error())
		return "", err
	}

	slog.Info("Posting job dispatched",
		"job_id", job.JobID,
		"requested", len(listingIDs),
		"pending", len(candidates))
	return job.JobID, nil
}

// run executes the batch product by product: all copies of one title are
// submitted across their accounts before the next title begins.
func (o *Orchestrator) run(ctx context.Context, jobID string, candidates []*domain.Listing) {
	finalized := false
	finalize := func(status domain.JobStatus, errMsg string) {
		finalized = true
		o.tracker.Finalize(ctx, jobID, status, errMsg)
	}

	// A panic escaping the run must still leave the job terminal, or
	// streaming clients wait on a dead job forever.
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		slog.Error("Posting job panicked", "job_id", jobID, "panic", rec)
		if !finalized {
			finalize(domain.JobFailed, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	titles, groups := groupByTitle(candidates)

	completed, failed := 0, 0
	for _, title := range titles {
		for _, listing := range groups[title] {
			if ctx.Err() != nil {
				slog.Warn("Posting job aborted", "job_id", jobID, "reason", ctx.Err())
				remaining := len(candidates) - completed - failed
				finalize(domain.JobFailed,
					fmt.Sprintf("aborted with %d posts remaining", remaining))
				return
			}

			o.tracker.SetCurrent(ctx, jobID, listing.ID, listing.Title)

			if err := o.submitOne(ctx, listing); err != nil {
				failed++
				o.recordFailure(ctx, listing, err)
				o.tracker.RecordResult(ctx, jobID, false)
				continue
			}

			completed++
			o.tracker.RecordResult(ctx, jobID, true)
		}
	}

	status := domain.JobCompleted
	errMsg := ""
	if failed > 0 {
		status = domain.JobFailed
		errMsg = fmt.Sprintf("%d posts failed", failed)
	}
	finalize(status, errMsg)
	slog.Info("Posting job finished",
		"job_id", jobID,
		"status", status,
		"completed", completed,
		"failed", failed)
}

// submitOne posts a single listing and flips its posted flag. The flip
// is conditional, so a listing posted concurrently by another run is
// not submitted twice into analytics.
func (o *Orchestrator) submitOne(ctx context.Context, listing *domain.Listing) error {
	slog.Info("Submitting listing",
		"listing_id", listing.ID,
		"title", listing.Title,
		"account", listing.AccountEmail)

	if err := o.submitter.Submit(ctx, listing, o.cfg.Headless); err != nil {
		return err
	}

	var flipped bool
	err := shared.RetrySQLite(ctx, "mark posted", func() error {
		var markErr error
		flipped, markErr = o.repo.MarkPosted(ctx, listing.ID)
		return markErr
	})
	if err != nil {
		return fmt.Errorf("mark listing %d posted: %w", listing.ID, err)
	}
	if !flipped {
		slog.Warn("Listing was already marked posted", "listing_id", listing.ID)
	}
	return nil
}

// recordFailure classifies the error and appends an error log entry.
// Logging failures are logged and swallowed; diagnostics must never
// escalate a single bad post into a batch abort.
func (o *Orchestrator) recordFailure(ctx context.Context, listing *domain.Listing, submitErr error) {
	entry := &domain.ErrorLog{
		ListingID:    listing.ID,
		ErrorType:    domain.ClassifyError(submitErr.Error()),
		ErrorMessage: submitErr.Error(),
	}

	var se *browser.SubmitError
	if errors.As(submitErr, &se) {
		entry.Screenshot = se.Screenshot
	}

	slog.Error("Listing submission failed",
		"listing_id", listing.ID,
		"title", listing.Title,
		"account", listing.AccountEmail,
		"error_type", entry.ErrorType,
		"error", submitErr)

	err := shared.RetrySQLite(ctx, "create error log", func() error {
		return o.repo.CreateErrorLog(ctx, entry)
	})
	if err != nil {
		slog.Error("Failed to record error log", "listing_id", listing.ID, "error", err)
	}
}

// groupByTitle buckets listings by title preserving first-seen title
// order, so batches run product-major across accounts.
func groupByTitle(listings []*domain.Listing) ([]string, map[string][]*domain.Listing) {
	var titles []string
	groups := make(map[string][]*domain.Listing)
	for _, l := range listings {
		if _, ok := groups[l.Title]; !ok {
			titles = append(titles, l.Title)
		}
		groups[l.Title] = append(groups[l.Title], l)
	}
	return titles, groups
}
