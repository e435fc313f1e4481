// Package poster orchestrates batch listing submissions: job tracking,
// the posting run itself, background dispatch and the schedule sweeper.
package poster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/shared"
	"github.com/avoronov/marketpost/internal/store"
)

// Tracker keeps the authoritative in-memory progress of posting jobs and
// mirrors every change to the repository. Reads during a run are served
// from memory; the repository copy survives restarts and backs the
// history endpoints. Subscribers receive a snapshot after every change.
type Tracker struct {
	repo store.Repository

	mu   sync.RWMutex
	jobs map[string]*domain.PostingJob
	subs map[string]map[chan domain.PostingJob]struct{}
}

// NewTracker creates a job progress tracker backed by the repository.
func NewTracker(repo store.Repository) *Tracker {
	return &Tracker{
		repo: repo,
		jobs: make(map[string]*domain.PostingJob),
		subs: make(map[string]map[chan domain.PostingJob]struct{}),
	}
}

// Create registers a new job. The repository insert happens first so a
// job is never visible in memory without a durable record behind it.
func (t *Tracker) Create(ctx context.Context, job *domain.PostingJob) error {
	err := shared.RetrySQLite(ctx, "create job", func() error {
		return t.repo.CreateJob(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("create job record: %w", err)
	}

	t.mu.Lock()
	copied := *job
	t.jobs[job.JobID] = &copied
	t.mu.Unlock()

	t.broadcast(job.JobID)
	return nil
}

// Snapshot returns a copy of the job's current state. Jobs from before
// the last restart are served from the repository.
func (t *Tracker) Snapshot(ctx context.Context, jobID string) (*domain.PostingJob, error) {
	t.mu.RLock()
	if job, ok := t.jobs[jobID]; ok {
		copied := *job
		t.mu.RUnlock()
		return &copied, nil
	}
	t.mu.RUnlock()

	return t.repo.GetJob(ctx, jobID)
}

// SetCurrent moves the job to the given in-flight listing and marks it
// running on the first call.
func (t *Tracker) SetCurrent(ctx context.Context, jobID string, listingID int64, title string) {
	t.mu.Lock()
	if job, ok := t.jobs[jobID]; ok {
		job.Status = domain.JobRunning
		job.CurrentPostID = listingID
		job.CurrentPostTitle = title
	}
	t.mu.Unlock()

	err := shared.RetrySQLite(ctx, "update job current", func() error {
		return t.repo.UpdateJobCurrent(ctx, jobID, listingID, title)
	})
	if err != nil {
		slog.Warn("Failed to persist job current item", "job_id", jobID, "error", err)
	}

	t.broadcast(jobID)
}

// RecordResult bumps the completed or failed counter by one.
func (t *Tracker) RecordResult(ctx context.Context, jobID string, succeeded bool) {
	var completed, failed int
	t.mu.Lock()
	if job, ok := t.jobs[jobID]; ok {
		if succeeded {
			job.CompletedPosts++
		} else {
			job.FailedPosts++
		}
		completed, failed = job.CompletedPosts, job.FailedPosts
	}
	t.mu.Unlock()

	err := shared.RetrySQLite(ctx, "update job counters", func() error {
		return t.repo.UpdateJobCounters(ctx, jobID, completed, failed)
	})
	if err != nil {
		slog.Warn("Failed to persist job counters", "job_id", jobID, "error", err)
	}

	t.broadcast(jobID)
}

// Finalize moves the job to its terminal state exactly once and closes
// every subscriber channel so streaming clients see a clean end.
func (t *Tracker) Finalize(ctx context.Context, jobID string, status domain.JobStatus, errMsg string) {
	completedAt := time.Now()

	t.mu.Lock()
	if job, ok := t.jobs[jobID]; ok {
		job.Status = status
		job.ErrorMessage = errMsg
		job.CurrentPostID = 0
		job.CurrentPostTitle = ""
		job.CompletedAt = &completedAt
	}
	t.mu.Unlock()

	// The final record must land even when the run was cancelled by
	// shutdown, so the persistence context survives cancellation.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := shared.RetrySQLite(persistCtx, "finalize job", func() error {
		return t.repo.FinalizeJob(persistCtx, jobID, status, errMsg, completedAt)
	})
	if err != nil {
		slog.Error("Failed to persist job final state", "job_id", jobID, "error", err)
	}

	t.broadcast(jobID)

	t.mu.Lock()
	for ch := range t.subs[jobID] {
		close(ch)
	}
	delete(t.subs, jobID)
	t.mu.Unlock()
}

// Subscribe registers for snapshots of the job. The channel is closed
// when the job finalizes; cancel must be called if the subscriber leaves
// earlier. The current snapshot is delivered immediately. Jobs known
// only to the repository get that record as a one-shot snapshot before
// the close, since nothing in this process will update them.
func (t *Tracker) Subscribe(ctx context.Context, jobID string) (<-chan domain.PostingJob, func()) {
	ch := make(chan domain.PostingJob, 16)

	t.mu.Lock()
	job, tracked := t.jobs[jobID]
	if !tracked || job.Status.Terminal() {
		// Nothing further will happen; deliver what we have and close.
		if tracked {
			ch <- *job
		}
		t.mu.Unlock()
		if !tracked {
			if stored, err := t.repo.GetJob(ctx, jobID); err == nil {
				ch <- *stored
			}
		}
		close(ch)
		return ch, func() {}
	}

	if _, ok := t.subs[jobID]; !ok {
		t.subs[jobID] = make(map[chan domain.PostingJob]struct{})
	}
	t.subs[jobID][ch] = struct{}{}
	ch <- *job
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		if set, ok := t.subs[jobID]; ok {
			if _, exists := set[ch]; exists {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(t.subs, jobID)
				}
			}
		}
		t.mu.Unlock()
	}
	return ch, cancel
}

// broadcast pushes the current snapshot to every subscriber. Slow
// subscribers drop intermediate snapshots rather than stall the run.
func (t *Tracker) broadcast(jobID string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[jobID]
	if !ok {
		return
	}
	for ch := range t.subs[jobID] {
		select {
		case ch <- *job:
		default:
		}
	}
}
