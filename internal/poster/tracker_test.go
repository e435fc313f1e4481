package poster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/avoronov/marketpost/internal/domain"
)

func newTrackedJob(t *testing.T, tracker *Tracker, jobID string, total int) {
	t.Helper()
	err := tracker.Create(context.Background(), &domain.PostingJob{
		JobID:      jobID,
		Status:     domain.JobQueued,
		TotalPosts: total,
		StartedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestTrackerSnapshotIsolation(t *testing.T) {
	tracker := NewTracker(newFakeRepo())
	newTrackedJob(t, tracker, "job-1", 3)

	snap, err := tracker.Snapshot(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	snap.CompletedPosts = 99

	again, err := tracker.Snapshot(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if again.CompletedPosts != 0 {
		t.Error("mutating a snapshot leaked into tracker state")
	}
}

func TestTrackerFallsBackToRepo(t *testing.T) {
	repo := newFakeRepo()
	old := &domain.PostingJob{JobID: "old-job", Status: domain.JobCompleted, TotalPosts: 1}
	if err := repo.CreateJob(context.Background(), old); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	tracker := NewTracker(repo)
	job, err := tracker.Snapshot(context.Background(), "old-job")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if job.Status != domain.JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}

	if _, err := tracker.Snapshot(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

func TestTrackerSubscribeRepoOnlyJobDeliversSnapshot(t *testing.T) {
	repo := newFakeRepo()
	stored := &domain.PostingJob{
		JobID:          "old-job",
		Status:         domain.JobRunning,
		TotalPosts:     3,
		CompletedPosts: 1,
	}
	if err := repo.CreateJob(context.Background(), stored); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// A job surviving only in the repository still yields its stored
	// state before the stream ends.
	tracker := NewTracker(repo)
	updates, cancel := tracker.Subscribe(context.Background(), "old-job")
	defer cancel()

	var got []domain.PostingJob
	for job := range updates {
		got = append(got, job)
	}
	if len(got) != 1 {
		t.Fatalf("received %d snapshots, want 1", len(got))
	}
	if got[0].Status != domain.JobRunning || got[0].CompletedPosts != 1 {
		t.Errorf("snapshot = %+v, want stored running state", got[0])
	}
}

func TestTrackerSubscribeReceivesProgress(t *testing.T) {
	tracker := NewTracker(newFakeRepo())
	newTrackedJob(t, tracker, "job-1", 2)

	updates, cancel := tracker.Subscribe(context.Background(), "job-1")
	defer cancel()

	// Initial snapshot arrives immediately.
	first := <-updates
	if first.Status != domain.JobQueued {
		t.Errorf("initial status = %s, want queued", first.Status)
	}

	ctx := context.Background()
	tracker.SetCurrent(ctx, "job-1", 7, "Oak table")
	tracker.RecordResult(ctx, "job-1", true)
	tracker.Finalize(ctx, "job-1", domain.JobCompleted, "")

	var last domain.PostingJob
	sawUpdate := false
	for job := range updates {
		last = job
		sawUpdate = true
	}
	if !sawUpdate {
		t.Fatal("no updates received before channel close")
	}
	if !last.Status.Terminal() {
		t.Errorf("last update status = %s, want terminal", last.Status)
	}
}

func TestTrackerSubscribeTerminalJobClosesImmediately(t *testing.T) {
	tracker := NewTracker(newFakeRepo())
	newTrackedJob(t, tracker, "job-1", 1)
	tracker.Finalize(context.Background(), "job-1", domain.JobCompleted, "")

	updates, cancel := tracker.Subscribe(context.Background(), "job-1")
	defer cancel()

	for range updates {
	}
	// Channel closed without Finalize being called again; reaching here
	// means the subscriber did not block.
}

func TestTrackerConcurrentReadersOneWriter(t *testing.T) {
	tracker := NewTracker(newFakeRepo())
	newTrackedJob(t, tracker, "job-1", 100)

	ctx := context.Background()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			tracker.SetCurrent(ctx, "job-1", int64(i), "item")
			tracker.RecordResult(ctx, "job-1", i%2 == 0)
		}
		tracker.Finalize(ctx, "job-1", domain.JobCompleted, "")
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				job, err := tracker.Snapshot(ctx, "job-1")
				if err != nil {
					t.Errorf("Snapshot: %v", err)
					return
				}
				if job.CompletedPosts+job.FailedPosts > job.TotalPosts {
					t.Errorf("counters exceed total: %+v", job)
					return
				}
			}
		}()
	}

	wg.Wait()

	job, err := tracker.Snapshot(ctx, "job-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if job.CompletedPosts+job.FailedPosts != 100 {
		t.Errorf("final counters %d+%d, want sum 100", job.CompletedPosts, job.FailedPosts)
	}
}
