package poster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avoronov/marketpost/internal/config"
	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/store"
)

// fakeRepo is an in-memory Repository for orchestrator and tracker tests.
type fakeRepo struct {
	mu        sync.Mutex
	listings  map[int64]*domain.Listing
	jobs      map[string]*domain.PostingJob
	errorLogs []*domain.ErrorLog
	posted    []int64
}

func newFakeRepo(listings ...*domain.Listing) *fakeRepo {
	r := &fakeRepo{
		listings: make(map[int64]*domain.Listing),
		jobs:     make(map[string]*domain.PostingJob),
	}
	for _, l := range listings {
		r.listings[l.ID] = l
	}
	return r
}

func (r *fakeRepo) CreateAccount(context.Context, *domain.Account) error { return nil }
func (r *fakeRepo) GetAccount(context.Context, string) (*domain.Account, error) {
	return nil, domain.ErrAccountNotFound
}
func (r *fakeRepo) ListAccounts(context.Context) ([]*domain.Account, error) { return nil, nil }
func (r *fakeRepo) DeleteAccount(context.Context, string) error             { return nil }
func (r *fakeRepo) CreateListing(context.Context, *domain.Listing) error    { return nil }

func (r *fakeRepo) GetListing(_ context.Context, id int64) (*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok {
		return nil, domain.ErrListingNotFound
	}
	copied := *l
	return &copied, nil
}

func (r *fakeRepo) ListPending(_ context.Context, ids []int64) ([]*domain.Listing, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Listing
	for _, id := range ids {
		if l, ok := r.listings[id]; ok && !l.Posted {
			copied := *l
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListDue(context.Context, time.Time) ([]*domain.Listing, error) {
	return nil, nil
}

func (r *fakeRepo) MarkPosted(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.listings[id]
	if !ok || l.Posted {
		return false, nil
	}
	l.Posted = true
	r.posted = append(r.posted, id)
	return true, nil
}

func (r *fakeRepo) CreateJob(_ context.Context, job *domain.PostingJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *job
	r.jobs[job.JobID] = &copied
	return nil
}

func (r *fakeRepo) GetJob(_ context.Context, jobID string) (*domain.PostingJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (r *fakeRepo) UpdateJobCurrent(_ context.Context, jobID string, listingID int64, title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		job.Status = domain.JobRunning
		job.CurrentPostID = listingID
		job.CurrentPostTitle = title
	}
	return nil
}

func (r *fakeRepo) UpdateJobCounters(_ context.Context, jobID string, completed, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		job.CompletedPosts = completed
		job.FailedPosts = failed
	}
	return nil
}

func (r *fakeRepo) FinalizeJob(_ context.Context, jobID string, status domain.JobStatus, errMsg string, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[jobID]; ok {
		job.Status = status
		job.ErrorMessage = errMsg
		job.CurrentPostID = 0
		job.CurrentPostTitle = ""
		job.CompletedAt = &completedAt
	}
	return nil
}

func (r *fakeRepo) CreateErrorLog(_ context.Context, entry *domain.ErrorLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorLogs = append(r.errorLogs, entry)
	return nil
}

func (r *fakeRepo) ListErrorLogs(context.Context, store.ErrorLogFilter) ([]*domain.ErrorLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.ErrorLog(nil), r.errorLogs...), nil
}

func (r *fakeRepo) GetAnalyticsSummary(context.Context) (*store.AnalyticsSummary, error) {
	return &store.AnalyticsSummary{}, nil
}

func (r *fakeRepo) Ping(context.Context) error { return nil }
func (r *fakeRepo) Close() error               { return nil }

func (r *fakeRepo) postedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.posted...)
}

// fakeSubmitter records submission order and fails the configured IDs.
type fakeSubmitter struct {
	mu      sync.Mutex
	order   []int64
	failIDs map[int64]error
}

func (s *fakeSubmitter) Submit(_ context.Context, listing *domain.Listing, _ bool) error {
	s.mu.Lock()
	s.order = append(s.order, listing.ID)
	s.mu.Unlock()
	if err, ok := s.failIDs[listing.ID]; ok {
		return err
	}
	return nil
}

func (s *fakeSubmitter) submitted() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.order...)
}

func listing(id int64, title, email string) *domain.Listing {
	return &domain.Listing{
		ID:           id,
		AccountID:    "acc-" + email,
		AccountEmail: email,
		Title:        title,
		Description:  "desc",
		Price:        10,
		ImagePath:    "/tmp/img.jpg",
	}
}

func newTestOrchestrator(t *testing.T, repo store.Repository, sub Submitter) (*Orchestrator, *Tracker) {
	t.Helper()
	cfg := &config.Config{Headless: true, Timing: config.DefaultTiming()}
	tracker := NewTracker(repo)
	runner := NewRunner(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runner.Shutdown(ctx); err != nil {
			t.Errorf("runner shutdown: %v", err)
		}
	})
	return NewOrchestrator(repo, sub, tracker, runner, cfg), tracker
}

func waitTerminal(t *testing.T, tracker *Tracker, jobID string) *domain.PostingJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := tracker.Snapshot(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
	return nil
}

func TestStartEmptyCandidateSetCreatesNoJob(t *testing.T) {
	repo := newFakeRepo(listing(1, "Oak table", "a@x.com"))
	repo.listings[1].Posted = true
	orch, _ := newTestOrchestrator(t, repo, &fakeSubmitter{})

	_, err := orch.Start(context.Background(), []int64{1, 99})
	if !errors.Is(err, domain.ErrNoPendingPosts) {
		t.Fatalf("Start = %v, want ErrNoPendingPosts", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.jobs) != 0 {
		t.Errorf("job record created for empty candidate set: %d", len(repo.jobs))
	}
}

func TestRunAllSucceed(t *testing.T) {
	repo := newFakeRepo(
		listing(1, "Oak table", "a@x.com"),
		listing(2, "Oak table", "b@x.com"),
	)
	sub := &fakeSubmitter{}
	orch, tracker := newTestOrchestrator(t, repo, sub)

	jobID, err := orch.Start(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitTerminal(t, tracker, jobID)
	if job.Status != domain.JobCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.CompletedPosts != 2 || job.FailedPosts != 0 {
		t.Errorf("counters = %d/%d, want 2/0", job.CompletedPosts, job.FailedPosts)
	}
	if job.ErrorMessage != "" {
		t.Errorf("error message = %q, want empty", job.ErrorMessage)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
	if got := repo.postedIDs(); len(got) != 2 {
		t.Errorf("posted = %v, want both listings", got)
	}
}

func TestRunPartialFailure(t *testing.T) {
	repo := newFakeRepo(
		listing(1, "Oak table", "a@x.com"),
		listing(2, "Oak table", "b@x.com"),
		listing(3, "Wool rug", "a@x.com"),
	)
	sub := &fakeSubmitter{failIDs: map[int64]error{
		2: fmt.Errorf("connection reset during upload"),
	}}
	orch, tracker := newTestOrchestrator(t, repo, sub)

	jobID, err := orch.Start(context.Background(), []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitTerminal(t, tracker, jobID)
	if job.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if job.CompletedPosts != 2 || job.FailedPosts != 1 {
		t.Errorf("counters = %d/%d, want 2/1", job.CompletedPosts, job.FailedPosts)
	}
	if job.CompletedPosts+job.FailedPosts != job.TotalPosts {
		t.Errorf("counters %d+%d do not sum to total %d",
			job.CompletedPosts, job.FailedPosts, job.TotalPosts)
	}
	if job.ErrorMessage != "1 posts failed" {
		t.Errorf("error message = %q, want %q", job.ErrorMessage, "1 posts failed")
	}

	// The failed item keeps the batch going and lands in the error log.
	if got := sub.submitted(); len(got) != 3 {
		t.Errorf("submitted %v, want all three attempts", got)
	}
	repo.mu.Lock()
	logs := append([]*domain.ErrorLog(nil), repo.errorLogs...)
	repo.mu.Unlock()
	if len(logs) != 1 {
		t.Fatalf("error logs = %d, want 1", len(logs))
	}
	if logs[0].ListingID != 2 || logs[0].ErrorType != domain.ErrorNetwork {
		t.Errorf("error log = %+v, want listing 2 network_error", logs[0])
	}

	for _, id := range repo.postedIDs() {
		if id == 2 {
			t.Error("failed listing was marked posted")
		}
	}
}

func TestRunProductMajorOrdering(t *testing.T) {
	// Two products across two accounts, interleaved by ID. All copies of
	// one title must run before the next title starts.
	repo := newFakeRepo(
		listing(1, "Oak table", "a@x.com"),
		listing(2, "Wool rug", "a@x.com"),
		listing(3, "Oak table", "b@x.com"),
		listing(4, "Wool rug", "b@x.com"),
	)
	sub := &fakeSubmitter{}
	orch, tracker := newTestOrchestrator(t, repo, sub)

	jobID, err := orch.Start(context.Background(), []int64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitTerminal(t, tracker, jobID)

	want := []int64{1, 3, 2, 4}
	got := sub.submitted()
	if len(got) != len(want) {
		t.Fatalf("submitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("submission order %v, want %v", got, want)
		}
	}
}

// panickingSubmitter simulates a crash deep inside the browser flow.
type panickingSubmitter struct{}

func (panickingSubmitter) Submit(context.Context, *domain.Listing, bool) error {
	panic("nil page handle during form fill")
}

func TestRunPanicFinalizesJob(t *testing.T) {
	repo := newFakeRepo(
		listing(1, "Oak table", "a@x.com"),
		listing(2, "Oak table", "b@x.com"),
	)
	orch, tracker := newTestOrchestrator(t, repo, panickingSubmitter{})

	jobID, err := orch.Start(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	updates, cancelSub := tracker.Subscribe(context.Background(), jobID)
	defer cancelSub()

	job := waitTerminal(t, tracker, jobID)
	if job.Status != domain.JobFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.ErrorMessage, "internal error") {
		t.Errorf("error message = %q, want internal error summary", job.ErrorMessage)
	}
	if job.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	// Finalizing on the panic path must also release streaming clients.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range updates {
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber channel was not closed after panic")
	}
}

func TestStartSkipsAlreadyPosted(t *testing.T) {
	posted := listing(1, "Oak table", "a@x.com")
	posted.Posted = true
	repo := newFakeRepo(posted, listing(2, "Oak table", "b@x.com"))
	sub := &fakeSubmitter{}
	orch, tracker := newTestOrchestrator(t, repo, sub)

	jobID, err := orch.Start(context.Background(), []int64{1, 2})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitTerminal(t, tracker, jobID)
	if job.TotalPosts != 1 {
		t.Errorf("total = %d, want 1 (posted listing excluded)", job.TotalPosts)
	}
	for _, id := range sub.submitted() {
		if id == 1 {
			t.Error("already-posted listing was submitted again")
		}
	}
}
