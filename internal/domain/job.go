package domain

import (
	"time"
)

// JobStatus is the lifecycle state of a posting job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal returns true once the job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// PostingJob tracks one batch-posting run. It is created when the batch
// starts, mutated as each (listing, account) pair resolves, and finalized
// exactly once at batch end.
type PostingJob struct {
	JobID            string     `json:"job_id"`
	Status           JobStatus  `json:"status"`
	TotalPosts       int        `json:"total_posts"`
	CompletedPosts   int        `json:"completed_posts"`
	FailedPosts      int        `json:"failed_posts"`
	CurrentPostID    int64      `json:"current_post_id,omitempty"`
	CurrentPostTitle string     `json:"current_post_title,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}
