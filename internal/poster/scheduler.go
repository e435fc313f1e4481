package poster

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/store"
)

// StartScheduler runs a background goroutine that periodically sweeps
// for unposted listings whose scheduled time has elapsed and dispatches
// a posting job for them. It is a fallback for deployments without an
// external cron; at most one sweep-triggered job runs per interval.
func StartScheduler(ctx context.Context, repo store.Repository, orch *Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Schedule sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				sweepDueListings(ctx, repo, orch)
			case <-ctx.Done():
				slog.Info("Schedule sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweepDueListings(ctx context.Context, repo store.Repository, orch *Orchestrator) {
	due, err := repo.ListDue(ctx, time.Now())
	if err != nil {
		slog.Error("Schedule sweeper failed to list due listings", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	ids := make([]int64, 0, len(due))
	for _, l := range due {
		ids = append(ids, l.ID)
	}

	jobID, err := orch.Start(ctx, ids)
	if err != nil {
		// A concurrent run may have picked the same listings up already.
		if errors.Is(err, domain.ErrNoPendingPosts) {
			return
		}
		slog.Error("Schedule sweeper failed to start posting job", "error", err, "due", len(ids))
		return
	}

	slog.Info("Schedule sweeper dispatched posting job", "job_id", jobID, "due", len(ids))
}
