package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/poster"
	"github.com/avoronov/marketpost/internal/store"
)

// PostingHandler handles batch trigger, job status and error log
// endpoints.
type PostingHandler struct {
	*Handler
	orch    *poster.Orchestrator
	tracker *poster.Tracker
}

// NewPostingHandler creates a new posting handler.
func NewPostingHandler(base *Handler, orch *poster.Orchestrator, tracker *poster.Tracker) *PostingHandler {
	return &PostingHandler{Handler: base, orch: orch, tracker: tracker}
}

// RegisterRoutes registers posting routes.
func (h *PostingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/posting/start", h.Start)
	r.Get("/api/jobs/{jobID}", h.JobStatus)
	r.Get("/api/errors", h.ListErrors)
}

type startPostingRequest struct {
	ListingIDs []int64 `json:"listing_ids"`
}

// Start dispatches a batch posting job for the requested listings and
// responds before the batch runs.
func (h *PostingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startPostingRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.ListingIDs) == 0 {
		Error(w, http.StatusBadRequest, "listing_ids is required")
		return
	}

	jobID, err := h.orch.Start(r.Context(), req.ListingIDs)
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingPosts) {
			Error(w, http.StatusConflict, "no pending posts to submit")
			return
		}
		slog.Error("Failed to start posting job", "error", err)
		Error(w, http.StatusInternalServerError, "failed to start posting job")
		return
	}

	JSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":            jobID,
		"requested_count":   len(req.ListingIDs),
		"status_stream_url": "/ws/jobs/" + jobID,
	})
}

// JobStatus returns a point-in-time snapshot of a posting job.
func (h *PostingHandler) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.tracker.Snapshot(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			Error(w, http.StatusNotFound, "job not found")
			return
		}
		slog.Error("Failed to load job", "error", err, "job_id", jobID)
		Error(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	JSON(w, http.StatusOK, job)
}

// ListErrors returns error log entries, optionally filtered by
// listing_id, type and since (RFC 3339).
func (h *PostingHandler) ListErrors(w http.ResponseWriter, r *http.Request) {
	var filter store.ErrorLogFilter

	if raw := r.URL.Query().Get("listing_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid listing_id")
			return
		}
		filter.ListingID = id
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		filter.Type = domain.ErrorType(raw)
	}
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid since timestamp, want RFC 3339")
			return
		}
		filter.Since = since
	}

	entries, err := h.repo.ListErrorLogs(r.Context(), filter)
	if err != nil {
		slog.Error("Failed to list error logs", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list errors")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"errors": entries})
}
