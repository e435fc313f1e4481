package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/avoronov/marketpost/internal/domain"
)

// ListingHandler handles listing creation and analytics endpoints.
type ListingHandler struct {
	*Handler
}

// NewListingHandler creates a new listing handler.
func NewListingHandler(base *Handler) *ListingHandler {
	return &ListingHandler{Handler: base}
}

// RegisterRoutes registers listing routes.
func (h *ListingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/listings", h.Create)
		r.Get("/analytics/summary", h.AnalyticsSummary)
	})
}

type createListingRequest struct {
	AccountID     string  `json:"account_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	ImagePath     string  `json:"image_path"`
	ScheduledTime string  `json:"scheduled_time,omitempty"`
}

// Create stores a new listing. The "created" analytics event is
// appended in the same transaction as the insert.
func (h *ListingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createListingRequest
	if err := decodeBody(r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	listing := &domain.Listing{
		AccountID:   req.AccountID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		ImagePath:   req.ImagePath,
	}
	if req.ScheduledTime != "" {
		scheduled, err := time.Parse(time.RFC3339, req.ScheduledTime)
		if err != nil {
			Error(w, http.StatusBadRequest, "invalid scheduled_time, want RFC 3339")
			return
		}
		listing.ScheduledTime = scheduled
	}

	if err := listing.Validate(); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.CreateListing(r.Context(), listing); err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			Error(w, http.StatusBadRequest, "account not found")
			return
		}
		slog.Error("Failed to create listing", "error", err, "title", req.Title)
		Error(w, http.StatusInternalServerError, "failed to create listing")
		return
	}

	slog.Info("Listing created", "listing_id", listing.ID, "title", listing.Title)
	JSON(w, http.StatusCreated, listing)
}

// AnalyticsSummary returns lifetime analytics counters.
func (h *ListingHandler) AnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.repo.GetAnalyticsSummary(r.Context())
	if err != nil {
		slog.Error("Failed to aggregate analytics", "error", err)
		Error(w, http.StatusInternalServerError, "failed to aggregate analytics")
		return
	}
	JSON(w, http.StatusOK, summary)
}
