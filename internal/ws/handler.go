// Package ws streams posting job progress over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/avoronov/marketpost/internal/domain"
	"github.com/avoronov/marketpost/internal/poster"
)

// progressMessage is one frame pushed to a subscribed client.
type progressMessage struct {
	Type string             `json:"type"`
	Job  *domain.PostingJob `json:"job,omitempty"`
}

// JobStreamHandler upgrades GET /ws/jobs/{jobID} to a WebSocket and
// pushes a job snapshot after every progress change until the job
// reaches a terminal state.
type JobStreamHandler struct {
	tracker       *poster.Tracker
	allowedOrigin string
	isDev         bool
}

// NewJobStreamHandler creates a job progress streaming handler.
func NewJobStreamHandler(tracker *poster.Tracker, allowedOrigin string, isDev bool) *JobStreamHandler {
	return &JobStreamHandler{
		tracker:       tracker,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *JobStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	slog.Info("Job stream connection request", "job_id", jobID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	if _, err := h.tracker.Snapshot(r.Context(), jobID); err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "job_id", jobID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "job_id", jobID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := h.tracker.Subscribe(ctx, jobID)
	defer unsubscribe()

	// Drain client frames so pings and close frames are processed; any
	// read error means the client is gone.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				if websocket.CloseStatus(err) != -1 {
					slog.Debug("Job stream closed by client", "job_id", jobID)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-updates:
			if !ok {
				// Tracker finalized the job and closed the stream.
				_ = h.writeMessage(ctx, ws, progressMessage{Type: "done"})
				slog.Info("Job stream ended", "job_id", jobID)
				return
			}
			if err := h.writeMessage(ctx, ws, progressMessage{Type: "status", Job: &job}); err != nil {
				return
			}
			if job.Status.Terminal() {
				_ = h.writeMessage(ctx, ws, progressMessage{Type: "done"})
				return
			}
		}
	}
}

func (h *JobStreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("Job stream origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *JobStreamHandler) writeMessage(ctx context.Context, ws *websocket.Conn, msg progressMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Debug("Job stream write error", "error", err)
		}
		return err
	}
	return nil
}
