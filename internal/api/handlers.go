package api

import (
	"errors"
	"net/http"
	"time"

	"ledger-sync/internal/domain"
	"ledger-sync/internal/orchestrator"
	"ledger-sync/internal/scheduler"
	"ledger-sync/internal/storage"
)

// handleAggregated handles GET /transactions/aggregated/{userId}
func (s *Server) handleAggregated(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")

	balance, err := s.aggregator.BalanceFor(r.Context(), userID)
	if errors.Is(err, storage.ErrInvalidInput) {
		WriteError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("user_id", userID).Msg("Failed to aggregate balance")
		WriteError(w, http.StatusInternalServerError, "Failed to aggregate balance")
		return
	}

	WriteJSON(w, http.StatusOK, balance)
}

// handlePayouts handles GET /transactions/payouts
func (s *Server) handlePayouts(w http.ResponseWriter, r *http.Request) {
	payouts, err := s.aggregator.PendingPayouts(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list payouts")
		WriteError(w, http.StatusInternalServerError, "Failed to list payouts")
		return
	}

	WriteJSON(w, http.StatusOK, payouts)
}

type failedJob struct {
	ID        string         `json:"id"`
	Job       domain.PageJob `json:"job"`
	Attempts  int            `json:"attempts"`
	LastError string         `json:"lastError"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// handleFailedJobs handles GET /jobs/failed
func (s *Server) handleFailedJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		WriteJSON(w, http.StatusOK, []failedJob{})
		return
	}

	records, err := s.jobs.ListFailed(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list failed jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list failed jobs")
		return
	}

	out := make([]failedJob, 0, len(records))
	for _, rec := range records {
		out = append(out, failedJob{
			ID:        rec.ID,
			Job:       rec.Job,
			Attempts:  rec.Attempts,
			LastError: rec.LastError,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	WriteJSON(w, http.StatusOK, out)
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status       string               `json:"status"`
	Uptime       string               `json:"uptime"`
	Stream       string               `json:"stream"`
	LastSyncTime *time.Time           `json:"lastSyncTime,omitempty"`
	Sync         *orchestrator.Status `json:"sync,omitempty"`
	Scheduler    *scheduler.Stats     `json:"scheduler,omitempty"`
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status: "running",
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Stream: s.streamKey,
	}

	if s.status != nil {
		st := s.status.Status()
		resp.Sync = &st
	}
	if s.scheduler != nil {
		stats := s.scheduler.Stats()
		resp.Scheduler = &stats
	}
	if s.watermarks != nil {
		wm, err := s.watermarks.Get(r.Context(), s.streamKey)
		switch {
		case err == nil:
			resp.LastSyncTime = &wm.LastSyncTime
		case errors.Is(err, storage.ErrNotFound):
		default:
			s.log.Warn().Err(err).Msg("Failed to read watermark")
		}
	}

	WriteJSON(w, http.StatusOK, resp)
}
