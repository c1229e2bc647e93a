package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// CronHandler controls the sync scheduler over HTTP.
type CronHandler struct {
	scheduler SchedulerControl
	logger    *slog.Logger
}

// NewCronHandler creates a new CronHandler.
func NewCronHandler(scheduler SchedulerControl, logger *slog.Logger) *CronHandler {
	return &CronHandler{scheduler: scheduler, logger: logger}
}

type cronStatus struct {
	IsRunning bool    `json:"isRunning"`
	NextRun   *string `json:"nextRun,omitempty"`
}

type cronActionRequest struct {
	Action string `json:"action"`
}

// HandleStatus handles GET /api/cron/control.
func (h *CronHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	running, next := h.scheduler.Status()
	status := cronStatus{IsRunning: running}
	if next != nil {
		formatted := next.UTC().Format(time.RFC3339)
		status.NextRun = &formatted
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  status,
	})
}

// HandleControl handles POST /api/cron/control with {"action": "start"|"stop"|"sync"}.
func (h *CronHandler) HandleControl(w http.ResponseWriter, r *http.Request) {
	var req cronActionRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid request body",
		})
		return
	}

	switch req.Action {
	case "start":
		h.scheduler.Start()
		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "scheduler started",
		})
	case "stop":
		h.scheduler.Stop()
		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"message": "scheduler stopped",
		})
	case "sync":
		report, err := h.scheduler.ForceSync(r.Context())
		if err != nil {
			h.logger.Error("cron-triggered sync failed", "error", err)
			RespondError(w, err)
			return
		}
		RespondJSON(w, http.StatusOK, map[string]interface{}{
			"success":       true,
			"message":       "sync completed",
			"totalFixtures": report.TotalFixtures,
			"savedMatches":  report.SavedMatches,
		})
	default:
		RespondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false,
			"error":   "invalid action, expected start, stop or sync",
		})
	}
}
