package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/oddsline/platform/internal/domain"
	"github.com/oddsline/platform/internal/service"
)

// SchedulerControl is the slice of the scheduler the HTTP surface drives.
type SchedulerControl interface {
	Start()
	Stop()
	ForceSync(ctx context.Context) (*service.SyncReport, error)
	Status() (running bool, nextRun *time.Time)
}

// SyncHandler exposes the manual ingestion trigger.
type SyncHandler struct {
	scheduler SchedulerControl
	logger    *slog.Logger
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(scheduler SchedulerControl, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{scheduler: scheduler, logger: logger}
}

// HandleSync handles POST /api/matches/sync: one ingestion pass, immediately,
// under the scheduler's mutual-exclusion rule.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.scheduler.ForceSync(r.Context())
	if err != nil {
		h.logger.Error("manual sync failed", "error", err)
		status := http.StatusInternalServerError
		errMsg := "sync failed"
		details := err.Error()

		var appErr *domain.AppError
		if errors.As(err, &appErr) {
			status = appErr.Status
			errMsg = appErr.Message
			if appErr.Cause != nil {
				details = appErr.Cause.Error()
			}
		}
		RespondJSON(w, status, map[string]interface{}{
			"success": false,
			"error":   errMsg,
			"details": details,
		})
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"message":       "sync completed",
		"totalFixtures": report.TotalFixtures,
		"savedMatches":  report.SavedMatches,
	})
}
