package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oddsline/platform/internal/domain"
)

// MatchStore is the read surface the browse endpoints need.
type MatchStore interface {
	ListMatches(ctx context.Context, onlyLive bool) ([]domain.Fixture, error)
	GetMatch(ctx context.Context, id string) (*domain.Fixture, error)
}

// MatchHandler serves the match browse endpoints.
type MatchHandler struct {
	store  MatchStore
	logger *slog.Logger
}

// NewMatchHandler creates a new MatchHandler.
func NewMatchHandler(store MatchStore, logger *slog.Logger) *MatchHandler {
	return &MatchHandler{store: store, logger: logger}
}

// HandleList handles GET /api/matches.
func (h *MatchHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, false)
}

// HandleInplay handles GET /api/matches/inplay.
func (h *MatchHandler) HandleInplay(w http.ResponseWriter, r *http.Request) {
	h.respondList(w, r, true)
}

// HandleGet handles GET /api/matches/{id}.
func (h *MatchHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	match, err := h.store.GetMatch(r.Context(), id)
	if err != nil {
		RespondError(w, err)
		return
	}
	if match == nil {
		RespondError(w, domain.ErrNotFound("match", id))
		return
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"match":   match,
	})
}

func (h *MatchHandler) respondList(w http.ResponseWriter, r *http.Request, onlyLive bool) {
	matches, err := h.store.ListMatches(r.Context(), onlyLive)
	if err != nil {
		h.logger.Error("list matches failed", "onlyLive", onlyLive, "error", err)
		RespondError(w, err)
		return
	}
	if matches == nil {
		matches = []domain.Fixture{}
	}
	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"count":   len(matches),
		"matches": matches,
	})
}
