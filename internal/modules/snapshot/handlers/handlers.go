// Package handlers provides HTTP handlers for snapshot inspection and refresh.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/aristath/frontier/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler handles snapshot HTTP requests
type Handler struct {
	manager *snapshot.Manager
	log     zerolog.Logger
}

// NewHandler creates a new snapshot handler
func NewHandler(manager *snapshot.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		log:     log.With().Str("handler", "snapshot").Logger(),
	}
}

func (h *Handler) current() (*snapshot.Snapshot, error) {
	snap := h.manager.Current()
	if snap == nil {
		return nil, fmt.Errorf("%w: no snapshot has been built", domain.ErrMissingMarketData)
	}
	return snap, nil
}

// HandleGetSnapshot handles GET /api/snapshot
func (h *Handler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.current()
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap.Summary(time.Now(), h.manager.MaxAge()), h.log)
}

// HandleRefresh handles POST /api/snapshot/refresh. The rebuild runs on
// the request; a concurrent refresh is waited for, then this one runs.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.manager.Refresh(r.Context())
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap.Summary(time.Now(), h.manager.MaxAge()), h.log)
}

// HandleGetExpectedReturns handles GET /api/snapshot/expected-returns
func (h *Handler) HandleGetExpectedReturns(w http.ResponseWriter, r *http.Request) {
	snap, err := h.current()
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, snap.ExpectedReturns, h.log)
}

// HandleGetForecast handles GET /api/snapshot/forecasts/{id}
func (h *Handler) HandleGetForecast(w http.ResponseWriter, r *http.Request) {
	snap, err := h.current()
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	forecast, err := snap.Forecast(chi.URLParam(r, "id"))
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, forecast, h.log)
}
