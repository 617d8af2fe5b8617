// Package handlers provides HTTP handlers for covariance and correlation queries.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/covariance"
	"github.com/aristath/frontier/internal/modules/snapshot"
	"github.com/aristath/frontier/internal/utils"
	"github.com/rs/zerolog"
)

// SnapshotSource exposes the current snapshot
type SnapshotSource interface {
	Current() *snapshot.Snapshot
}

// Handler handles covariance HTTP requests
type Handler struct {
	snapshots SnapshotSource
	estimator *covariance.Estimator
	log       zerolog.Logger
}

// NewHandler creates a new covariance handler
func NewHandler(snapshots SnapshotSource, estimator *covariance.Estimator, log zerolog.Logger) *Handler {
	return &Handler{
		snapshots: snapshots,
		estimator: estimator,
		log:       log.With().Str("handler", "covariance").Logger(),
	}
}

func (h *Handler) matrix(r *http.Request) (domain.CovarianceMatrix, error) {
	snap := h.snapshots.Current()
	if snap == nil {
		return domain.CovarianceMatrix{}, fmt.Errorf("%w: no snapshot has been built", domain.ErrMissingMarketData)
	}
	return snap.CovarianceFor(utils.ParseCSV(r.URL.Query().Get("assets")))
}

// HandleGetCovariance handles GET /api/covariance?assets=A,B
func (h *Handler) HandleGetCovariance(w http.ResponseWriter, r *http.Request) {
	m, err := h.matrix(r)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, m, h.log)
}

// HandleGetCorrelations handles GET /api/covariance/correlations?threshold=0.8&assets=A,B
func (h *Handler) HandleGetCorrelations(w http.ResponseWriter, r *http.Request) {
	threshold := covariance.HighCorrelationThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			utils.WriteError(w, domain.Validationf("threshold must be a number in [0, 1], got %q", raw), h.log)
			return
		}
		threshold = v
	}

	m, err := h.matrix(r)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, h.estimator.HighCorrelations(m, threshold), h.log)
}
