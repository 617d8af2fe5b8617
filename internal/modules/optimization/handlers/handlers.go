// Package handlers provides HTTP handlers for portfolio optimization.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/utils"
	"github.com/rs/zerolog"
)

// MarketDataSource supplies expected returns and covariance for a set of
// assets when a request does not carry its own.
type MarketDataSource interface {
	MarketData(assetIDs []string) (map[string]float64, domain.CovarianceMatrix, error)
}

// Handler handles optimization HTTP requests
type Handler struct {
	optimizer *optimization.Optimizer
	market    MarketDataSource
	log       zerolog.Logger
}

// NewHandler creates a new optimization handler
func NewHandler(optimizer *optimization.Optimizer, market MarketDataSource, log zerolog.Logger) *Handler {
	return &Handler{
		optimizer: optimizer,
		market:    market,
		log:       log.With().Str("handler", "optimization").Logger(),
	}
}

// OptimizeResponse is the result of an optimization run
type OptimizeResponse struct {
	Assets         []string           `json:"assets"`
	Weights        map[string]float64 `json:"weights"`
	ExpectedReturn float64            `json:"expected_return"`
	Risk           float64            `json:"risk"`
}

// HandleOptimize runs a mean-variance optimization.
// Expected returns and covariance are taken from the current snapshot when
// the body omits them.
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimization.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, domain.Validationf("invalid request body: %v", err), h.log)
		return
	}

	if err := h.fillMarketData(req.Assets, &req.ExpectedReturns, &req.Covariance); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	weights, err := h.optimizer.Optimize(req)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	metrics, err := h.optimizer.Evaluate(optimization.EvaluateRequest{
		Weights:         weights.Map(),
		ExpectedReturns: req.ExpectedReturns,
		Covariance:      req.Covariance,
	})
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, OptimizeResponse{
		Assets:         weights.Assets,
		Weights:        weights.Map(),
		ExpectedReturn: metrics.ExpectedReturn,
		Risk:           metrics.Risk,
	}, h.log)
}

// HandleMetrics returns expected return and risk for given weights
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	var req optimization.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, domain.Validationf("invalid request body: %v", err), h.log)
		return
	}

	ids := make([]string, 0, len(req.Weights))
	for id := range req.Weights {
		ids = append(ids, id)
	}
	if err := h.fillMarketData(ids, &req.ExpectedReturns, &req.Covariance); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	metrics, err := h.optimizer.Evaluate(req)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, metrics, h.log)
}

func (h *Handler) fillMarketData(ids []string, mu *map[string]float64, cov *domain.CovarianceMatrix) error {
	if len(*mu) > 0 && len(cov.Assets) > 0 {
		return nil
	}
	if h.market == nil || len(ids) == 0 {
		return nil
	}

	snapMu, snapCov, err := h.market.MarketData(ids)
	if err != nil {
		return err
	}
	if len(*mu) == 0 {
		*mu = snapMu
	}
	if len(cov.Assets) == 0 {
		*cov = snapCov
	}
	return nil
}
