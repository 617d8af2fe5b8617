// Package handlers provides HTTP handlers for capital allocation.
package handlers

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/allocation"
	"github.com/aristath/frontier/internal/services"
	"github.com/aristath/frontier/internal/utils"
	"github.com/rs/zerolog"
)

// Handler handles allocation HTTP requests
type Handler struct {
	allocator   *allocation.Allocator
	prices      allocation.PriceLookup
	recommender *services.RecommendationService
	log         zerolog.Logger
}

// NewHandler creates a new allocation handler
func NewHandler(
	allocator *allocation.Allocator,
	prices allocation.PriceLookup,
	recommender *services.RecommendationService,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		allocator:   allocator,
		prices:      prices,
		recommender: recommender,
		log:         log.With().Str("handler", "allocation").Logger(),
	}
}

// allocateRequest accepts weights either aligned with assets or keyed by asset
type allocateRequest struct {
	Assets        []string           `json:"assets"`
	Weights       []float64          `json:"weights"`
	WeightsByID   map[string]float64 `json:"weights_by_asset"`
	Budget        float64            `json:"budget"`
	InvestmentAmt *float64           `json:"investment_amount"`
}

func (r allocateRequest) toRequest() allocation.Request {
	req := allocation.Request{Assets: r.Assets, Weights: r.Weights, Budget: r.Budget}
	if r.InvestmentAmt != nil {
		req.Budget = *r.InvestmentAmt
	}
	if len(r.Weights) == 0 && len(r.WeightsByID) > 0 {
		if len(req.Assets) == 0 {
			for id := range r.WeightsByID {
				req.Assets = append(req.Assets, id)
			}
			sort.Strings(req.Assets)
		}
		req.Weights = make([]float64, len(req.Assets))
		for i, id := range req.Assets {
			req.Weights[i] = r.WeightsByID[id]
		}
	}
	return req
}

// HandleAllocate converts weights into whole-share orders at the latest prices
func (h *Handler) HandleAllocate(w http.ResponseWriter, r *http.Request) {
	var body allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.WriteError(w, domain.Validationf("invalid request body: %v", err), h.log)
		return
	}

	plan, err := h.allocator.Allocate(body.toRequest(), h.prices)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, plan, h.log)
}

// HandleAllocateRecommendation optimizes the given assets with snapshot data
// and allocates the investment amount across the resulting weights
func (h *Handler) HandleAllocateRecommendation(w http.ResponseWriter, r *http.Request) {
	var req services.RecommendationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteError(w, domain.Validationf("invalid request body: %v", err), h.log)
		return
	}

	plan, err := h.recommender.Allocate(req)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	utils.WriteJSON(w, http.StatusOK, plan, h.log)
}
