package services

import (
	"strings"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/allocation"
	"github.com/aristath/frontier/internal/modules/optimization"
	"github.com/aristath/frontier/internal/utils"
	"github.com/rs/zerolog"
)

// MarketData supplies expected returns and covariance for a set of assets
type MarketData interface {
	MarketData(assetIDs []string) (map[string]float64, domain.CovarianceMatrix, error)
}

// AssetResolver maps a caller's spelling of an asset id to the stored one.
// MarketData implementations may provide it.
type AssetResolver interface {
	ResolveAsset(id string) (string, bool)
}

// RecommendationRequest asks for a whole-share allocation of an investment
// amount across recommended assets. Exactly one of TargetReturn and MaxRisk
// must be set.
type RecommendationRequest struct {
	Assets           []string `json:"assets"`
	InvestmentAmount float64  `json:"investment_amount"`
	TargetReturn     *float64 `json:"target_return,omitempty"`
	MaxRisk          *float64 `json:"max_risk,omitempty"`
	AllowShort       bool     `json:"allow_short"`
}

// RecommendationService optimizes recommended assets against the current
// market snapshot and converts the weights into share counts
type RecommendationService struct {
	market    MarketData
	optimizer *optimization.Optimizer
	allocator *allocation.Allocator
	prices    allocation.PriceLookup
	log       zerolog.Logger
}

// NewRecommendationService creates a new recommendation service
func NewRecommendationService(
	market MarketData,
	optimizer *optimization.Optimizer,
	allocator *allocation.Allocator,
	prices allocation.PriceLookup,
	log zerolog.Logger,
) *RecommendationService {
	return &RecommendationService{
		market:    market,
		optimizer: optimizer,
		allocator: allocator,
		prices:    prices,
		log:       log.With().Str("service", "recommendation").Logger(),
	}
}

// Allocate runs optimize-then-allocate for the request.
// Asset ids are trimmed, mapped to their stored spelling when the market
// data can resolve them, and de-duplicated case-insensitively.
func (s *RecommendationService) Allocate(req RecommendationRequest) (allocation.Plan, error) {
	resolver, _ := s.market.(AssetResolver)
	ids := dedupeAssets(req.Assets, resolver)
	if len(ids) == 0 {
		return allocation.Plan{}, domain.Validationf("at least one asset must be provided")
	}
	if req.InvestmentAmount <= 0 {
		return allocation.Plan{}, domain.Validationf("investment amount must be a positive number")
	}
	if (req.TargetReturn == nil) == (req.MaxRisk == nil) {
		return allocation.Plan{}, domain.Validationf("provide either target_return or max_risk, but not both")
	}

	mu, cov, err := s.market.MarketData(ids)
	if err != nil {
		return allocation.Plan{}, err
	}

	weights, err := s.optimizer.Optimize(optimization.Request{
		Assets:          ids,
		ExpectedReturns: mu,
		Covariance:      cov,
		TargetReturn:    req.TargetReturn,
		TargetRisk:      req.MaxRisk,
		AllowShort:      req.AllowShort,
	})
	if err != nil {
		return allocation.Plan{}, err
	}

	plan, err := s.allocator.Allocate(allocation.Request{
		Assets:  weights.Assets,
		Weights: weights.Weights,
		Budget:  req.InvestmentAmount,
	}, s.prices)
	if err != nil {
		return allocation.Plan{}, err
	}

	s.log.Info().
		Int("num_assets", len(ids)).
		Float64("investment_amount", req.InvestmentAmount).
		Float64("leftover", plan.Leftover).
		Msg("Recommendation allocated")

	return plan, nil
}

func dedupeAssets(raw []string, resolver AssetResolver) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		id := strings.TrimSpace(r)
		if id == "" {
			continue
		}
		if resolver != nil {
			if known, ok := resolver.ResolveAsset(id); ok {
				id = known
			}
		}
		key := utils.NormalizeSymbol(id)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, id)
	}
	return out
}
