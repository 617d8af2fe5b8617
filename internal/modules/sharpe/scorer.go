// Package sharpe scores assets by forecast risk-adjusted return.
//
// Scoring is best effort: every failure, including insufficient history,
// surfaces as a nil score instead of an error.
package sharpe

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/aristath/frontier/internal/modules/forecasting"
	"github.com/aristath/frontier/internal/modules/series"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// zeroRiskTolerance is the absolute tolerance under which risk counts as zero
const zeroRiskTolerance = 1e-8

// Score is the Sharpe score of one asset; Sharpe is nil when unscored
type Score struct {
	AssetID string   `json:"asset_id"`
	Sharpe  *float64 `json:"sharpe"`
}

// Scorer computes Sharpe scores from forecasts
type Scorer struct {
	forecaster  *forecasting.Forecaster
	forwardDays int
	confidence  float64
	workers     int
	log         zerolog.Logger
}

// NewScorer creates a new Sharpe scorer
func NewScorer(forecaster *forecasting.Forecaster, forwardDays int, confidence float64, workers int, log zerolog.Logger) *Scorer {
	if workers < 1 {
		workers = 1
	}
	return &Scorer{
		forecaster:  forecaster,
		forwardDays: forwardDays,
		confidence:  confidence,
		workers:     workers,
		log:         log.With().Str("component", "sharpe").Logger(),
	}
}

// Ratio returns mean/risk, or the sign of mean when risk is numerically zero
func Ratio(mean, risk float64) float64 {
	if formulas.IsNearZero(risk, zeroRiskTolerance) {
		switch {
		case mean > 0:
			return 1
		case mean < 0:
			return -1
		default:
			return 0
		}
	}
	return mean / risk
}

// FromReturns forecasts the asset and divides the mean of the forecast
// mean-return sequence by its population standard deviation.
func (s *Scorer) FromReturns(assetID string, returns []float64) (score *float64) {
	defer s.recoverInto(assetID, &score)

	forecast, err := s.forecaster.ForecastOrZero(assetID, returns, s.forwardDays, s.confidence)
	if err != nil {
		s.log.Debug().Err(err).Str("asset_id", assetID).Msg("No Sharpe score")
		return nil
	}

	mean := formulas.Mean(forecast.Mean)
	std := formulas.PopStdDev(forecast.Mean)
	return finite(Ratio(mean, std))
}

// FromArtifacts scores an asset from a stored price forecast: the last
// historical price is prepended to the predicted mean prices, the mean
// simple return is the numerator and sqrt(variance) the risk.
func (s *Scorer) FromArtifacts(assetID string, lastPrice float64, predicted []float64, variance float64) (score *float64) {
	defer s.recoverInto(assetID, &score)

	if len(predicted) == 0 || !formulas.IsFinite(lastPrice) || lastPrice <= 0 || !formulas.IsFinite(variance) {
		return nil
	}

	prices := append([]float64{lastPrice}, predicted...)
	returns := make([]float64, 0, len(predicted))
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || !formulas.IsFinite(prices[i]) {
			return nil
		}
		returns = append(returns, prices[i]/prices[i-1]-1)
	}

	risk := math.Sqrt(math.Max(variance, 0))
	return finite(Ratio(formulas.Mean(returns), risk))
}

// Rank scores the given assets of a dataset concurrently and orders them
// by score descending; unscored assets come last, ties by asset id.
func (s *Scorer) Rank(ctx context.Context, ds *series.Dataset, assetIDs []string) ([]Score, error) {
	if len(assetIDs) == 0 {
		assetIDs = ds.Assets()
	}

	scores := make([]Score, len(assetIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, id := range assetIDs {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score := s.FromReturns(id, ds.Returns(id).Values)
			mu.Lock()
			scores[i] = Score{AssetID: id, Sharpe: score}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	SortScores(scores)
	return scores, nil
}

// SortScores orders scores descending with nil scores last
func SortScores(scores []Score) {
	sort.SliceStable(scores, func(a, b int) bool {
		sa, sb := scores[a].Sharpe, scores[b].Sharpe
		switch {
		case sa == nil && sb == nil:
			return scores[a].AssetID < scores[b].AssetID
		case sa == nil:
			return false
		case sb == nil:
			return true
		case *sa != *sb:
			return *sa > *sb
		default:
			return scores[a].AssetID < scores[b].AssetID
		}
	})
}

func (s *Scorer) recoverInto(assetID string, score **float64) {
	if r := recover(); r != nil {
		s.log.Error().Str("asset_id", assetID).Err(fmt.Errorf("%v", r)).Msg("Sharpe scoring panicked")
		*score = nil
	}
}

func finite(v float64) *float64 {
	if !formulas.IsFinite(v) {
		return nil
	}
	return &v
}
