// Package covariance estimates pairwise return covariance over an asset universe.
package covariance

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
)

// HighCorrelationThreshold is the default cut-off for correlation diagnostics
const HighCorrelationThreshold = 0.80

// CorrelationPair is a pair of assets whose returns move together
type CorrelationPair struct {
	AssetA      string  `json:"asset_a"`
	AssetB      string  `json:"asset_b"`
	Correlation float64 `json:"correlation"`
}

// Estimator builds covariance matrices from price histories
type Estimator struct {
	log zerolog.Logger
}

// NewEstimator creates a new covariance estimator
func NewEstimator(log zerolog.Logger) *Estimator {
	return &Estimator{
		log: log.With().Str("component", "covariance").Logger(),
	}
}

// Estimate aligns all histories on the union of their dates, derives
// returns on that calendar and computes pairwise sample covariance over
// the dates where both assets have a return. A return exists only where
// both consecutive calendar prices exist. Pairs with fewer than two shared
// returns get exactly 0. Members of universe without prices get zero rows.
func (e *Estimator) Estimate(histories map[string]domain.PriceSeries, universe ...string) domain.CovarianceMatrix {
	idSet := make(map[string]struct{}, len(histories)+len(universe))
	for id := range histories {
		idSet[strings.TrimSpace(id)] = struct{}{}
	}
	for _, id := range universe {
		idSet[strings.TrimSpace(id)] = struct{}{}
	}
	delete(idSet, "")

	ids := make([]string, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	calendar := unionCalendar(histories)
	returns := make([][]float64, len(ids))
	for i, id := range ids {
		returns[i] = alignedReturns(lookup(histories, id), calendar)
	}

	n := len(ids)
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
	}

	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			x, y := overlap(returns[i], returns[j])
			cov := formulas.Covariance(x, y)
			if i == j && cov < 0 {
				cov = 0
			}
			values[i][j] = cov
			values[j][i] = cov
		}
	}

	e.log.Debug().
		Int("num_assets", n).
		Int("num_dates", len(calendar)).
		Msg("Covariance matrix estimated")

	return domain.CovarianceMatrix{Assets: ids, Values: values}
}

// HighCorrelations lists pairs whose absolute correlation reaches threshold.
// Assets with zero variance are skipped.
func (e *Estimator) HighCorrelations(matrix domain.CovarianceMatrix, threshold float64) []CorrelationPair {
	pairs := make([]CorrelationPair, 0)
	for i := 0; i < len(matrix.Assets); i++ {
		for j := i + 1; j < len(matrix.Assets); j++ {
			vi, vj := matrix.Values[i][i], matrix.Values[j][j]
			if vi <= 0 || vj <= 0 {
				continue
			}
			corr := matrix.Values[i][j] / math.Sqrt(vi*vj)
			if math.Abs(corr) >= threshold {
				pairs = append(pairs, CorrelationPair{
					AssetA:      matrix.Assets[i],
					AssetB:      matrix.Assets[j],
					Correlation: corr,
				})
			}
		}
	}
	return pairs
}

func lookup(histories map[string]domain.PriceSeries, id string) domain.PriceSeries {
	if s, ok := histories[id]; ok {
		return s
	}
	for key, s := range histories {
		if strings.TrimSpace(key) == id {
			return s
		}
	}
	return domain.PriceSeries{AssetID: id}
}

func unionCalendar(histories map[string]domain.PriceSeries) []time.Time {
	seen := make(map[time.Time]struct{})
	for _, s := range histories {
		for _, p := range s.Points {
			seen[p.Date] = struct{}{}
		}
	}
	calendar := make([]time.Time, 0, len(seen))
	for d := range seen {
		calendar = append(calendar, d)
	}
	sort.Slice(calendar, func(a, b int) bool { return calendar[a].Before(calendar[b]) })
	return calendar
}

// alignedReturns returns one slot per calendar step, NaN where undefined
func alignedReturns(s domain.PriceSeries, calendar []time.Time) []float64 {
	prices := make(map[time.Time]float64, len(s.Points))
	for _, p := range s.Points {
		if p.Price > 0 && formulas.IsFinite(p.Price) {
			prices[p.Date] = p.Price
		}
	}

	if len(calendar) < 2 {
		return nil
	}
	out := make([]float64, len(calendar)-1)
	for t := 1; t < len(calendar); t++ {
		prev, okPrev := prices[calendar[t-1]]
		cur, okCur := prices[calendar[t]]
		if okPrev && okCur {
			out[t-1] = cur/prev - 1
		} else {
			out[t-1] = math.NaN()
		}
	}
	return out
}

func overlap(a, b []float64) ([]float64, []float64) {
	var x, y []float64
	for t := range a {
		if math.IsNaN(a[t]) || math.IsNaN(b[t]) {
			continue
		}
		x = append(x, a[t])
		y = append(y, b[t])
	}
	return x, y
}
