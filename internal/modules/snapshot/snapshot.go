// Package snapshot holds the market data the optimizer reads: a covariance
// matrix, per-asset price-path forecasts and last prices, rebuilt as a
// whole by a single refresher and swapped in atomically.
package snapshot

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/utils"
)

// Snapshot is an immutable view of the market at AsOf. Readers must not
// mutate it.
type Snapshot struct {
	Version         string
	AsOf            time.Time
	BuiltAt         time.Time
	ForwardDays     int
	Confidence      float64
	Assets          []string
	Covariance      domain.CovarianceMatrix
	Forecasts       map[string]domain.PricePathForecast
	ExpectedReturns map[string]float64
	LastPrices      map[string]float64
}

// Summary is the JSON view of a snapshot
type Summary struct {
	Version     string    `json:"version"`
	AsOf        string    `json:"as_of"`
	BuiltAt     time.Time `json:"built_at"`
	ForwardDays int       `json:"forward_days"`
	Confidence  float64   `json:"confidence"`
	Assets      int       `json:"assets"`
	Forecasts   int       `json:"forecasts"`
	Stale       bool      `json:"stale"`
	Unforecast  []string  `json:"unforecast,omitempty"`
}

// Summary describes the snapshot; maxAge of zero never reports stale
func (s *Snapshot) Summary(now time.Time, maxAge time.Duration) Summary {
	var missing []string
	for _, id := range s.Assets {
		if _, ok := s.ExpectedReturns[id]; !ok {
			missing = append(missing, id)
		}
	}
	return Summary{
		Version:     s.Version,
		AsOf:        s.AsOf.Format("2006-01-02"),
		BuiltAt:     s.BuiltAt,
		ForwardDays: s.ForwardDays,
		Confidence:  s.Confidence,
		Assets:      len(s.Assets),
		Forecasts:   len(s.Forecasts),
		Stale:       s.IsStale(now, maxAge),
		Unforecast:  missing,
	}
}

// IsStale reports whether the snapshot was built more than maxAge before now
func (s *Snapshot) IsStale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(s.BuiltAt) > maxAge
}

// MarketData returns the expected returns of ids and the covariance
// matrix. Every id must have an expected return and a covariance row.
func (s *Snapshot) MarketData(ids []string) (map[string]float64, domain.CovarianceMatrix, error) {
	mu := make(map[string]float64, len(ids))
	for _, id := range ids {
		r, ok := s.ExpectedReturns[id]
		if !ok {
			return nil, domain.CovarianceMatrix{}, domain.NewMissingMarketDataError(id, "expected return")
		}
		if _, ok := s.Covariance.Index(id); !ok {
			return nil, domain.CovarianceMatrix{}, domain.NewMissingMarketDataError(id, "covariance")
		}
		mu[id] = r
	}
	return mu, s.Covariance, nil
}

// ResolveAsset returns the stored spelling of id. An exact match wins;
// otherwise ids are compared trimmed and upper-cased.
func (s *Snapshot) ResolveAsset(id string) (string, bool) {
	if _, ok := s.Covariance.Index(id); ok {
		return id, true
	}
	key := utils.NormalizeSymbol(id)
	for _, known := range s.Assets {
		if utils.NormalizeSymbol(known) == key {
			return known, true
		}
	}
	return "", false
}

// CovarianceFor returns the covariance block of ids in sorted order, or
// the whole matrix when ids is empty
func (s *Snapshot) CovarianceFor(ids []string) (domain.CovarianceMatrix, error) {
	if len(ids) == 0 {
		return s.Covariance, nil
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	values, err := s.Covariance.SubMatrix(sorted)
	if err != nil {
		return domain.CovarianceMatrix{}, err
	}
	return domain.CovarianceMatrix{Assets: sorted, Values: values}, nil
}

// Forecast returns the price-path forecast of one asset
func (s *Snapshot) Forecast(assetID string) (domain.PricePathForecast, error) {
	f, ok := s.Forecasts[assetID]
	if !ok {
		return domain.PricePathForecast{}, domain.NewMissingMarketDataError(assetID, "forecast")
	}
	return f, nil
}

// expectedReturns derives each asset's expected return from its forecast path
func expectedReturns(paths map[string]domain.PricePathForecast) map[string]float64 {
	out := make(map[string]float64, len(paths))
	for id, p := range paths {
		if r, ok := p.ExpectedReturn(); ok {
			out[id] = r
		}
	}
	return out
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot %s as of %s (%d assets)", s.Version, s.AsOf.Format("2006-01-02"), len(s.Assets))
}
