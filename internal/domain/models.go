// Package domain provides core domain models and types shared by the pipeline stages.
package domain

import (
	"math"
	"sort"
	"time"
)

// PricePoint is a single observed closing price
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// PriceSeries is the price history of one asset.
// Dates are strictly increasing and unique.
type PriceSeries struct {
	AssetID string       `json:"asset_id"`
	Points  []PricePoint `json:"points"`
}

// Len returns the number of observations
func (s PriceSeries) Len() int {
	return len(s.Points)
}

// Last returns the most recent observation
func (s PriceSeries) Last() (PricePoint, bool) {
	if len(s.Points) == 0 {
		return PricePoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Closes returns the prices in date order
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Price
	}
	return out
}

// ReturnSeries holds simple period returns of one asset.
// Dates[i] is the date of the later observation of the pair that produced Values[i].
type ReturnSeries struct {
	AssetID string      `json:"asset_id"`
	Dates   []time.Time `json:"dates"`
	Values  []float64   `json:"values"`
}

// Len returns the number of returns
func (r ReturnSeries) Len() int {
	return len(r.Values)
}

// ForecastResult holds a return forecast over forward_days steps.
// Lower[i] <= Mean[i] <= Upper[i] holds at every index.
type ForecastResult struct {
	AssetID    string    `json:"asset_id"`
	Confidence float64   `json:"confidence"`
	Mean       []float64 `json:"mean"`
	Lower      []float64 `json:"lower"`
	Upper      []float64 `json:"upper"`
}

// Len returns the forecast horizon
func (f ForecastResult) Len() int {
	return len(f.Mean)
}

// PricePathForecast is a return forecast compounded onto a base price
type PricePathForecast struct {
	AssetID   string      `json:"asset_id"`
	BasePrice float64     `json:"base_price"`
	Dates     []time.Time `json:"dates"`
	Mean      []float64   `json:"mean"`
	Lower     []float64   `json:"lower"`
	Upper     []float64   `json:"upper"`
}

// ExpectedReturn is the mean simple return of the predicted mean path,
// with the base price prepended as the starting observation.
func (p PricePathForecast) ExpectedReturn() (float64, bool) {
	if len(p.Mean) == 0 || p.BasePrice <= 0 {
		return 0, false
	}

	prev := p.BasePrice
	sum := 0.0
	n := 0
	for _, price := range p.Mean {
		if prev > 0 {
			sum += price/prev - 1
			n++
		}
		prev = price
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// CovarianceMatrix is a symmetric matrix indexed by asset id.
// Estimated matrices have Assets sorted lexicographically; matrices decoded
// from requests may not.
type CovarianceMatrix struct {
	Assets []string    `json:"assets"`
	Values [][]float64 `json:"values"`
}

// Index returns the row of an asset
func (c CovarianceMatrix) Index(assetID string) (int, bool) {
	i := sort.SearchStrings(c.Assets, assetID)
	if i < len(c.Assets) && c.Assets[i] == assetID {
		return i, true
	}
	for i, id := range c.Assets {
		if id == assetID {
			return i, true
		}
	}
	return -1, false
}

// Variance returns the diagonal entry of an asset
func (c CovarianceMatrix) Variance(assetID string) (float64, error) {
	i, ok := c.Index(assetID)
	if !ok {
		return 0, NewMissingMarketDataError(assetID, "covariance")
	}
	return c.Values[i][i], nil
}

// SubMatrix extracts the covariance block for ids in the given order.
// An id without a row is reported as missing market data, never zero-filled.
func (c CovarianceMatrix) SubMatrix(ids []string) ([][]float64, error) {
	idx := make([]int, len(ids))
	for k, id := range ids {
		i, ok := c.Index(id)
		if !ok {
			return nil, NewMissingMarketDataError(id, "covariance")
		}
		idx[k] = i
	}

	out := make([][]float64, len(ids))
	for a := range ids {
		out[a] = make([]float64, len(ids))
		for b := range ids {
			out[a][b] = c.Values[idx[a]][idx[b]]
		}
	}
	return out, nil
}

// IsSymmetric reports whether the matrix is symmetric within tol
func (c CovarianceMatrix) IsSymmetric(tol float64) bool {
	for i := range c.Values {
		for j := i + 1; j < len(c.Values); j++ {
			if math.Abs(c.Values[i][j]-c.Values[j][i]) > tol {
				return false
			}
		}
	}
	return true
}

// WeightVector maps assets to portfolio weights
type WeightVector struct {
	Assets  []string  `json:"assets"`
	Weights []float64 `json:"weights"`
}

// Weight returns the weight of an asset, zero when absent
func (w WeightVector) Weight(assetID string) float64 {
	for i, id := range w.Assets {
		if id == assetID {
			return w.Weights[i]
		}
	}
	return 0
}

// Map returns the weights keyed by asset id
func (w WeightVector) Map() map[string]float64 {
	out := make(map[string]float64, len(w.Assets))
	for i, id := range w.Assets {
		out[id] = w.Weights[i]
	}
	return out
}

// Sum returns the total weight
func (w WeightVector) Sum() float64 {
	total := 0.0
	for _, v := range w.Weights {
		total += v
	}
	return total
}
