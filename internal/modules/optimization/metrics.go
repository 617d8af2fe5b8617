package optimization

import (
	"math"
	"strings"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
)

// Metrics are the expected return and volatility of a weight vector
type Metrics struct {
	ExpectedReturn float64 `json:"expected_return"`
	Risk           float64 `json:"risk"`
}

// EvaluateRequest asks for the metrics of given weights
type EvaluateRequest struct {
	Weights         map[string]float64      `json:"weights"`
	ExpectedReturns map[string]float64      `json:"expected_returns"`
	Covariance      domain.CovarianceMatrix `json:"covariance"`
}

// PortfolioMetrics returns μᵀw and sqrt(max(wᵀΣw, 0))
func PortfolioMetrics(mu []float64, sigma [][]float64, w []float64) (Metrics, error) {
	n := len(w)
	if len(mu) != n || len(sigma) != n {
		return Metrics{}, domain.Validationf("dimension mismatch: %d weights, %d returns, %d covariance rows", n, len(mu), len(sigma))
	}

	ret := 0.0
	v := 0.0
	for i := 0; i < n; i++ {
		if len(sigma[i]) != n {
			return Metrics{}, domain.Validationf("covariance row %d has %d entries, want %d", i, len(sigma[i]), n)
		}
		ret += mu[i] * w[i]
		for j := 0; j < n; j++ {
			v += w[i] * w[j] * (sigma[i][j] + sigma[j][i]) / 2
		}
	}
	if !formulas.IsFinite(ret) || !formulas.IsFinite(v) {
		return Metrics{}, domain.Validationf("inputs produce non-finite metrics")
	}
	return Metrics{ExpectedReturn: ret, Risk: math.Sqrt(math.Max(v, 0))}, nil
}

// Evaluate computes the metrics of keyed weights against keyed market data
func (o *Optimizer) Evaluate(req EvaluateRequest) (Metrics, error) {
	if len(req.Weights) == 0 {
		return Metrics{}, domain.Validationf("weights are empty")
	}
	if err := checkShape(req.Covariance); err != nil {
		return Metrics{}, err
	}

	ids := make([]string, 0, len(req.Weights))
	w := make([]float64, 0, len(req.Weights))
	for id, weight := range req.Weights {
		ids = append(ids, strings.TrimSpace(id))
		w = append(w, weight)
	}

	mu := make([]float64, len(ids))
	for i, id := range ids {
		r, ok := req.ExpectedReturns[id]
		if !ok {
			return Metrics{}, domain.NewMissingMarketDataError(id, "expected return")
		}
		mu[i] = r
	}

	sigma, err := req.Covariance.SubMatrix(ids)
	if err != nil {
		return Metrics{}, err
	}
	return PortfolioMetrics(mu, sigma, w)
}
