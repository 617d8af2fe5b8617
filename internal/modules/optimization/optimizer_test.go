package optimization

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func twoAssetRequest() Request {
	return Request{
		Assets:          []string{"A", "B"},
		ExpectedReturns: map[string]float64{"A": 0.01, "B": 0.02},
		Covariance: domain.CovarianceMatrix{
			Assets: []string{"A", "B"},
			Values: [][]float64{{0.04, 0}, {0, 0.09}},
		},
	}
}

func newTestOptimizer() *Optimizer {
	return NewOptimizer(nil, zerolog.Nop())
}

func TestOptimize_TargetReturnActive(t *testing.T) {
	req := twoAssetRequest()
	req.TargetReturn = ptr(0.015)

	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, w.Assets)
	assert.InDeltaSlice(t, []float64{0.5, 0.5}, w.Weights, 1e-6)
}

func TestOptimize_TargetReturnSlackGivesMinimumVariance(t *testing.T) {
	req := twoAssetRequest()
	req.TargetReturn = ptr(0.01)

	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{9.0 / 13, 4.0 / 13}, w.Weights, 1e-6)
}

func TestOptimize_UnreachableReturnIsInfeasible(t *testing.T) {
	req := twoAssetRequest()
	req.TargetReturn = ptr(0.03)

	_, err := newTestOptimizer().Optimize(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInfeasible))
	assert.False(t, errors.Is(err, domain.ErrSolverFailure))
}

func TestOptimize_ShortingReachesHigherReturn(t *testing.T) {
	req := twoAssetRequest()
	req.TargetReturn = ptr(0.03)
	req.AllowShort = true

	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{-1, 2}, w.Weights, 1e-6)
}

func TestOptimize_ShortingWithEqualReturnsIsInfeasible(t *testing.T) {
	req := twoAssetRequest()
	req.ExpectedReturns = map[string]float64{"A": 0.01, "B": 0.01}
	req.TargetReturn = ptr(0.02)
	req.AllowShort = true

	_, err := newTestOptimizer().Optimize(req)
	assert.True(t, errors.Is(err, domain.ErrInfeasible))
}

func TestOptimize_TargetRisk(t *testing.T) {
	req := twoAssetRequest()
	req.TargetRisk = ptr(0.25)

	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)

	// 0.13 w² - 0.08 w - 0.0225 = 0 for the weight of B on the risk ceiling
	wb := (0.08 + math.Sqrt(0.08*0.08+4*0.13*0.0225)) / (2 * 0.13)
	assert.InDeltaSlice(t, []float64{1 - wb, wb}, w.Weights, 1e-6)

	m, err := PortfolioMetrics([]float64{0.01, 0.02}, req.Covariance.Values, w.Weights)
	require.NoError(t, err)
	assert.LessOrEqual(t, m.Risk, 0.25+1e-6)
}

func TestOptimize_LooseRiskTakesBestAsset(t *testing.T) {
	req := twoAssetRequest()
	req.TargetRisk = ptr(1.0)

	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1}, w.Weights, 1e-6)
}

func TestOptimize_RiskCeilingBelowMinimumVariance(t *testing.T) {
	req := twoAssetRequest()
	req.TargetRisk = ptr(0.1)

	_, err := newTestOptimizer().Optimize(req)
	assert.True(t, errors.Is(err, domain.ErrInfeasible))
}

func TestOptimize_ShortTargetRisk(t *testing.T) {
	req := twoAssetRequest()
	req.TargetRisk = ptr(0.5)
	req.AllowShort = true

	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)

	m, err := PortfolioMetrics([]float64{0.01, 0.02}, req.Covariance.Values, w.Weights)
	require.NoError(t, err)
	assert.LessOrEqual(t, m.Risk, 0.5+1e-6)
	assert.InDelta(t, 0.5, m.Risk, 1e-4)
	assert.Greater(t, w.Weights[1], 1.0)
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
}

func TestOptimize_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
		kind   error
	}{
		{"empty assets", func(r *Request) { r.Assets = nil; r.TargetReturn = ptr(0.01) }, domain.ErrValidation},
		{"duplicate assets", func(r *Request) { r.Assets = []string{"A", " A"}; r.TargetReturn = ptr(0.01) }, domain.ErrValidation},
		{"blank asset", func(r *Request) { r.Assets = []string{"A", " "}; r.TargetReturn = ptr(0.01) }, domain.ErrValidation},
		{"no target", func(r *Request) {}, domain.ErrValidation},
		{"both targets", func(r *Request) { r.TargetReturn = ptr(0.01); r.TargetRisk = ptr(0.2) }, domain.ErrValidation},
		{"negative risk", func(r *Request) { r.TargetRisk = ptr(-0.1) }, domain.ErrValidation},
		{"nan target", func(r *Request) { r.TargetReturn = ptr(math.NaN()) }, domain.ErrValidation},
		{"missing expected return", func(r *Request) {
			r.ExpectedReturns = map[string]float64{"A": 0.01}
			r.TargetReturn = ptr(0.01)
		}, domain.ErrMissingMarketData},
		{"missing covariance", func(r *Request) {
			r.Assets = []string{"A", "C"}
			r.ExpectedReturns["C"] = 0.03
			r.TargetReturn = ptr(0.01)
		}, domain.ErrMissingMarketData},
		{"ragged covariance", func(r *Request) {
			r.Covariance.Values = [][]float64{{0.04}, {0, 0.09}}
			r.TargetReturn = ptr(0.01)
		}, domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := twoAssetRequest()
			tt.mutate(&req)
			_, err := newTestOptimizer().Optimize(req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestOptimize_SymmetrizesCovariance(t *testing.T) {
	req := twoAssetRequest()
	req.Covariance.Values = [][]float64{{0.04, 0.01}, {0.03, 0.09}}
	req.TargetReturn = ptr(0.012)

	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
}

func TestOptimize_LongOnlyProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	ids := []string{"A", "B", "C", "D", "E"}
	n := len(ids)

	// Σ = LLᵀ is positive semi-definite
	l := make([][]float64, n)
	for i := range l {
		l[i] = make([]float64, n)
		for j := range l[i] {
			l[i][j] = 0.1 * rng.NormFloat64()
		}
	}
	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		for j := range values[i] {
			for k := 0; k < n; k++ {
				values[i][j] += l[i][k] * l[j][k]
			}
		}
	}

	mu := map[string]float64{}
	for _, id := range ids {
		mu[id] = 0.001 + 0.01*rng.Float64()
	}

	maxMu := 0.0
	for _, v := range mu {
		maxMu = math.Max(maxMu, v)
	}

	for _, frac := range []float64{0.1, 0.5, 0.9} {
		target := frac * maxMu
		req := Request{
			Assets:          ids,
			ExpectedReturns: mu,
			Covariance:      domain.CovarianceMatrix{Assets: ids, Values: values},
			TargetReturn:    &target,
		}

		w, err := newTestOptimizer().Optimize(req)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, w.Sum(), 1e-6)

		ret := 0.0
		for i, id := range ids {
			assert.GreaterOrEqual(t, w.Weights[i], -1e-9)
			ret += mu[id] * w.Weights[i]
		}
		assert.GreaterOrEqual(t, ret, target-1e-6)
	}
}

// A and B move together, so the covariance is singular
func collinearRequest() Request {
	ids := []string{"A", "B", "C"}
	return Request{
		Assets:          ids,
		ExpectedReturns: map[string]float64{"A": 0.001, "B": 0.002, "C": 0.0005},
		Covariance: domain.CovarianceMatrix{
			Assets: ids,
			Values: [][]float64{
				{4e-4, 4e-4, 0},
				{4e-4, 4e-4, 0},
				{0, 0, 9e-4},
			},
		},
	}
}

func TestOptimize_SingularCovariance(t *testing.T) {
	mu := []float64{0.001, 0.002, 0.0005}
	cov := collinearRequest().Covariance.Values
	minRisk := math.Sqrt(468e-4 / 169)

	t.Run("target return", func(t *testing.T) {
		req := collinearRequest()
		req.TargetReturn = ptr(0.0008)

		w, err := newTestOptimizer().Optimize(req)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, w.Sum(), 1e-9)
		assert.InDelta(t, 4.0/13, w.Weights[2], 1e-6)

		m, err := PortfolioMetrics(mu, cov, w.Weights)
		require.NoError(t, err)
		assert.InDelta(t, minRisk, m.Risk, 1e-6)
		assert.GreaterOrEqual(t, m.ExpectedReturn, 0.0008)
	})

	t.Run("risk ceiling below minimum", func(t *testing.T) {
		req := collinearRequest()
		req.TargetRisk = ptr(0.015)

		_, err := newTestOptimizer().Optimize(req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrInfeasible), "got %v", err)
		assert.False(t, errors.Is(err, domain.ErrSolverFailure))
	})

	t.Run("target risk", func(t *testing.T) {
		req := collinearRequest()
		req.TargetRisk = ptr(0.018)

		w, err := newTestOptimizer().Optimize(req)
		require.NoError(t, err)

		// 13 s² - 18 s + 5.76 = 0 for the weight of B on the risk ceiling
		wb := (18 + math.Sqrt(18*18-4*13*5.76)) / 26
		assert.InDeltaSlice(t, []float64{0, wb, 1 - wb}, w.Weights, 1e-6)

		m, err := PortfolioMetrics(mu, cov, w.Weights)
		require.NoError(t, err)
		assert.LessOrEqual(t, m.Risk, 0.018+1e-9)
		assert.InDelta(t, 0.0018239, m.ExpectedReturn, 1e-6)
	})
}

func TestOptimize_RisklessSpreadWithShorting(t *testing.T) {
	req := twoAssetRequest()
	req.Covariance.Values = [][]float64{{0.04, 0.04}, {0.04, 0.04}}
	req.TargetRisk = ptr(0.3)
	req.AllowShort = true

	_, err := newTestOptimizer().Optimize(req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInfeasible), "got %v", err)

	// the same spread is harmless when short sales are off
	req.AllowShort = false
	w, err := newTestOptimizer().Optimize(req)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 1}, w.Weights, 1e-9)
}

// rankDeficientRequest draws a factor-model covariance with fewer factors
// than assets. With shorting the returns are μ = Σy + c, so every
// zero-risk spread earns nothing and the risk-ceiling problem is bounded.
func rankDeficientRequest(rng *rand.Rand, allowShort bool) (Request, []float64) {
	n := 3 + rng.Intn(5)
	k := 1 + rng.Intn(n-1)

	ids := make([]string, n)
	loadings := make([][]float64, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("S%d", i)
		loadings[i] = make([]float64, k)
		for j := range loadings[i] {
			loadings[i][j] = 0.02 * rng.NormFloat64()
		}
	}
	// an exact duplicate keeps two columns identical
	if n > 3 && rng.Intn(2) == 0 {
		copy(loadings[n-1], loadings[0])
	}

	values := make([][]float64, n)
	for i := range values {
		values[i] = make([]float64, n)
		for j := range values[i] {
			for f := 0; f < k; f++ {
				values[i][j] += loadings[i][f] * loadings[j][f]
			}
		}
	}

	mu := make([]float64, n)
	if allowShort {
		y := make([]float64, n)
		for i := range y {
			y[i] = 5 * rng.NormFloat64()
		}
		for i := range mu {
			mu[i] = 0.001
			for j := range y {
				mu[i] += values[i][j] * y[j]
			}
		}
	} else {
		for i := range mu {
			mu[i] = 0.0005 + 0.003*rng.Float64()
		}
	}

	expected := make(map[string]float64, n)
	for i, id := range ids {
		expected[id] = mu[i]
	}
	return Request{
		Assets:          ids,
		ExpectedReturns: expected,
		Covariance:      domain.CovarianceMatrix{Assets: ids, Values: values},
		AllowShort:      allowShort,
	}, mu
}

func TestOptimize_RankDeficientProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(29))
	opt := newTestOptimizer()

	checkWeights := func(t *testing.T, w domain.WeightVector, allowShort bool) {
		assert.InDelta(t, 1.0, w.Sum(), 1e-9)
		if !allowShort {
			for _, v := range w.Weights {
				assert.GreaterOrEqual(t, v, -1e-9)
			}
		}
	}

	for trial := 0; trial < 25; trial++ {
		for _, allowShort := range []bool{false, true} {
			req, mu := rankDeficientRequest(rng, allowShort)
			cov := req.Covariance.Values
			lo, hi := mu[argMin(mu)], mu[argMax(mu)]
			u := rng.Float64()

			t.Run(fmt.Sprintf("trial %d short %v", trial, allowShort), func(t *testing.T) {
				gmvReq := req
				gmvReq.TargetReturn = ptr(lo - 1)
				gmv, err := opt.Optimize(gmvReq)
				require.NoError(t, err)
				checkWeights(t, gmv, allowShort)
				base, err := PortfolioMetrics(mu, cov, gmv.Weights)
				require.NoError(t, err)

				target := lo + u*(hi-lo)
				if allowShort {
					target = lo + 1.5*u*(hi-lo)
				}
				retReq := req
				retReq.TargetReturn = ptr(target)
				w, err := opt.Optimize(retReq)
				require.NoError(t, err, "target return %g", target)
				assert.False(t, errors.Is(err, domain.ErrSolverFailure))
				checkWeights(t, w, allowShort)
				m, err := PortfolioMetrics(mu, cov, w.Weights)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, m.ExpectedReturn, target-1e-8)

				ceiling := base.Risk*(1.05+0.5*u) + 1e-6
				riskReq := req
				riskReq.TargetRisk = ptr(ceiling)
				w, err = opt.Optimize(riskReq)
				require.NoError(t, err, "target risk %g", ceiling)
				checkWeights(t, w, allowShort)
				m, err = PortfolioMetrics(mu, cov, w.Weights)
				require.NoError(t, err)
				assert.LessOrEqual(t, m.Risk, ceiling*(1+1e-6))
				assert.GreaterOrEqual(t, m.ExpectedReturn, base.ExpectedReturn-1e-9)

				if base.Risk > 1e-6 {
					tightReq := req
					tightReq.TargetRisk = ptr(0.9 * base.Risk)
					_, err = opt.Optimize(tightReq)
					assert.True(t, errors.Is(err, domain.ErrInfeasible), "got %v", err)
				}
			})
		}
	}
}

type stubSolver struct {
	err error
}

func (s stubSolver) Solve(QuadraticProgram) (Solution, error) {
	return Solution{}, s.err
}

func TestOptimize_SolverErrorsAreClassified(t *testing.T) {
	req := twoAssetRequest()
	req.TargetReturn = ptr(0.015)

	_, err := NewOptimizer(stubSolver{err: errors.New("boom")}, zerolog.Nop()).Optimize(req)
	assert.True(t, errors.Is(err, domain.ErrSolverFailure))
	assert.False(t, errors.Is(err, domain.ErrInfeasible))

	_, err = NewOptimizer(stubSolver{err: domain.Infeasiblef("empty region")}, zerolog.Nop()).Optimize(req)
	assert.True(t, errors.Is(err, domain.ErrInfeasible))
}

func TestNormalizeWeights(t *testing.T) {
	w, err := normalizeWeights([]float64{-1e-12, 0.5, 0.5}, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 0.5}, w)

	_, err = normalizeWeights([]float64{-0.5, 0}, true)
	assert.True(t, errors.Is(err, domain.ErrSolverFailure))

	w, err = normalizeWeights([]float64{-1, 3}, false)
	require.NoError(t, err)
	assert.Equal(t, []float64{-0.5, 1.5}, w)
}

func TestPortfolioMetrics(t *testing.T) {
	m, err := PortfolioMetrics([]float64{0.01, 0.02}, [][]float64{{0.04, 0}, {0, 0.09}}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.015, m.ExpectedReturn, 1e-12)
	assert.InDelta(t, math.Sqrt(0.0325), m.Risk, 1e-12)

	_, err = PortfolioMetrics([]float64{0.01}, [][]float64{{0.04}}, []float64{0.5, 0.5})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestOptimizer_Evaluate(t *testing.T) {
	req := twoAssetRequest()
	m, err := newTestOptimizer().Evaluate(EvaluateRequest{
		Weights:         map[string]float64{"A": 0.5, "B": 0.5},
		ExpectedReturns: req.ExpectedReturns,
		Covariance:      req.Covariance,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.015, m.ExpectedReturn, 1e-12)

	_, err = newTestOptimizer().Evaluate(EvaluateRequest{
		Weights:         map[string]float64{"Z": 1},
		ExpectedReturns: req.ExpectedReturns,
		Covariance:      req.Covariance,
	})
	assert.True(t, errors.Is(err, domain.ErrMissingMarketData))
}
