package forecasting

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticReturns(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	prev := 0.0
	for i := range out {
		prev = 0.0005 + 0.4*prev + 0.01*rng.NormFloat64()
		out[i] = prev
	}
	return out
}

func newTestForecaster() *Forecaster {
	return NewForecaster(DefaultConfig(), zerolog.Nop())
}

func TestForecast_BoundsOrdering(t *testing.T) {
	f := newTestForecaster()

	for _, forwardDays := range []int{1, 3, 5, 8} {
		result, err := f.Forecast("A", syntheticReturns(250, 7), forwardDays, 0.95)
		require.NoError(t, err)

		assert.Len(t, result.Mean, forwardDays)
		assert.Len(t, result.Lower, forwardDays)
		assert.Len(t, result.Upper, forwardDays)
		for i := 0; i < forwardDays; i++ {
			assert.LessOrEqual(t, result.Lower[i], result.Mean[i])
			assert.LessOrEqual(t, result.Mean[i], result.Upper[i])
		}
	}
}

func TestForecast_Deterministic(t *testing.T) {
	f := newTestForecaster()
	returns := syntheticReturns(200, 11)

	first, err := f.Forecast("A", returns, 5, 0.95)
	require.NoError(t, err)
	second, err := f.Forecast("A", returns, 5, 0.95)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestForecast_WiderConfidenceWidensBand(t *testing.T) {
	f := newTestForecaster()
	returns := syntheticReturns(200, 3)

	narrow, err := f.Forecast("A", returns, 5, 0.5)
	require.NoError(t, err)
	wide, err := f.Forecast("A", returns, 5, 0.99)
	require.NoError(t, err)

	for i := range narrow.Mean {
		assert.InDelta(t, narrow.Mean[i], wide.Mean[i], 1e-12)
		assert.Greater(t, wide.Upper[i]-wide.Lower[i], narrow.Upper[i]-narrow.Lower[i])
	}
}

func TestForecast_ConstantSeries(t *testing.T) {
	f := newTestForecaster()
	returns := make([]float64, 40)
	for i := range returns {
		returns[i] = 0.01
	}

	result, err := f.Forecast("A", returns, 5, 0.95)
	require.NoError(t, err)
	for i := range result.Mean {
		assert.InDelta(t, 0.01, result.Mean[i], 1e-9)
		assert.InDelta(t, 0.01, result.Lower[i], 1e-9)
		assert.InDelta(t, 0.01, result.Upper[i], 1e-9)
	}
}

func TestForecast_InsufficientData(t *testing.T) {
	f := newTestForecaster()

	tests := []struct {
		name    string
		returns []float64
	}{
		{"empty", nil},
		{"all non-numeric", []float64{math.NaN(), math.Inf(1), math.NaN()}},
		{"three prices worth of returns", []float64{0.01, -0.02}},
		{"below minimum observations", syntheticReturns(9, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Forecast("A", tt.returns, 5, 0.95)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInsufficientData))
		})
	}
}

func TestForecast_HorizonAboveMinimumNeedsMoreHistory(t *testing.T) {
	f := newTestForecaster()
	_, err := f.Forecast("A", syntheticReturns(15, 1), 20, 0.95)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))
}

func TestForecast_Validation(t *testing.T) {
	f := newTestForecaster()
	returns := syntheticReturns(50, 1)

	_, err := f.Forecast("A", returns, 0, 0.95)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.Forecast("A", returns, 5, 1.5)
	assert.True(t, errors.Is(err, domain.ErrValidation))

	_, err = f.Forecast("A", returns, 5, math.NaN())
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestForecastOrZero(t *testing.T) {
	f := newTestForecaster()

	_, err := f.ForecastOrZero("A", []float64{0.01}, 5, 0.95)
	assert.True(t, errors.Is(err, domain.ErrInsufficientData))

	result, err := f.ForecastOrZero("A", syntheticReturns(60, 2), 5, 0.95)
	require.NoError(t, err)
	assert.Len(t, result.Mean, 5)

	zero := ZeroForecast("B", 3, 0.9)
	assert.Equal(t, []float64{0, 0, 0}, zero.Mean)
	assert.Equal(t, []float64{0, 0, 0}, zero.Lower)
	assert.Equal(t, []float64{0, 0, 0}, zero.Upper)
	assert.Equal(t, "B", zero.AssetID)
}

func TestFit_FixedDifferencing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Differencing = 1
	f := NewForecaster(cfg, zerolog.Nop())

	model, err := f.Fit(syntheticReturns(120, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, model.Order().D)
	assert.LessOrEqual(t, model.Order().P+model.Order().Q, cfg.MaxOrder)
	assert.Greater(t, model.Sigma2(), 0.0)
}
