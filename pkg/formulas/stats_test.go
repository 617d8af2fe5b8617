package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPopStdDev(t *testing.T) {
	assert.Equal(t, 0.0, PopStdDev(nil))
	assert.InDelta(t, 2.0, PopStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
}

func TestCovariance(t *testing.T) {
	assert.Equal(t, 0.0, Covariance([]float64{1}, []float64{2}))
	assert.Equal(t, 0.0, Covariance([]float64{1, 2}, []float64{2}))
	assert.InDelta(t, 1.0, Covariance([]float64{1, 2, 3}, []float64{1, 2, 3}), 1e-12)
}

func TestCalculateReturns(t *testing.T) {
	got := CalculateReturns([]float64{100, 110, 99})
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, got, 1e-12)
	assert.Empty(t, CalculateReturns([]float64{100}))
	assert.Len(t, CalculateReturns([]float64{0, 10, 20}), 1)
}

func TestFinite(t *testing.T) {
	got := Finite([]float64{1, math.NaN(), math.Inf(1), 2})
	assert.Equal(t, []float64{1, 2}, got)
	assert.True(t, IsNearZero(1e-9, 1e-8))
	assert.False(t, IsNearZero(1e-7, 1e-8))
}
