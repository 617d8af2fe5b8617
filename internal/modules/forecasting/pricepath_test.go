package forecasting

import (
	"math"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructPricePath(t *testing.T) {
	forecast := domain.ForecastResult{
		AssetID: "A",
		Mean:    []float64{0.10, 0.0},
		Lower:   []float64{-1.5, 0.5},
		Upper:   []float64{0.20, -0.5},
	}

	path := ReconstructPricePath(100, forecast, nil)

	require.Len(t, path.Mean, 2)
	assert.InDelta(t, 110.0, path.Mean[0], 1e-9)
	assert.InDelta(t, 110.0, path.Mean[1], 1e-9)

	// lower path collapses to 100 * 1e-6, then grows by 50%
	assert.InDelta(t, 100*minStepMultiplier, path.Lower[0], 1e-12)
	assert.InDelta(t, 100*minStepMultiplier*1.5, path.Lower[1], 1e-12)

	// upper path: 120 then 60, so the mean path becomes the upper bound
	assert.InDelta(t, 120.0, path.Upper[0], 1e-9)
	assert.InDelta(t, 110.0, path.Upper[1], 1e-9)

	for i := range path.Mean {
		assert.LessOrEqual(t, path.Lower[i], path.Mean[i])
		assert.LessOrEqual(t, path.Mean[i], path.Upper[i])
		assert.GreaterOrEqual(t, path.Lower[i], 0.0)
	}
}

func TestReconstructPricePath_NonNegative(t *testing.T) {
	forecast := domain.ForecastResult{
		Mean:  []float64{-2, math.NaN()},
		Lower: []float64{-3, -3},
		Upper: []float64{-1, -1},
	}

	path := ReconstructPricePath(50, forecast, nil)
	for i := range path.Mean {
		assert.GreaterOrEqual(t, path.Mean[i], 0.0)
		assert.GreaterOrEqual(t, path.Lower[i], 0.0)
		assert.GreaterOrEqual(t, path.Upper[i], 0.0)
	}
}

func TestNextBusinessDays(t *testing.T) {
	friday := time.Date(2024, time.January, 5, 16, 30, 0, 0, time.UTC)
	dates := NextBusinessDays(friday, 3)

	require.Len(t, dates, 3)
	assert.Equal(t, time.Date(2024, time.January, 8, 0, 0, 0, 0, time.UTC), dates[0])
	assert.Equal(t, time.Date(2024, time.January, 9, 0, 0, 0, 0, time.UTC), dates[1])
	assert.Equal(t, time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC), dates[2])
}
