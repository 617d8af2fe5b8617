package covariance

import (
	"testing"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC)
}

func priceSeries(id string, startDay int, prices ...float64) domain.PriceSeries {
	s := domain.PriceSeries{AssetID: id}
	for i, p := range prices {
		s.Points = append(s.Points, domain.PricePoint{Date: day(startDay + i), Price: p})
	}
	return s
}

func TestEstimate_DisjointAssetGetsZeroOffDiagonal(t *testing.T) {
	histories := map[string]domain.PriceSeries{
		"A": priceSeries("A", 1, 100, 101, 103, 102, 104),
		"B": priceSeries("B", 1, 50, 51, 50, 52, 53),
		"C": priceSeries("C", 10, 10, 11, 10.5, 11.5, 12),
	}

	cov := NewEstimator(zerolog.Nop()).Estimate(histories)

	require.Equal(t, []string{"A", "B", "C"}, cov.Assets)
	require.Len(t, cov.Values, 3)

	assert.Equal(t, 0.0, cov.Values[0][2])
	assert.Equal(t, 0.0, cov.Values[2][0])
	assert.Equal(t, 0.0, cov.Values[1][2])
	assert.Equal(t, 0.0, cov.Values[2][1])

	cReturns := formulas.CalculateReturns([]float64{10, 11, 10.5, 11.5, 12})
	assert.InDelta(t, formulas.Covariance(cReturns, cReturns), cov.Values[2][2], 1e-15)
	assert.Greater(t, cov.Values[2][2], 0.0)

	aReturns := formulas.CalculateReturns([]float64{100, 101, 103, 102, 104})
	bReturns := formulas.CalculateReturns([]float64{50, 51, 50, 52, 53})
	assert.InDelta(t, formulas.Covariance(aReturns, bReturns), cov.Values[0][1], 1e-15)

	assert.True(t, cov.IsSymmetric(0))
	for i := range cov.Values {
		assert.GreaterOrEqual(t, cov.Values[i][i], 0.0)
	}
}

func TestEstimate_SingleOverlapIsZero(t *testing.T) {
	histories := map[string]domain.PriceSeries{
		"A": priceSeries("A", 1, 100, 110, 99),
		"B": priceSeries("B", 2, 20, 22, 21),
	}

	cov := NewEstimator(zerolog.Nop()).Estimate(histories)
	assert.Equal(t, 0.0, cov.Values[0][1])
	assert.Equal(t, 0.0, cov.Values[1][0])
}

func TestEstimate_GapBreaksReturns(t *testing.T) {
	a := priceSeries("A", 1, 100, 110, 121, 133.1)
	// B skips day 3, so its returns into and out of day 3 are undefined
	b := domain.PriceSeries{AssetID: "B", Points: []domain.PricePoint{
		{Date: day(1), Price: 10},
		{Date: day(2), Price: 11},
		{Date: day(4), Price: 20},
	}}

	cov := NewEstimator(zerolog.Nop()).Estimate(map[string]domain.PriceSeries{"A": a, "B": b})
	// B has a single defined return, so its variance is 0
	assert.Equal(t, 0.0, cov.Values[1][1])
}

func TestEstimate_UniverseMembersWithoutData(t *testing.T) {
	histories := map[string]domain.PriceSeries{
		"B": priceSeries("B", 1, 50, 51, 50, 52),
		"A": priceSeries("A", 1, 100, 101, 103, 102),
	}

	cov := NewEstimator(zerolog.Nop()).Estimate(histories, "Z", "0001")

	require.Equal(t, []string{"0001", "A", "B", "Z"}, cov.Assets)
	for _, id := range []string{"0001", "Z"} {
		i, ok := cov.Index(id)
		require.True(t, ok)
		for j := range cov.Assets {
			assert.Equal(t, 0.0, cov.Values[i][j])
			assert.Equal(t, 0.0, cov.Values[j][i])
		}
	}
}

func TestEstimate_Empty(t *testing.T) {
	cov := NewEstimator(zerolog.Nop()).Estimate(nil)
	assert.Empty(t, cov.Assets)
	assert.Empty(t, cov.Values)
}

func TestHighCorrelations(t *testing.T) {
	histories := map[string]domain.PriceSeries{
		"A": priceSeries("A", 1, 100, 101, 103, 102, 104),
		"B": priceSeries("B", 1, 200, 202, 206, 204, 208),
		"C": priceSeries("C", 1, 10, 10, 10, 10, 10),
	}

	e := NewEstimator(zerolog.Nop())
	pairs := e.HighCorrelations(e.Estimate(histories), HighCorrelationThreshold)

	require.Len(t, pairs, 1)
	assert.Equal(t, "A", pairs[0].AssetA)
	assert.Equal(t, "B", pairs[0].AssetB)
	assert.InDelta(t, 1.0, pairs[0].Correlation, 1e-9)
}
