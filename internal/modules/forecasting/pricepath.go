package forecasting

import (
	"math"
	"time"

	"github.com/aristath/frontier/internal/domain"
)

// minStepMultiplier replaces a compounding factor that would be <= 0
const minStepMultiplier = 1e-6

// ReconstructPricePath compounds the mean, lower and upper return
// sequences onto basePrice. Each running price stays >= 0, and the
// reported bounds are the pointwise min and max across the three paths.
func ReconstructPricePath(basePrice float64, forecast domain.ForecastResult, dates []time.Time) domain.PricePathForecast {
	n := forecast.Len()
	out := domain.PricePathForecast{
		AssetID:   forecast.AssetID,
		BasePrice: basePrice,
		Dates:     dates,
		Mean:      make([]float64, n),
		Lower:     make([]float64, n),
		Upper:     make([]float64, n),
	}

	start := math.Max(basePrice, 0)
	meanPrice, lowPrice, highPrice := start, start, start
	for i := 0; i < n; i++ {
		meanPrice = compound(meanPrice, forecast.Mean[i])
		lowPrice = compound(lowPrice, forecast.Lower[i])
		highPrice = compound(highPrice, forecast.Upper[i])

		out.Mean[i] = meanPrice
		out.Lower[i] = math.Min(meanPrice, math.Min(lowPrice, highPrice))
		out.Upper[i] = math.Max(meanPrice, math.Max(lowPrice, highPrice))
	}
	return out
}

func compound(price, r float64) float64 {
	multiplier := 1 + r
	if multiplier <= 0 || math.IsNaN(multiplier) {
		multiplier = minStepMultiplier
	}
	return math.Max(price*multiplier, 0)
}

// NextBusinessDays returns the n weekdays following asOf
func NextBusinessDays(asOf time.Time, n int) []time.Time {
	y, m, d := asOf.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	dates := make([]time.Time, 0, n)
	for len(dates) < n {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		dates = append(dates, day)
	}
	return dates
}
