package testing

import (
	"math"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/series"
)

// FixtureStart is the first date of every generated price fixture
var FixtureStart = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// WavePrice is the close on day i of a slowly trending sine wave around 100.
// Different phases give correlated but distinct assets.
func WavePrice(i int, phase float64) float64 {
	return 100 * (1 + 0.02*math.Sin(float64(i)/3+phase) + 0.001*float64(i))
}

// WavePoints returns n consecutive daily closes starting at FixtureStart
func WavePoints(n int, phase float64) []domain.PricePoint {
	points := make([]domain.PricePoint, n)
	for i := range points {
		points[i] = domain.PricePoint{
			Date:  FixtureStart.AddDate(0, 0, i),
			Price: WavePrice(i, phase),
		}
	}
	return points
}

// WaveRows returns the same closes as WavePoints as raw table rows for id
func WaveRows(id string, n int, phase float64) []series.RawPriceRow {
	rows := make([]series.RawPriceRow, n)
	for i := range rows {
		rows[i] = series.RawPriceRow{
			AssetID:   id,
			Timestamp: FixtureStart.AddDate(0, 0, i),
			Price:     WavePrice(i, phase),
		}
	}
	return rows
}

// FlatPoints returns n daily closes that never move
func FlatPoints(n int, price float64) []domain.PricePoint {
	points := make([]domain.PricePoint, n)
	for i := range points {
		points[i] = domain.PricePoint{Date: FixtureStart.AddDate(0, 0, i), Price: price}
	}
	return points
}
