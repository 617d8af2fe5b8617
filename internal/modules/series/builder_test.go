package series

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2024, time.January, d, 0, 0, 0, 0, time.UTC)
}

func TestBuild_OrdersAndCleans(t *testing.T) {
	rows := []RawPriceRow{
		{AssetID: "B", Timestamp: day(3), Price: 12.0},
		{AssetID: "B", Timestamp: day(1), Price: "10"},
		{AssetID: "B", Timestamp: day(2), Price: "n/a"},
		{AssetID: "B", Timestamp: day(4), Price: -1.0},
		{AssetID: "B", Timestamp: day(5), Price: math.NaN()},
		{AssetID: " A ", Timestamp: day(1), Price: json.Number("5.5")},
		{AssetID: "C", Timestamp: day(1), Price: nil},
	}

	ds := Build(rows)

	assert.Equal(t, []string{"A", "B"}, ds.Assets())

	b := ds.Prices("B")
	require.Len(t, b.Points, 2)
	assert.Equal(t, day(1), b.Points[0].Date)
	assert.Equal(t, 10.0, b.Points[0].Price)
	assert.Equal(t, day(3), b.Points[1].Date)
	assert.Equal(t, 12.0, b.Points[1].Price)

	assert.Equal(t, 0, ds.Prices("C").Len())
	assert.Equal(t, 0, ds.Returns("C").Len())
	assert.Equal(t, 0, ds.Prices("missing").Len())
}

func TestBuild_DuplicateDateLaterRowWins(t *testing.T) {
	rows := []RawPriceRow{
		{AssetID: "A", Timestamp: day(1).Add(9 * time.Hour), Price: 10.0},
		{AssetID: "A", Timestamp: day(1).Add(17 * time.Hour), Price: 11.0},
	}

	ds := Build(rows)
	prices := ds.Prices("A")
	require.Len(t, prices.Points, 1)
	assert.Equal(t, 11.0, prices.Points[0].Price)
	assert.Equal(t, day(1), prices.Points[0].Date)
}

func TestDataset_Returns(t *testing.T) {
	rows := []RawPriceRow{
		{AssetID: "A", Timestamp: day(1), Price: 100.0},
		{AssetID: "A", Timestamp: day(2), Price: 110.0},
		{AssetID: "A", Timestamp: day(3), Price: 99.0},
	}

	ds := Build(rows)
	r := ds.Returns("A")

	require.Equal(t, ds.Prices("A").Len()-1, r.Len())
	assert.InDeltaSlice(t, []float64{0.1, -0.1}, r.Values, 1e-12)
	assert.Equal(t, []time.Time{day(2), day(3)}, r.Dates)

	last, ok := ds.LastPrice("A")
	require.True(t, ok)
	assert.Equal(t, 99.0, last)
	assert.Equal(t, day(3), ds.AsOf())
}

func TestReadCSV_KeepsLeadingZeros(t *testing.T) {
	input := strings.Join([]string{
		"ISIN,timestamp,closePrice",
		"000123,2024-01-01,10.5",
		"000123,2024-01-02T00:00:00Z,11",
		"US0378331005,2024-01-02,abc",
		"US0378331005,not-a-date,12",
	}, "\n")

	rows, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "000123", rows[0].AssetID)

	ds := Build(rows)
	assert.Equal(t, []string{"000123"}, ds.Assets())
	assert.Equal(t, 2, ds.Prices("000123").Len())
}

func TestReadCSV_MissingColumns(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("foo,bar\n1,2"))
	assert.Error(t, err)

	rows, err := ReadCSV(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, rows)
}
