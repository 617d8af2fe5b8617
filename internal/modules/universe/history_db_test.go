package universe

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/series"
	testingpkg "github.com/aristath/frontier/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistoryDB(t *testing.T) *HistoryDB {
	t.Helper()
	db, cleanup := testingpkg.NewTestDB(t, "history")
	t.Cleanup(cleanup)
	return NewHistoryDB(db.Conn(), zerolog.Nop())
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func TestHistoryDB_AssetCatalog(t *testing.T) {
	h := newTestHistoryDB(t)

	require.NoError(t, h.UpsertAsset(Asset{AssetID: "0042", Symbol: " aapl ", Name: "Apple"}))

	a, err := h.AssetInfo("0042")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "AAPL", a.Symbol)
	assert.Equal(t, "Apple", a.Name)

	missing, err := h.AssetInfo("42")
	require.NoError(t, err)
	assert.Nil(t, missing, "leading zeros are part of the id")

	require.NoError(t, h.UpsertAsset(Asset{AssetID: "0042", Symbol: "AAPL", Name: "Apple Inc."}))
	symbol, name, ok := h.Describe("0042")
	assert.True(t, ok)
	assert.Equal(t, "AAPL", symbol)
	assert.Equal(t, "Apple Inc.", name)

	_, _, ok = h.Describe("nope")
	assert.False(t, ok)

	err = h.UpsertAsset(Asset{AssetID: "  "})
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestHistoryDB_PricesRoundTrip(t *testing.T) {
	h := newTestHistoryDB(t)

	n, err := h.UpsertPrices("A", []domain.PricePoint{
		{Date: day(3), Price: 12},
		{Date: day(1), Price: 10},
		{Date: day(2), Price: 0},
		{Date: day(4), Price: 13},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n, "zero price is skipped")

	// Same date replaces the close
	_, err = h.UpsertPrices("A", []domain.PricePoint{{Date: day(4), Price: 14}})
	require.NoError(t, err)

	all, err := h.DailyPrices("A", 0)
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 12, 14}, all.Closes())
	assert.Equal(t, day(1), all.Points[0].Date)

	recent, err := h.DailyPrices("A", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 14}, recent.Closes())

	none, err := h.DailyPrices("B", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, none.Len())
}

func TestHistoryDB_RawRowsFeedSeriesBuilder(t *testing.T) {
	h := newTestHistoryDB(t)
	_, err := h.UpsertPrices("A", []domain.PricePoint{{Date: day(1), Price: 100}, {Date: day(2), Price: 110}})
	require.NoError(t, err)
	_, err = h.UpsertPrices("B", []domain.PricePoint{{Date: day(1), Price: 50}})
	require.NoError(t, err)

	rows, err := h.RawRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	ds := series.Build(rows)
	assert.Equal(t, []string{"A", "B"}, ds.Assets())
	assert.InDelta(t, 0.10, ds.Returns("A").Values[0], 1e-12)

	last, ok := ds.LastPrice("A")
	require.True(t, ok)
	assert.Equal(t, 110.0, last)
}

func TestHistoryDB_LatestPrice(t *testing.T) {
	h := newTestHistoryDB(t)
	require.NoError(t, h.UpsertAsset(Asset{AssetID: "US0378331005", Symbol: "AAPL"}))
	_, err := h.UpsertPrices("US0378331005", []domain.PricePoint{{Date: day(1), Price: 180}, {Date: day(2), Price: 185}})
	require.NoError(t, err)

	p, ok := h.LatestPrice("US0378331005")
	assert.True(t, ok)
	assert.Equal(t, 185.0, p)

	p, ok = h.LatestPrice("aapl")
	assert.True(t, ok, "symbol lookup is case-insensitive")
	assert.Equal(t, 185.0, p)

	_, ok = h.LatestPrice("MSFT")
	assert.False(t, ok)

	_, ok = h.LatestPrice("")
	assert.False(t, ok)
}

func TestHistoryDB_ListAssets(t *testing.T) {
	h := newTestHistoryDB(t)
	require.NoError(t, h.UpsertAsset(Asset{AssetID: "B", Symbol: "BBB", Name: "Bee"}))
	_, err := h.UpsertPrices("A", []domain.PricePoint{{Date: day(1), Price: 1}, {Date: day(5), Price: 2}})
	require.NoError(t, err)

	assets, err := h.ListAssets()
	require.NoError(t, err)
	require.Len(t, assets, 2)

	assert.Equal(t, "A", assets[0].AssetID)
	assert.Equal(t, 2, assets[0].Observations)
	assert.Equal(t, "2024-01-01", assets[0].FirstDate)
	assert.Equal(t, "2024-01-05", assets[0].LastDate)

	assert.Equal(t, "B", assets[1].AssetID)
	assert.Equal(t, "BBB", assets[1].Symbol)
	assert.Equal(t, 0, assets[1].Observations)
}

func TestHistoryDB_ImportCSV(t *testing.T) {
	table := strings.Join([]string{
		"asset_id,date,close",
		"007,2024-01-01,10",
		"007,2024-01-02,11",
		"007,2024-01-02,12",
		"007,2024-01-03,not-a-number",
		"X,2024-01-01,100",
		"X,2024-01-02,5000",
		"X,2024-01-03,101",
	}, "\n")

	t.Run("report only", func(t *testing.T) {
		h := newTestHistoryDB(t)
		result, err := h.ImportCSV(strings.NewReader(table), ImportOptions{})
		require.NoError(t, err)

		assert.Equal(t, 7, result.Rows)
		assert.Equal(t, []string{"007", "X"}, result.Assets)
		assert.Equal(t, 5, result.Stored)
		assert.Equal(t, 2, result.Skipped)
		require.Len(t, result.Anomalies, 2)
		assert.Equal(t, "spike_detected", result.Anomalies[0].Reason)
		assert.Equal(t, "crash_detected", result.Anomalies[1].Reason)

		prices, err := h.DailyPrices("007", 0)
		require.NoError(t, err)
		assert.Equal(t, []float64{10, 12}, prices.Closes(), "later duplicate wins")
	})

	t.Run("reject anomalies", func(t *testing.T) {
		h := newTestHistoryDB(t)
		result, err := h.ImportCSV(strings.NewReader(table), ImportOptions{RejectAnomalies: true})
		require.NoError(t, err)

		require.Len(t, result.Anomalies, 1, "101 is valid against the context without the spike")
		assert.Equal(t, 4, result.Stored)

		prices, err := h.DailyPrices("X", 0)
		require.NoError(t, err)
		assert.Equal(t, []float64{100, 101}, prices.Closes())
	})

	t.Run("missing columns", func(t *testing.T) {
		h := newTestHistoryDB(t)
		_, err := h.ImportCSV(strings.NewReader("foo,bar\n1,2"), ImportOptions{})
		assert.True(t, errors.Is(err, domain.ErrValidation))
	})
}
