package artifacts

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/vmihailenco/msgpack/v5"
)

// ForecastRow is one (asset, future date) row of a forecast table, in prices
type ForecastRow struct {
	AssetID string    `msgpack:"asset_id"`
	Date    time.Time `msgpack:"date"`
	Mean    float64   `msgpack:"mean"`
	Lower   float64   `msgpack:"lower_95"`
	Upper   float64   `msgpack:"upper_95"`
}

// PriceRow is one (asset, date) row of a price table
type PriceRow struct {
	AssetID string    `msgpack:"asset_id"`
	Date    time.Time `msgpack:"date"`
	Price   float64   `msgpack:"price"`
}

type forecastTable struct {
	Rows []ForecastRow `msgpack:"rows"`
}

type covarianceTable struct {
	Assets []string    `msgpack:"assets"`
	Values [][]float64 `msgpack:"values"`
}

type priceTable struct {
	Rows []PriceRow `msgpack:"rows"`
}

// ForecastRows flattens price paths into rows ordered by asset then date
func ForecastRows(paths map[string]domain.PricePathForecast) []ForecastRow {
	ids := make([]string, 0, len(paths))
	for id := range paths {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []ForecastRow
	for _, id := range ids {
		p := paths[id]
		for i := range p.Mean {
			row := ForecastRow{AssetID: id, Mean: p.Mean[i], Lower: p.Lower[i], Upper: p.Upper[i]}
			if i < len(p.Dates) {
				row.Date = p.Dates[i]
			}
			rows = append(rows, row)
		}
	}
	return rows
}

// PricePaths groups forecast rows back into per-asset paths.
// BasePrice is not part of the table and is left zero.
func PricePaths(rows []ForecastRow) map[string]domain.PricePathForecast {
	grouped := make(map[string][]ForecastRow)
	for _, r := range rows {
		grouped[r.AssetID] = append(grouped[r.AssetID], r)
	}

	out := make(map[string]domain.PricePathForecast, len(grouped))
	for id, rs := range grouped {
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Date.Before(rs[j].Date) })
		p := domain.PricePathForecast{AssetID: id}
		for _, r := range rs {
			p.Dates = append(p.Dates, r.Date)
			p.Mean = append(p.Mean, r.Mean)
			p.Lower = append(p.Lower, r.Lower)
			p.Upper = append(p.Upper, r.Upper)
		}
		out[id] = p
	}
	return out
}

// PriceRows flattens histories into rows ordered by asset then date
func PriceRows(histories map[string]domain.PriceSeries) []PriceRow {
	ids := make([]string, 0, len(histories))
	for id := range histories {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var rows []PriceRow
	for _, id := range ids {
		for _, p := range histories[id].Points {
			rows = append(rows, PriceRow{AssetID: id, Date: p.Date, Price: p.Price})
		}
	}
	return rows
}

// PriceHistories groups price rows back into per-asset series
func PriceHistories(rows []PriceRow) map[string]domain.PriceSeries {
	out := make(map[string]domain.PriceSeries)
	for _, r := range rows {
		s := out[r.AssetID]
		s.AssetID = r.AssetID
		s.Points = append(s.Points, domain.PricePoint{Date: r.Date, Price: r.Price})
		out[r.AssetID] = s
	}
	for id, s := range out {
		sort.SliceStable(s.Points, func(i, j int) bool { return s.Points[i].Date.Before(s.Points[j].Date) })
		out[id] = s
	}
	return out
}

// EncodeForecasts serializes a forecast table
func EncodeForecasts(rows []ForecastRow) ([]byte, error) {
	b, err := msgpack.Marshal(forecastTable{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to encode forecast table: %w", err)
	}
	return b, nil
}

// DecodeForecasts parses a forecast table
func DecodeForecasts(b []byte) ([]ForecastRow, error) {
	var t forecastTable
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("failed to decode forecast table: %w", err)
	}
	for i := range t.Rows {
		t.Rows[i].Date = t.Rows[i].Date.UTC()
	}
	return t.Rows, nil
}

// EncodeCovariance serializes a covariance matrix
func EncodeCovariance(m domain.CovarianceMatrix) ([]byte, error) {
	b, err := msgpack.Marshal(covarianceTable{Assets: m.Assets, Values: m.Values})
	if err != nil {
		return nil, fmt.Errorf("failed to encode covariance table: %w", err)
	}
	return b, nil
}

// DecodeCovariance parses a covariance matrix
func DecodeCovariance(b []byte) (domain.CovarianceMatrix, error) {
	var t covarianceTable
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return domain.CovarianceMatrix{}, fmt.Errorf("failed to decode covariance table: %w", err)
	}
	if len(t.Values) != len(t.Assets) {
		return domain.CovarianceMatrix{}, fmt.Errorf("covariance table has %d rows for %d assets", len(t.Values), len(t.Assets))
	}
	return domain.CovarianceMatrix{Assets: t.Assets, Values: t.Values}, nil
}

// EncodePrices serializes a price table
func EncodePrices(rows []PriceRow) ([]byte, error) {
	b, err := msgpack.Marshal(priceTable{Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to encode price table: %w", err)
	}
	return b, nil
}

// DecodePrices parses a price table
func DecodePrices(b []byte) ([]PriceRow, error) {
	var t priceTable
	if err := msgpack.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("failed to decode price table: %w", err)
	}
	for i := range t.Rows {
		t.Rows[i].Date = t.Rows[i].Date.UTC()
	}
	return t.Rows, nil
}
