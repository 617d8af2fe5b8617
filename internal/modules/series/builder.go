// Package series turns raw price rows into per-asset price and return series.
package series

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
)

// RawPriceRow is one (asset, timestamp, price) row as read from a table.
// Price may be a number, a numeric string or nil.
type RawPriceRow struct {
	AssetID   string      `json:"asset_id"`
	Timestamp time.Time   `json:"timestamp"`
	Price     interface{} `json:"price"`
}

// Dataset holds cleaned price histories keyed by asset id
type Dataset struct {
	series map[string]domain.PriceSeries
	assets []string
}

// Build groups rows by asset, orders them by date and drops unusable prices.
// Rows for the same asset and calendar date collapse to the later row.
func Build(rows []RawPriceRow) *Dataset {
	type entry struct {
		price float64
		order int
	}

	byAsset := make(map[string]map[time.Time]entry)
	for i, row := range rows {
		id := strings.TrimSpace(row.AssetID)
		if id == "" {
			continue
		}
		price, ok := ParsePrice(row.Price)
		if !ok {
			continue
		}

		day := TruncateToDate(row.Timestamp)
		dates, exists := byAsset[id]
		if !exists {
			dates = make(map[time.Time]entry)
			byAsset[id] = dates
		}
		if prev, seen := dates[day]; !seen || i > prev.order {
			dates[day] = entry{price: price, order: i}
		}
	}

	ds := &Dataset{series: make(map[string]domain.PriceSeries, len(byAsset))}
	for id, dates := range byAsset {
		points := make([]domain.PricePoint, 0, len(dates))
		for day, e := range dates {
			points = append(points, domain.PricePoint{Date: day, Price: e.price})
		}
		sort.Slice(points, func(a, b int) bool { return points[a].Date.Before(points[b].Date) })
		ds.series[id] = domain.PriceSeries{AssetID: id, Points: points}
		ds.assets = append(ds.assets, id)
	}
	sort.Strings(ds.assets)
	return ds
}

// FromSeries wraps already clean series into a Dataset
func FromSeries(series ...domain.PriceSeries) *Dataset {
	var rows []RawPriceRow
	for _, s := range series {
		for _, p := range s.Points {
			rows = append(rows, RawPriceRow{AssetID: s.AssetID, Timestamp: p.Date, Price: p.Price})
		}
	}
	return Build(rows)
}

// Assets returns the asset ids with at least one valid price, sorted
func (d *Dataset) Assets() []string {
	out := make([]string, len(d.assets))
	copy(out, d.assets)
	return out
}

// Prices returns the price series of an asset; empty when unknown
func (d *Dataset) Prices(assetID string) domain.PriceSeries {
	s, ok := d.series[strings.TrimSpace(assetID)]
	if !ok {
		return domain.PriceSeries{AssetID: assetID}
	}
	return s
}

// Returns returns the simple return series of an asset.
// The first price has no predecessor and produces no return.
func (d *Dataset) Returns(assetID string) domain.ReturnSeries {
	prices := d.Prices(assetID)
	out := domain.ReturnSeries{AssetID: prices.AssetID}
	for i := 1; i < len(prices.Points); i++ {
		prev := prices.Points[i-1].Price
		cur := prices.Points[i].Price
		if prev <= 0 || cur <= 0 {
			continue
		}
		out.Dates = append(out.Dates, prices.Points[i].Date)
		out.Values = append(out.Values, cur/prev-1)
	}
	return out
}

// LastPrice returns the most recent price of an asset
func (d *Dataset) LastPrice(assetID string) (float64, bool) {
	last, ok := d.Prices(assetID).Last()
	return last.Price, ok
}

// Histories returns every series keyed by asset id
func (d *Dataset) Histories() map[string]domain.PriceSeries {
	out := make(map[string]domain.PriceSeries, len(d.series))
	for id, s := range d.series {
		out[id] = s
	}
	return out
}

// AsOf returns the latest observation date across all assets
func (d *Dataset) AsOf() time.Time {
	var latest time.Time
	for _, s := range d.series {
		if last, ok := s.Last(); ok && last.Date.After(latest) {
			latest = last.Date
		}
	}
	return latest
}

// TruncateToDate drops the time-of-day part, keeping the calendar date in UTC
func TruncateToDate(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

// ParsePrice coerces a raw price to a finite positive float
func ParsePrice(raw interface{}) (float64, bool) {
	var v float64
	switch p := raw.(type) {
	case float64:
		v = p
	case float32:
		v = float64(p)
	case int:
		v = float64(p)
	case int64:
		v = float64(p)
	case json.Number:
		f, err := p.Float64()
		if err != nil {
			return 0, false
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, false
		}
		v = f
	default:
		return 0, false
	}

	if !formulas.IsFinite(v) || v <= 0 {
		return 0, false
	}
	return v, true
}
