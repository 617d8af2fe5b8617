package series

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var (
	assetColumns = []string{"asset_id", "isin", "symbol"}
	dateColumns  = []string{"timestamp", "date"}
	priceColumns = []string{"closeprice", "close_price", "close", "price"}
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ReadCSV reads price rows from a table with an asset column, a timestamp
// column and a close price column. Asset ids are kept verbatim as strings.
// Rows with an unparseable timestamp are skipped; prices are left raw for Build.
func ReadCSV(r io.Reader) ([]RawPriceRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	assetCol := findColumn(header, assetColumns)
	dateCol := findColumn(header, dateColumns)
	priceCol := findColumn(header, priceColumns)
	if assetCol < 0 || dateCol < 0 || priceCol < 0 {
		return nil, fmt.Errorf("price table needs asset, timestamp and price columns, got %v", header)
	}

	var rows []RawPriceRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read price row: %w", err)
		}
		if len(record) <= assetCol || len(record) <= dateCol || len(record) <= priceCol {
			continue
		}

		ts, ok := ParseTimestamp(record[dateCol])
		if !ok {
			continue
		}
		rows = append(rows, RawPriceRow{
			AssetID:   strings.TrimSpace(record[assetCol]),
			Timestamp: ts,
			Price:     record[priceCol],
		})
	}
	return rows, nil
}

// ParseTimestamp accepts RFC3339, date-time and plain date strings
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func findColumn(header []string, names []string) int {
	for _, name := range names {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
	}
	return -1
}
