package artifacts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/domain"
)

var (
	forecastHeader = []string{"asset_id", "date", "mean", "lower_95", "upper_95"}
	priceHeader    = []string{"asset_id", "date", "price"}
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseFloat(s string, line int, column string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid %s %q: %w", line, column, s, err)
	}
	return v, nil
}

func parseDate(s string, line int) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("line %d: invalid date %q: %w", line, s, err)
	}
	return d, nil
}

func checkHeader(got, want []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("header has %d columns, want %v", len(got), want)
	}
	for i := range want {
		if strings.TrimSpace(strings.ToLower(got[i])) != want[i] {
			return fmt.Errorf("header column %d is %q, want %q", i, got[i], want[i])
		}
	}
	return nil
}

// WriteForecastCSV writes asset_id,date,mean,lower_95,upper_95 rows
func WriteForecastCSV(w io.Writer, rows []ForecastRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(forecastHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.AssetID, r.Date.Format(dateLayout), formatFloat(r.Mean), formatFloat(r.Lower), formatFloat(r.Upper)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadForecastCSV parses a forecast table. Asset ids are kept verbatim.
func ReadForecastCSV(r io.Reader) ([]ForecastRow, error) {
	records, err := readAll(r, forecastHeader)
	if err != nil {
		return nil, err
	}

	rows := make([]ForecastRow, 0, len(records))
	for i, rec := range records {
		line := i + 2
		date, err := parseDate(rec[1], line)
		if err != nil {
			return nil, err
		}
		row := ForecastRow{AssetID: rec[0], Date: date}
		if row.Mean, err = parseFloat(rec[2], line, "mean"); err != nil {
			return nil, err
		}
		if row.Lower, err = parseFloat(rec[3], line, "lower_95"); err != nil {
			return nil, err
		}
		if row.Upper, err = parseFloat(rec[4], line, "upper_95"); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WritePriceCSV writes asset_id,date,price rows
func WritePriceCSV(w io.Writer, rows []PriceRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(priceHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.AssetID, r.Date.Format(dateLayout), formatFloat(r.Price)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadPriceCSV parses a price table
func ReadPriceCSV(r io.Reader) ([]PriceRow, error) {
	records, err := readAll(r, priceHeader)
	if err != nil {
		return nil, err
	}

	rows := make([]PriceRow, 0, len(records))
	for i, rec := range records {
		line := i + 2
		date, err := parseDate(rec[1], line)
		if err != nil {
			return nil, err
		}
		price, err := parseFloat(rec[2], line, "price")
		if err != nil {
			return nil, err
		}
		rows = append(rows, PriceRow{AssetID: rec[0], Date: date, Price: price})
	}
	return rows, nil
}

// WriteCovarianceCSV writes a header row of asset ids and one row per asset
func WriteCovarianceCSV(w io.Writer, m domain.CovarianceMatrix) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"asset_id"}, m.Assets...)); err != nil {
		return err
	}
	for i, id := range m.Assets {
		rec := make([]string, 0, len(m.Assets)+1)
		rec = append(rec, id)
		for _, v := range m.Values[i] {
			rec = append(rec, formatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCovarianceCSV parses a square covariance table
func ReadCovarianceCSV(r io.Reader) (domain.CovarianceMatrix, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return domain.CovarianceMatrix{}, fmt.Errorf("failed to read covariance csv: %w", err)
	}
	if len(records) == 0 {
		return domain.CovarianceMatrix{}, fmt.Errorf("covariance csv is empty")
	}

	assets := records[0][1:]
	if len(records)-1 != len(assets) {
		return domain.CovarianceMatrix{}, fmt.Errorf("covariance csv has %d rows for %d assets", len(records)-1, len(assets))
	}

	values := make([][]float64, len(assets))
	for i, rec := range records[1:] {
		line := i + 2
		if len(rec) != len(assets)+1 {
			return domain.CovarianceMatrix{}, fmt.Errorf("line %d: %d cells, want %d", line, len(rec), len(assets)+1)
		}
		if rec[0] != assets[i] {
			return domain.CovarianceMatrix{}, fmt.Errorf("line %d: row asset %q does not match column %q", line, rec[0], assets[i])
		}
		values[i] = make([]float64, len(assets))
		for j, cell := range rec[1:] {
			if values[i][j], err = parseFloat(cell, line, "covariance"); err != nil {
				return domain.CovarianceMatrix{}, err
			}
		}
	}
	return domain.CovarianceMatrix{Assets: assets, Values: values}, nil
}

func readAll(r io.Reader, header []string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv is empty")
	}
	if err := checkHeader(records[0], header); err != nil {
		return nil, err
	}
	return records[1:], nil
}
