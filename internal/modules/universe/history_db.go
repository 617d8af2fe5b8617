// Package universe stores the asset catalog and the daily closing prices the
// pipeline reads.
package universe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aristath/frontier/internal/database"
	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/series"
	"github.com/aristath/frontier/internal/utils"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
)

// dateLayout is the storage format of daily_prices.date
const dateLayout = "2006-01-02"

// HistoryDB provides access to the asset catalog and historical prices
type HistoryDB struct {
	db        *sql.DB
	validator *PriceValidator
	log       zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:        db,
		validator: NewPriceValidator(log),
		log:       log.With().Str("component", "history_db").Logger(),
	}
}

// UpsertAsset creates or updates a catalog entry
func (h *HistoryDB) UpsertAsset(a Asset) error {
	id := strings.TrimSpace(a.AssetID)
	if id == "" {
		return domain.Validationf("asset_id is required")
	}

	_, err := h.db.Exec(`
		INSERT INTO assets (asset_id, symbol, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			symbol = excluded.symbol,
			name = excluded.name,
			updated_at = excluded.updated_at
	`, id, utils.NormalizeSymbol(a.Symbol), strings.TrimSpace(a.Name), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert asset %s: %w", id, err)
	}
	return nil
}

// AssetInfo returns the catalog entry of an asset, nil when absent
func (h *HistoryDB) AssetInfo(assetID string) (*Asset, error) {
	var a Asset
	err := h.db.QueryRow(
		"SELECT asset_id, symbol, name FROM assets WHERE asset_id = ?",
		assetID,
	).Scan(&a.AssetID, &a.Symbol, &a.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query asset %s: %w", assetID, err)
	}
	return &a, nil
}

// Describe implements allocation.AssetDirectory
func (h *HistoryDB) Describe(assetID string) (string, string, bool) {
	a, err := h.AssetInfo(assetID)
	if err != nil {
		h.log.Warn().Err(err).Str("asset_id", assetID).Msg("Asset lookup failed")
		return "", "", false
	}
	if a == nil {
		return "", "", false
	}
	return a.Symbol, a.Name, true
}

// ListAssets returns every asset that has a catalog entry or prices
func (h *HistoryDB) ListAssets() ([]AssetSummary, error) {
	rows, err := h.db.Query(`
		SELECT ids.asset_id,
			COALESCE(a.symbol, ''),
			COALESCE(a.name, ''),
			COUNT(p.date),
			COALESCE(MIN(p.date), ''),
			COALESCE(MAX(p.date), '')
		FROM (SELECT asset_id FROM assets UNION SELECT asset_id FROM daily_prices) ids
		LEFT JOIN assets a ON a.asset_id = ids.asset_id
		LEFT JOIN daily_prices p ON p.asset_id = ids.asset_id
		GROUP BY ids.asset_id
		ORDER BY ids.asset_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	summaries := []AssetSummary{}
	for rows.Next() {
		var s AssetSummary
		if err := rows.Scan(&s.AssetID, &s.Symbol, &s.Name, &s.Observations, &s.FirstDate, &s.LastDate); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating assets: %w", err)
	}
	return summaries, nil
}

// UpsertPrices stores closes for one asset, replacing existing closes on
// the same date. Non-positive and non-finite prices are skipped.
// Returns the number of rows written.
func (h *HistoryDB) UpsertPrices(assetID string, points []domain.PricePoint) (int, error) {
	id := strings.TrimSpace(assetID)
	if id == "" {
		return 0, domain.Validationf("asset_id is required")
	}

	written := 0
	err := database.WithTransaction(h.db, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT INTO daily_prices (asset_id, date, close)
			VALUES (?, ?, ?)
			ON CONFLICT(asset_id, date) DO UPDATE SET close = excluded.close
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare price insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range points {
			if !formulas.IsFinite(p.Price) || p.Price <= 0 {
				continue
			}
			if _, err := stmt.Exec(id, p.Date.UTC().Format(dateLayout), p.Price); err != nil {
				return fmt.Errorf("failed to insert price for %s: %w", id, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	h.log.Debug().Str("asset_id", id).Int("rows", written).Msg("Prices stored")
	return written, nil
}

// DailyPrices returns the most recent limit closes of an asset in date
// order. A limit of zero or less returns the whole history.
func (h *HistoryDB) DailyPrices(assetID string, limit int) (domain.PriceSeries, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := h.db.Query(`
		SELECT date, close
		FROM daily_prices
		WHERE asset_id = ?
		ORDER BY date DESC
		LIMIT ?
	`, assetID, limit)
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	var points []domain.PricePoint
	for rows.Next() {
		var date string
		var p domain.PricePoint
		if err := rows.Scan(&date, &p.Price); err != nil {
			return domain.PriceSeries{}, fmt.Errorf("failed to scan daily price: %w", err)
		}
		if p.Date, err = time.Parse(dateLayout, date); err != nil {
			return domain.PriceSeries{}, fmt.Errorf("bad stored date %q for %s: %w", date, assetID, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return domain.PriceSeries{}, fmt.Errorf("error iterating daily prices: %w", err)
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return domain.PriceSeries{AssetID: assetID, Points: points}, nil
}

// RawRows returns every stored close as raw rows for series.Build
func (h *HistoryDB) RawRows(ctx context.Context) ([]series.RawPriceRow, error) {
	rows, err := h.db.QueryContext(ctx, "SELECT asset_id, date, close FROM daily_prices ORDER BY asset_id, date")
	if err != nil {
		return nil, fmt.Errorf("failed to query price rows: %w", err)
	}
	defer rows.Close()

	var out []series.RawPriceRow
	for rows.Next() {
		var id, date string
		var closePrice float64
		if err := rows.Scan(&id, &date, &closePrice); err != nil {
			return nil, fmt.Errorf("failed to scan price row: %w", err)
		}
		ts, err := time.Parse(dateLayout, date)
		if err != nil {
			h.log.Warn().Str("asset_id", id).Str("date", date).Msg("Skipping row with bad date")
			continue
		}
		out = append(out, series.RawPriceRow{AssetID: id, Timestamp: ts, Price: closePrice})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price rows: %w", err)
	}
	return out, nil
}

// LatestPrice returns the most recent close for an asset id, or for the
// asset whose symbol matches key case-insensitively.
// Implements allocation.PriceLookup.
func (h *HistoryDB) LatestPrice(key string) (float64, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return 0, false
	}

	if price, ok := h.latestClose(key); ok {
		return price, true
	}

	var id string
	err := h.db.QueryRow(
		"SELECT asset_id FROM assets WHERE symbol = ? ORDER BY asset_id LIMIT 1",
		utils.NormalizeSymbol(key),
	).Scan(&id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			h.log.Warn().Err(err).Str("key", key).Msg("Symbol lookup failed")
		}
		return 0, false
	}
	return h.latestClose(id)
}

func (h *HistoryDB) latestClose(assetID string) (float64, bool) {
	var price float64
	err := h.db.QueryRow(
		"SELECT close FROM daily_prices WHERE asset_id = ? ORDER BY date DESC LIMIT 1",
		assetID,
	).Scan(&price)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			h.log.Warn().Err(err).Str("asset_id", assetID).Msg("Latest price lookup failed")
		}
		return 0, false
	}
	return price, true
}

// ImportCSV loads a price table (asset, timestamp, close columns) into the
// store. Rows are cleaned the same way the pipeline cleans them, so a
// repeated date keeps the later row.
func (h *HistoryDB) ImportCSV(r io.Reader, opts ImportOptions) (ImportResult, error) {
	raw, err := series.ReadCSV(r)
	if err != nil {
		return ImportResult{}, domain.Validationf("invalid price table: %v", err)
	}

	ds := series.Build(raw)
	result := ImportResult{Rows: len(raw), Assets: ds.Assets(), Anomalies: []Anomaly{}}

	kept := 0
	for _, id := range ds.Assets() {
		prices := ds.Prices(id)
		kept += prices.Len()

		clean, anomalies := h.validator.CheckSeries(prices, opts.RejectAnomalies)
		result.Anomalies = append(result.Anomalies, anomalies...)

		n, err := h.UpsertPrices(id, clean.Points)
		if err != nil {
			return result, err
		}
		result.Stored += n
	}
	result.Skipped = result.Rows - result.Stored

	h.log.Info().
		Int("rows", result.Rows).
		Int("stored", result.Stored).
		Int("assets", len(result.Assets)).
		Int("anomalies", len(result.Anomalies)).
		Int("duplicates_or_invalid", result.Rows-kept).
		Msg("Price table imported")

	return result, nil
}
