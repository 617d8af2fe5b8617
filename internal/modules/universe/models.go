package universe

import "time"

// Asset is a catalog entry. Prices are keyed by AssetID; Symbol is an
// optional ticker that price lookups also accept.
type Asset struct {
	AssetID string `json:"asset_id"`
	Symbol  string `json:"symbol"`
	Name    string `json:"name"`
}

// AssetSummary describes an asset together with the extent of its price history
type AssetSummary struct {
	Asset
	Observations int    `json:"observations"`
	FirstDate    string `json:"first_date,omitempty"`
	LastDate     string `json:"last_date,omitempty"`
}

// ImportOptions controls CSV imports
type ImportOptions struct {
	// RejectAnomalies keeps flagged prices out of the store instead of only reporting them
	RejectAnomalies bool
}

// ImportResult reports what an import wrote
type ImportResult struct {
	Rows      int       `json:"rows"`
	Stored    int       `json:"stored"`
	Skipped   int       `json:"skipped"`
	Assets    []string  `json:"assets"`
	Anomalies []Anomaly `json:"anomalies"`
}

// Anomaly is a price flagged by the PriceValidator
type Anomaly struct {
	AssetID string    `json:"asset_id"`
	Date    time.Time `json:"date"`
	Price   float64   `json:"price"`
	Reason  string    `json:"reason"`
}
