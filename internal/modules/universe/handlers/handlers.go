// Package handlers provides HTTP handlers for the asset catalog, price
// history and per-asset forecasts.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/forecasting"
	"github.com/aristath/frontier/internal/modules/series"
	"github.com/aristath/frontier/internal/modules/sharpe"
	"github.com/aristath/frontier/internal/modules/universe"
	"github.com/aristath/frontier/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxImportBytes bounds the size of an uploaded price table
const maxImportBytes = 64 << 20

// UniverseHandlers handles asset and price HTTP requests
type UniverseHandlers struct {
	history     *universe.HistoryDB
	forecasts   *forecasting.Service
	scorer      *sharpe.Scorer
	forwardDays int
	confidence  float64
	log         zerolog.Logger
}

// NewUniverseHandlers creates a new universe handlers instance.
// forwardDays and confidence are the defaults for forecast requests.
func NewUniverseHandlers(
	history *universe.HistoryDB,
	forecasts *forecasting.Service,
	scorer *sharpe.Scorer,
	forwardDays int,
	confidence float64,
	log zerolog.Logger,
) *UniverseHandlers {
	return &UniverseHandlers{
		history:     history,
		forecasts:   forecasts,
		scorer:      scorer,
		forwardDays: forwardDays,
		confidence:  confidence,
		log:         log.With().Str("handler", "universe").Logger(),
	}
}

// HandleListAssets returns every known asset with its history extent
func (h *UniverseHandlers) HandleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := h.history.ListAssets()
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, assets, h.log)
}

// HandleUpsertAsset creates or updates a catalog entry
func (h *UniverseHandlers) HandleUpsertAsset(w http.ResponseWriter, r *http.Request) {
	var asset universe.Asset
	if err := json.NewDecoder(r.Body).Decode(&asset); err != nil {
		utils.WriteError(w, domain.Validationf("invalid request body: %v", err), h.log)
		return
	}
	if err := h.history.UpsertAsset(asset); err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	stored, err := h.history.AssetInfo(asset.AssetID)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, stored, h.log)
}

// HandleGetAsset returns one catalog entry
func (h *UniverseHandlers) HandleGetAsset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	asset, err := h.history.AssetInfo(id)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if asset == nil {
		utils.WriteError(w, domain.NewMissingMarketDataError(id, "catalog entry"), h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, asset, h.log)
}

// HandleGetPrices returns the stored closes of an asset (?limit=N for the most recent N)
func (h *UniverseHandlers) HandleGetPrices(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	prices, err := h.history.DailyPrices(id, limit)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	if prices.Len() == 0 {
		utils.WriteError(w, domain.NewMissingMarketDataError(id, "prices"), h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, prices, h.log)
}

// HandleImportPrices loads a CSV price table from the request body.
// ?reject_anomalies=true keeps flagged prices out of the store.
func (h *UniverseHandlers) HandleImportPrices(w http.ResponseWriter, r *http.Request) {
	reject, _ := strconv.ParseBool(r.URL.Query().Get("reject_anomalies"))
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	result, err := h.history.ImportCSV(body, universe.ImportOptions{RejectAnomalies: reject})
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, result, h.log)
}

// HandleGetForecast forecasts one asset from its full stored history.
// Query: forward_days, confidence.
func (h *UniverseHandlers) HandleGetForecast(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	forwardDays, err := intParam(r, "forward_days", h.forwardDays)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	confidence, err := floatParam(r, "confidence", h.confidence)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	ds, err := h.dataset(id)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	fc, err := h.forecasts.ForecastAsset(ds, id, forwardDays, confidence)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, fc, h.log)
}

// HandleGetSharpe scores one asset. An unscorable asset has a null score.
func (h *UniverseHandlers) HandleGetSharpe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ds, err := h.dataset(id)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	score := sharpe.Score{AssetID: id, Sharpe: h.scorer.FromReturns(id, ds.Returns(id).Values)}
	utils.WriteJSON(w, http.StatusOK, score, h.log)
}

type rankRequest struct {
	Assets []string `json:"assets"`
}

// HandleRankSharpe scores the requested assets (all stored assets when
// none are given), best first
func (h *UniverseHandlers) HandleRankSharpe(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			utils.WriteError(w, domain.Validationf("invalid request body: %v", err), h.log)
			return
		}
	}

	rows, err := h.history.RawRows(r.Context())
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}

	scores, err := h.scorer.Rank(r.Context(), series.Build(rows), req.Assets)
	if err != nil {
		utils.WriteError(w, err, h.log)
		return
	}
	utils.WriteJSON(w, http.StatusOK, scores, h.log)
}

func (h *UniverseHandlers) dataset(assetID string) (*series.Dataset, error) {
	prices, err := h.history.DailyPrices(assetID, 0)
	if err != nil {
		return nil, err
	}
	if prices.Len() == 0 {
		return nil, domain.NewMissingMarketDataError(assetID, "prices")
	}
	return series.FromSeries(prices), nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validationf("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}

func floatParam(r *http.Request, name string, fallback float64) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, domain.Validationf("%s must be a number, got %q", name, raw)
	}
	return v, nil
}
