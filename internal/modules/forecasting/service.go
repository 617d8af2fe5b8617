package forecasting

import (
	"context"
	"errors"
	"sync"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/modules/series"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// AssetForecast pairs a return forecast with its price path
type AssetForecast struct {
	Returns domain.ForecastResult    `json:"returns"`
	Prices  domain.PricePathForecast `json:"prices"`
}

// Service forecasts every asset of a dataset on a bounded worker pool
type Service struct {
	forecaster *Forecaster
	workers    int
	log        zerolog.Logger
}

// NewService creates a new forecasting service
func NewService(forecaster *Forecaster, workers int, log zerolog.Logger) *Service {
	if workers < 1 {
		workers = 1
	}
	return &Service{
		forecaster: forecaster,
		workers:    workers,
		log:        log.With().Str("service", "forecasting").Logger(),
	}
}

// Forecaster returns the underlying single-asset forecaster
func (s *Service) Forecaster() *Forecaster {
	return s.forecaster
}

// ForecastAsset forecasts one asset of the dataset and rebuilds its price path
func (s *Service) ForecastAsset(ds *series.Dataset, assetID string, forwardDays int, confidence float64) (AssetForecast, error) {
	prices := ds.Prices(assetID)
	last, ok := prices.Last()
	if !ok {
		return AssetForecast{}, domain.InsufficientDataf("no prices for %s", assetID)
	}

	returns, err := s.forecaster.ForecastOrZero(assetID, ds.Returns(assetID).Values, forwardDays, confidence)
	if err != nil {
		return AssetForecast{}, err
	}

	dates := NextBusinessDays(last.Date, forwardDays)
	return AssetForecast{
		Returns: returns,
		Prices:  ReconstructPricePath(last.Price, returns, dates),
	}, nil
}

// ForecastDataset forecasts all assets concurrently. Assets without enough
// history are left out of the result; any other failure aborts the batch.
func (s *Service) ForecastDataset(ctx context.Context, ds *series.Dataset, forwardDays int, confidence float64) (map[string]AssetForecast, error) {
	assets := ds.Assets()
	results := make(map[string]AssetForecast, len(assets))
	var mu sync.Mutex
	skipped := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, id := range assets {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fc, err := s.ForecastAsset(ds, id, forwardDays, confidence)
			if errors.Is(err, domain.ErrInsufficientData) {
				s.log.Debug().Str("asset_id", id).Err(err).Msg("Skipping asset without enough history")
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			results[id] = fc
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Info().
		Int("forecasted", len(results)).
		Int("skipped", skipped).
		Int("forward_days", forwardDays).
		Msg("Dataset forecast completed")

	return results, nil
}
