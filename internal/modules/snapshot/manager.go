package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/internal/events"
	"github.com/aristath/frontier/internal/modules/artifacts"
	"github.com/aristath/frontier/internal/modules/covariance"
	"github.com/aristath/frontier/internal/modules/forecasting"
	"github.com/aristath/frontier/internal/modules/series"
	"github.com/aristath/frontier/internal/utils"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// PriceSource supplies the raw price table a snapshot is built from
type PriceSource interface {
	RawRows(ctx context.Context) ([]series.RawPriceRow, error)
}

// Options configures snapshot builds
type Options struct {
	ForwardDays int
	Confidence  float64
	// MaxAge marks a snapshot stale once it is older; zero disables
	MaxAge time.Duration
}

// Manager builds, persists and serves the current snapshot
type Manager struct {
	source    PriceSource
	forecasts *forecasting.Service
	estimator *covariance.Estimator
	store     artifacts.Store
	events    *events.Manager
	opts      Options

	current    atomic.Pointer[Snapshot]
	refreshMu  sync.Mutex
	refreshing atomic.Bool
	log        zerolog.Logger
}

// NewManager creates a new snapshot manager. store and eventManager may be nil.
func NewManager(
	source PriceSource,
	forecasts *forecasting.Service,
	estimator *covariance.Estimator,
	store artifacts.Store,
	eventManager *events.Manager,
	opts Options,
	log zerolog.Logger,
) *Manager {
	if opts.ForwardDays <= 0 {
		opts.ForwardDays = forecasting.DefaultForwardDays
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = forecasting.DefaultConfidence
	}
	return &Manager{
		source:    source,
		forecasts: forecasts,
		estimator: estimator,
		store:     store,
		events:    eventManager,
		opts:      opts,
		log:       log.With().Str("service", "snapshot").Logger(),
	}
}

// Current returns the published snapshot, nil before the first build
func (m *Manager) Current() *Snapshot {
	return m.current.Load()
}

// Refreshing reports whether a rebuild is in progress
func (m *Manager) Refreshing() bool {
	return m.refreshing.Load()
}

// MaxAge returns the configured staleness threshold
func (m *Manager) MaxAge() time.Duration {
	return m.opts.MaxAge
}

// MarketData implements the optimizer's market data source over the
// current snapshot
func (m *Manager) MarketData(ids []string) (map[string]float64, domain.CovarianceMatrix, error) {
	snap := m.Current()
	if snap == nil {
		return nil, domain.CovarianceMatrix{}, fmt.Errorf("%w: no snapshot has been built", domain.ErrMissingMarketData)
	}
	return snap.MarketData(ids)
}

// ResolveAsset maps id to its spelling in the current snapshot
func (m *Manager) ResolveAsset(id string) (string, bool) {
	snap := m.Current()
	if snap == nil {
		return "", false
	}
	return snap.ResolveAsset(id)
}

// Refresh rebuilds the snapshot from the full price history and publishes
// it. Concurrent calls are serialized; readers keep the previous snapshot
// until the new one is complete. Persistence failures are reported but do
// not prevent publication.
func (m *Manager) Refresh(ctx context.Context) (*Snapshot, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)
	defer utils.OperationTimer("snapshot_refresh", m.log)()

	started := time.Now()

	rows, err := m.source.RawRows(ctx)
	if err != nil {
		return nil, m.fail("source", fmt.Errorf("failed to read prices: %w", err))
	}

	ds := series.Build(rows)
	if len(ds.Assets()) == 0 {
		return nil, m.fail("empty_history", domain.InsufficientDataf("no usable price history"))
	}

	results, err := m.forecasts.ForecastDataset(ctx, ds, m.opts.ForwardDays, m.opts.Confidence)
	if err != nil {
		return nil, m.fail("forecast", fmt.Errorf("failed to forecast: %w", err))
	}

	paths := make(map[string]domain.PricePathForecast, len(results))
	for id, fc := range results {
		paths[id] = fc.Prices
	}

	lastPrices := make(map[string]float64, len(ds.Assets()))
	for _, id := range ds.Assets() {
		if p, ok := ds.LastPrice(id); ok {
			lastPrices[id] = p
		}
	}

	snap := &Snapshot{
		Version:         uuid.New().String(),
		AsOf:            ds.AsOf(),
		BuiltAt:         time.Now().UTC(),
		ForwardDays:     m.opts.ForwardDays,
		Confidence:      m.opts.Confidence,
		Assets:          ds.Assets(),
		Covariance:      m.estimator.Estimate(ds.Histories(), ds.Assets()...),
		Forecasts:       paths,
		ExpectedReturns: expectedReturns(paths),
		LastPrices:      lastPrices,
	}

	if err := m.persist(ctx, snap, ds); err != nil {
		m.log.Error().Err(err).Msg("Failed to persist snapshot artifacts")
		if m.events != nil {
			m.events.EmitError("snapshot", err, map[string]interface{}{"version": snap.Version})
		}
	}

	m.current.Store(snap)

	m.log.Info().
		Str("version", snap.Version).
		Str("as_of", snap.AsOf.Format("2006-01-02")).
		Int("assets", len(snap.Assets)).
		Int("forecasts", len(snap.Forecasts)).
		Msg("Snapshot refreshed")

	if m.events != nil {
		m.events.EmitTyped("snapshot", &events.SnapshotRefreshedData{
			Version:    snap.Version,
			AsOf:       snap.AsOf.Format("2006-01-02"),
			Assets:     len(snap.Assets),
			Forecasts:  len(snap.Forecasts),
			DurationMs: float64(time.Since(started).Milliseconds()),
		})
	}

	return snap, nil
}

func (m *Manager) fail(reason string, err error) error {
	m.log.Error().Err(err).Str("reason", reason).Msg("Snapshot refresh failed")
	if m.events != nil {
		m.events.EmitTyped("snapshot", &events.SnapshotFailedData{Error: err.Error(), Reason: reason})
	}
	return err
}

// persist saves the forecast, covariance and price tables of a snapshot
func (m *Manager) persist(ctx context.Context, snap *Snapshot, ds *series.Dataset) error {
	if m.store == nil {
		return nil
	}

	forecastPayload, err := artifacts.EncodeForecasts(artifacts.ForecastRows(snap.Forecasts))
	if err != nil {
		return err
	}
	covariancePayload, err := artifacts.EncodeCovariance(snap.Covariance)
	if err != nil {
		return err
	}
	pricePayload, err := artifacts.EncodePrices(artifacts.PriceRows(ds.Histories()))
	if err != nil {
		return err
	}

	payloads := []struct {
		kind    artifacts.Kind
		payload []byte
	}{
		{artifacts.KindForecast, forecastPayload},
		{artifacts.KindCovariance, covariancePayload},
		{artifacts.KindPrices, pricePayload},
	}

	var errs []error
	for _, p := range payloads {
		a := &artifacts.Artifact{
			Key:       artifacts.NewKey(p.kind, snap.Assets),
			Version:   artifacts.SnapshotVersion(snap.Version, p.kind),
			AsOf:      snap.AsOf,
			CreatedAt: snap.BuiltAt,
			Payload:   p.payload,
		}
		if err := m.store.Save(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadFromStore publishes the stored snapshot of the current universe when
// all three artifacts exist and none predates the latest price date.
// It reports false when a rebuild is needed.
func (m *Manager) LoadFromStore(ctx context.Context) (bool, error) {
	if m.store == nil {
		return false, nil
	}

	rows, err := m.source.RawRows(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read prices: %w", err)
	}
	ds := series.Build(rows)
	assets := ds.Assets()
	if len(assets) == 0 {
		return false, nil
	}

	// the forecast table picks the snapshot; the other tables must carry its version
	forecastArtifact, err := m.store.Load(ctx, artifacts.NewKey(artifacts.KindForecast, assets), ds.AsOf())
	if errors.Is(err, artifacts.ErrNotFound) || errors.Is(err, artifacts.ErrStale) {
		m.log.Info().Err(err).Str("kind", string(artifacts.KindForecast)).Msg("Stored snapshot unusable, rebuild needed")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load %s artifact: %w", artifacts.KindForecast, err)
	}
	version, ok := artifacts.SnapshotOf(forecastArtifact.Version, artifacts.KindForecast)
	if !ok {
		m.log.Info().Str("version", forecastArtifact.Version).Msg("Stored forecast table has no snapshot version, rebuild needed")
		return false, nil
	}

	loaded := map[artifacts.Kind]*artifacts.Artifact{artifacts.KindForecast: forecastArtifact}
	for _, kind := range []artifacts.Kind{artifacts.KindCovariance, artifacts.KindPrices} {
		a, err := m.store.LoadVersion(ctx, artifacts.NewKey(kind, assets), artifacts.SnapshotVersion(version, kind))
		if errors.Is(err, artifacts.ErrNotFound) {
			m.log.Info().Err(err).Str("kind", string(kind)).Str("version", version).Msg("Stored snapshot incomplete, rebuild needed")
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to load %s artifact: %w", kind, err)
		}
		loaded[kind] = a
	}

	forecastRows, err := artifacts.DecodeForecasts(loaded[artifacts.KindForecast].Payload)
	if err != nil {
		return false, err
	}
	cov, err := artifacts.DecodeCovariance(loaded[artifacts.KindCovariance].Payload)
	if err != nil {
		return false, err
	}
	priceRows, err := artifacts.DecodePrices(loaded[artifacts.KindPrices].Payload)
	if err != nil {
		return false, err
	}

	histories := artifacts.PriceHistories(priceRows)
	lastPrices := make(map[string]float64, len(histories))
	for id, s := range histories {
		if last, ok := s.Last(); ok {
			lastPrices[id] = last.Price
		}
	}

	paths := artifacts.PricePaths(forecastRows)
	forwardDays := 0
	for id, p := range paths {
		p.BasePrice = lastPrices[id]
		paths[id] = p
		forwardDays = max(forwardDays, len(p.Mean))
	}
	if forwardDays == 0 {
		forwardDays = m.opts.ForwardDays
	}

	snap := &Snapshot{
		Version:         version,
		AsOf:            forecastArtifact.AsOf,
		BuiltAt:         forecastArtifact.CreatedAt,
		ForwardDays:     forwardDays,
		Confidence:      m.opts.Confidence,
		Assets:          assets,
		Covariance:      cov,
		Forecasts:       paths,
		ExpectedReturns: expectedReturns(paths),
		LastPrices:      lastPrices,
	}
	m.current.Store(snap)

	m.log.Info().
		Str("version", snap.Version).
		Str("as_of", snap.AsOf.Format("2006-01-02")).
		Int("assets", len(snap.Assets)).
		Msg("Snapshot loaded from artifact store")
	return true, nil
}

// EnsureFresh loads the stored snapshot, or rebuilds when none is usable
// or the loaded one is older than MaxAge
func (m *Manager) EnsureFresh(ctx context.Context) error {
	ok, err := m.LoadFromStore(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not load stored snapshot")
	}
	if ok && !m.Current().IsStale(time.Now(), m.opts.MaxAge) {
		return nil
	}
	_, err = m.Refresh(ctx)
	return err
}
