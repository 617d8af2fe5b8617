// Package forecasting projects future returns with auto-selected ARIMA
// models and rebuilds the matching price paths.
package forecasting

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// DefaultForwardDays is the default forecast horizon
	DefaultForwardDays = 5
	// DefaultConfidence is the default interval coverage
	DefaultConfidence = 0.95
	// minHorizon is the shortest horizon ever forecast; shorter requests are truncated afterwards
	minHorizon = 5
	// AutoDifferencing selects the differencing order with a stationarity test
	AutoDifferencing = -1
)

// Config bounds the model search
type Config struct {
	MaxP            int
	MaxQ            int
	MaxOrder        int // upper bound for p+q
	MaxD            int
	Differencing    int // fixed d, or AutoDifferencing
	MinObservations int
	SmoothingSpan   int
}

// DefaultConfig returns the standard search bounds
func DefaultConfig() Config {
	return Config{
		MaxP:            5,
		MaxQ:            5,
		MaxOrder:        5,
		MaxD:            2,
		Differencing:    AutoDifferencing,
		MinObservations: 10,
		SmoothingSpan:   5,
	}
}

// Forecaster fits one model per call; it holds no per-asset state
type Forecaster struct {
	cfg Config
	log zerolog.Logger
}

// NewForecaster creates a new forecaster
func NewForecaster(cfg Config, log zerolog.Logger) *Forecaster {
	return &Forecaster{
		cfg: cfg,
		log: log.With().Str("component", "forecaster").Logger(),
	}
}

// Forecast projects forwardDays future returns with a confidence band.
//
// Steps:
//  1. fit an auto-selected ARIMA order on the finite returns
//  2. forecast max(forwardDays, 5) steps with a normal interval
//  3. smooth mean, lower and upper with two span-5 EWM passes
//  4. truncate to forwardDays and reorder bounds pointwise
func (f *Forecaster) Forecast(assetID string, returns []float64, forwardDays int, confidence float64) (domain.ForecastResult, error) {
	if forwardDays <= 0 {
		return domain.ForecastResult{}, domain.Validationf("forward_days must be positive, got %d", forwardDays)
	}
	if !(confidence > 0 && confidence < 1) {
		return domain.ForecastResult{}, domain.Validationf("confidence must be in (0, 1), got %v", confidence)
	}

	clean := formulas.Finite(returns)
	horizon := forwardDays
	if horizon < minHorizon {
		horizon = minHorizon
	}

	if len(clean) == 0 {
		return domain.ForecastResult{}, domain.InsufficientDataf("no numeric returns for %s", assetID)
	}
	required := f.cfg.MinObservations
	if horizon > required {
		required = horizon
	}
	if len(clean) < required {
		return domain.ForecastResult{}, domain.InsufficientDataf("%s has %d returns, need %d", assetID, len(clean), required)
	}

	model, err := f.Fit(clean)
	if err != nil {
		return domain.ForecastResult{}, fmt.Errorf("forecast %s: %w", assetID, err)
	}

	mean, se := model.Predict(horizon)
	z := distuv.UnitNormal.Quantile(1 - (1-confidence)/2)

	lower := make([]float64, horizon)
	upper := make([]float64, horizon)
	for i := range mean {
		if !formulas.IsFinite(mean[i]) || !formulas.IsFinite(se[i]) {
			return domain.ForecastResult{}, fmt.Errorf("forecast %s: %w: non-finite prediction from %s", assetID, ErrModelFit, model.Order())
		}
		lower[i] = mean[i] - z*se[i]
		upper[i] = mean[i] + z*se[i]
	}

	span := f.cfg.SmoothingSpan
	mean = formulas.SmoothTwice(mean, span)[:forwardDays]
	lower = formulas.SmoothTwice(lower, span)[:forwardDays]
	upper = formulas.SmoothTwice(upper, span)[:forwardDays]

	for i := 0; i < forwardDays; i++ {
		lo := math.Min(lower[i], math.Min(upper[i], mean[i]))
		hi := math.Max(lower[i], math.Max(upper[i], mean[i]))
		lower[i], upper[i] = lo, hi
	}

	f.log.Debug().
		Str("asset_id", assetID).
		Str("order", model.Order().String()).
		Float64("aic", model.AIC()).
		Int("observations", len(clean)).
		Msg("Forecast computed")

	return domain.ForecastResult{
		AssetID:    assetID,
		Confidence: confidence,
		Mean:       mean,
		Lower:      lower,
		Upper:      upper,
	}, nil
}

// ForecastOrZero behaves like Forecast but replaces a model-fit failure
// with an all-zero forecast. Insufficient data and validation errors
// are still returned.
func (f *Forecaster) ForecastOrZero(assetID string, returns []float64, forwardDays int, confidence float64) (domain.ForecastResult, error) {
	result, err := f.Forecast(assetID, returns, forwardDays, confidence)
	if err == nil {
		return result, nil
	}
	if errors.Is(err, ErrModelFit) {
		f.log.Warn().Err(err).Str("asset_id", assetID).Msg("Model fit failed, using zero forecast")
		return ZeroForecast(assetID, forwardDays, confidence), nil
	}
	return domain.ForecastResult{}, err
}

// ZeroForecast returns a flat zero-return forecast
func ZeroForecast(assetID string, forwardDays int, confidence float64) domain.ForecastResult {
	return domain.ForecastResult{
		AssetID:    assetID,
		Confidence: confidence,
		Mean:       make([]float64, forwardDays),
		Lower:      make([]float64, forwardDays),
		Upper:      make([]float64, forwardDays),
	}
}

// Fit selects and fits a model with a stepwise AIC search
func (f *Forecaster) Fit(y []float64) (*Model, error) {
	d := f.cfg.Differencing
	if d < 0 {
		d = estimateDifferencing(y, f.cfg.MaxD)
	}
	if d > f.cfg.MaxD {
		d = f.cfg.MaxD
	}
	withMean := d <= 1
	diffed := difference(y, d)

	fitted := make(map[Order]*Model)
	tried := make(map[Order]bool)
	fit := func(p, q int) *Model {
		if p < 0 || q < 0 || p > f.cfg.MaxP || q > f.cfg.MaxQ || p+q > f.cfg.MaxOrder {
			return nil
		}
		order := Order{P: p, D: d, Q: q}
		if tried[order] {
			return fitted[order]
		}
		tried[order] = true

		m, err := fitModel(y, diffed, order, withMean)
		if err != nil {
			f.log.Debug().Err(err).Str("order", order.String()).Msg("Candidate model skipped")
			return nil
		}
		fitted[order] = m
		return m
	}

	var best *Model
	consider := func(m *Model) bool {
		if m == nil || (best != nil && m.aic >= best.aic) {
			return false
		}
		best = m
		return true
	}

	for _, start := range [][2]int{{2, 2}, {0, 0}, {1, 0}, {0, 1}} {
		consider(fit(start[0], start[1]))
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no candidate order could be estimated from %d observations", ErrModelFit, len(y))
	}

	steps := [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}, {-1, -1}, {1, 1}, {-1, 1}, {1, -1}}
	for improved := true; improved; {
		improved = false
		p, q := best.order.P, best.order.Q
		for _, step := range steps {
			if consider(fit(p+step[0], q+step[1])) {
				improved = true
				break
			}
		}
	}

	return best, nil
}
