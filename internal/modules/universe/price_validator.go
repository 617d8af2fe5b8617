package universe

import (
	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
)

const (
	// Validation thresholds
	maxPriceMultiplier    = 10.0   // Price > 10x average is abnormal
	minPriceMultiplier    = 0.1    // Price < 0.1x average is abnormal
	maxPriceChangePercent = 1000.0 // >1000% change is a spike
	minPriceChangePercent = -90.0  // <-90% change is a crash
	contextWindowDays     = 30     // Use last 30 observations for context
)

// PriceValidator flags closing prices that are implausible given the
// preceding history
type PriceValidator struct {
	log zerolog.Logger
}

// NewPriceValidator creates a new price validator
func NewPriceValidator(log zerolog.Logger) *PriceValidator {
	return &PriceValidator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// ValidatePrice checks one close against its context, most recent first.
// Returns (isValid, reason).
func (v *PriceValidator) ValidatePrice(price float64, context []float64) (bool, string) {
	if !formulas.IsFinite(price) || price <= 0 {
		return false, "non_positive"
	}
	if len(context) == 0 {
		return true, ""
	}

	// Day-over-day change takes priority over the average checks
	if prev := context[0]; prev > 0 {
		changePercent := ((price - prev) / prev) * 100.0
		if changePercent > maxPriceChangePercent {
			return false, "spike_detected"
		}
		if changePercent < minPriceChangePercent {
			return false, "crash_detected"
		}
	}

	window := context
	if len(window) > contextWindowDays {
		window = window[:contextWindowDays]
	}
	avg := formulas.Mean(window)
	if price > avg*maxPriceMultiplier {
		return false, "price_too_high"
	}
	if price < avg*minPriceMultiplier {
		return false, "price_too_low"
	}

	return true, ""
}

// CheckSeries walks a series in date order and returns the flagged points.
// With reject set, flagged points are excluded from the context of later
// points and from the returned clean series.
func (v *PriceValidator) CheckSeries(s domain.PriceSeries, reject bool) (domain.PriceSeries, []Anomaly) {
	clean := domain.PriceSeries{AssetID: s.AssetID, Points: make([]domain.PricePoint, 0, len(s.Points))}
	var anomalies []Anomaly
	// context holds accepted closes, most recent first
	context := make([]float64, 0, contextWindowDays)

	for _, p := range s.Points {
		ok, reason := v.ValidatePrice(p.Price, context)
		if !ok {
			anomalies = append(anomalies, Anomaly{AssetID: s.AssetID, Date: p.Date, Price: p.Price, Reason: reason})
			v.log.Warn().
				Str("asset_id", s.AssetID).
				Time("date", p.Date).
				Float64("price", p.Price).
				Str("reason", reason).
				Msg("Abnormal price detected")
			if reject {
				continue
			}
		}

		clean.Points = append(clean.Points, p)
		context = append([]float64{p.Price}, context...)
		if len(context) > contextWindowDays {
			context = context[:contextWindowDays]
		}
	}

	return clean, anomalies
}
