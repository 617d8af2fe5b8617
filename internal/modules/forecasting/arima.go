package forecasting

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/frontier/pkg/formulas"
	"gonum.org/v1/gonum/optimize"
)

// ErrModelFit is returned when no candidate model could be fitted
var ErrModelFit = errors.New("model fit failed")

const (
	// kpssCritical5 is the 5% critical value of the KPSS level-stationarity test
	kpssCritical5 = 0.463
	// infeasibleObjective is returned for parameters outside the admissible region
	infeasibleObjective = 1e10
	varianceFloor       = 1e-300
)

// Order is the (p, d, q) order of an ARIMA model
type Order struct {
	P int `json:"p"`
	D int `json:"d"`
	Q int `json:"q"`
}

func (o Order) String() string {
	return fmt.Sprintf("ARIMA(%d,%d,%d)", o.P, o.D, o.Q)
}

// Model is a fitted non-seasonal ARIMA model.
//
// The differenced series w follows
//
//	(w[t] - mu) = sum phi[i] (w[t-i] - mu) + e[t] + sum theta[j] e[t-j]
//
// with mu fixed at zero when the model carries no mean term.
type Model struct {
	order     Order
	phi       []float64
	theta     []float64
	mu        float64
	sigma2    float64
	aic       float64
	nEff      int
	levels    []float64
	diffed    []float64
	residuals []float64
}

// Order returns the fitted order
func (m *Model) Order() Order { return m.order }

// AIC returns the Akaike information criterion of the fit
func (m *Model) AIC() float64 { return m.aic }

// Sigma2 returns the innovation variance
func (m *Model) Sigma2() float64 { return m.sigma2 }

// AR returns a copy of the autoregressive coefficients
func (m *Model) AR() []float64 { return append([]float64(nil), m.phi...) }

// MA returns a copy of the moving-average coefficients
func (m *Model) MA() []float64 { return append([]float64(nil), m.theta...) }

// Mean returns the mean of the differenced series used by the model
func (m *Model) Mean() float64 { return m.mu }

// fitModel estimates one order by conditional sum of squares
func fitModel(levels, diffed []float64, order Order, withMean bool) (*Model, error) {
	p, q := order.P, order.Q
	k := p + q
	if withMean {
		k++
	}
	nEff := len(diffed) - p
	if nEff < k+2 {
		return nil, fmt.Errorf("%s needs more than %d observations", order, len(diffed))
	}

	mu0 := 0.0
	if withMean {
		mu0 = formulas.Mean(diffed)
	}

	phi := make([]float64, p)
	theta := make([]float64, q)
	mu := mu0

	if p+q > 0 {
		dim := k
		unpack := func(x []float64) ([]float64, []float64, float64) {
			m := mu0
			if withMean {
				m = x[dim-1]
			}
			return x[:p], x[p : p+q], m
		}

		objective := func(x []float64) float64 {
			ph, th, m := unpack(x)
			if excess := admissibilityExcess(ph, th); excess > 0 {
				return infeasibleObjective * (1 + excess)
			}
			sse, _, n := conditionalSSE(diffed, ph, th, m)
			if !formulas.IsFinite(sse) {
				return infeasibleObjective
			}
			return float64(n) * math.Log(math.Max(sse/float64(n), varianceFloor))
		}

		x0 := make([]float64, dim)
		if withMean {
			x0[dim-1] = mu0
		}

		settings := &optimize.Settings{
			FuncEvaluations: 400 * (dim + 1),
			Converger: &optimize.FunctionConverge{
				Absolute:   1e-10,
				Relative:   1e-10,
				Iterations: 50,
			},
		}

		result, err := optimize.Minimize(optimize.Problem{Func: objective}, x0, settings, &optimize.NelderMead{})
		if result == nil || !formulas.IsFinite(result.F) || result.F >= infeasibleObjective {
			if err == nil {
				err = errors.New("no admissible parameters")
			}
			return nil, fmt.Errorf("%w: %s: %v", ErrModelFit, order, err)
		}

		ph, th, m := unpack(result.X)
		copy(phi, ph)
		copy(theta, th)
		mu = m
	}

	sse, residuals, n := conditionalSSE(diffed, phi, theta, mu)
	if !formulas.IsFinite(sse) {
		return nil, fmt.Errorf("%w: %s: non-finite residuals", ErrModelFit, order)
	}
	sigma2 := math.Max(sse/float64(n), varianceFloor)

	return &Model{
		order:     order,
		phi:       phi,
		theta:     theta,
		mu:        mu,
		sigma2:    sigma2,
		aic:       float64(n)*math.Log(sigma2) + 2*float64(k+1),
		nEff:      n,
		levels:    levels,
		diffed:    diffed,
		residuals: residuals,
	}, nil
}

// conditionalSSE computes residuals with pre-sample shocks set to zero
func conditionalSSE(w, phi, theta []float64, mu float64) (float64, []float64, int) {
	p, q := len(phi), len(theta)
	resid := make([]float64, len(w))
	sse := 0.0
	for t := p; t < len(w); t++ {
		e := w[t] - mu
		for i := 1; i <= p; i++ {
			e -= phi[i-1] * (w[t-i] - mu)
		}
		for j := 1; j <= q && t-j >= 0; j++ {
			e -= theta[j-1] * resid[t-j]
		}
		resid[t] = e
		sse += e * e
	}
	return sse, resid, len(w) - p
}

// admissibilityExcess is positive when the coefficients may leave the
// stationary (AR) or invertible (MA) region. sum|c| < 1 is sufficient for both.
func admissibilityExcess(phi, theta []float64) float64 {
	excess := 0.0
	if s := sumAbs(phi); s >= 1 {
		excess += s - 1 + 1e-6
	}
	if s := sumAbs(theta); s >= 1 {
		excess += s - 1 + 1e-6
	}
	return excess
}

func sumAbs(v []float64) float64 {
	total := 0.0
	for _, x := range v {
		total += math.Abs(x)
	}
	return total
}

// Predict returns the h-step point forecasts on the original scale and
// their standard errors.
func (m *Model) Predict(h int) ([]float64, []float64) {
	n := len(m.diffed)
	ext := make([]float64, n+h)
	copy(ext, m.diffed)
	shocks := make([]float64, n+h)
	copy(shocks, m.residuals)

	for s := 0; s < h; s++ {
		t := n + s
		v := m.mu
		for i := 1; i <= len(m.phi); i++ {
			if t-i >= 0 {
				v += m.phi[i-1] * (ext[t-i] - m.mu)
			}
		}
		for j := 1; j <= len(m.theta); j++ {
			if t-j >= 0 {
				v += m.theta[j-1] * shocks[t-j]
			}
		}
		ext[t] = v
	}

	mean := integrate(m.levels, m.order.D, ext[n:])

	psi := psiWeights(m.phi, m.theta, m.order.D, h)
	se := make([]float64, h)
	acc := 0.0
	for s := 0; s < h; s++ {
		acc += psi[s] * psi[s]
		se[s] = math.Sqrt(m.sigma2 * acc)
	}
	return mean, se
}

// psiWeights expands phi(B)(1-B)^d and theta(B) into the MA(infinity) weights
func psiWeights(phi, theta []float64, d, h int) []float64 {
	poly := make([]float64, len(phi)+1)
	poly[0] = 1
	for i, c := range phi {
		poly[i+1] = -c
	}
	for k := 0; k < d; k++ {
		next := make([]float64, len(poly)+1)
		for i, c := range poly {
			next[i] += c
			next[i+1] -= c
		}
		poly = next
	}
	ar := make([]float64, len(poly)-1)
	for i := 1; i < len(poly); i++ {
		ar[i-1] = -poly[i]
	}

	psi := make([]float64, h)
	if h == 0 {
		return psi
	}
	psi[0] = 1
	for j := 1; j < h; j++ {
		v := 0.0
		if j <= len(theta) {
			v = theta[j-1]
		}
		for i := 1; i <= len(ar) && i <= j; i++ {
			v += ar[i-1] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}

// difference applies d rounds of first differencing
func difference(y []float64, d int) []float64 {
	out := append([]float64(nil), y...)
	for k := 0; k < d; k++ {
		if len(out) < 2 {
			return []float64{}
		}
		next := make([]float64, len(out)-1)
		for i := 1; i < len(out); i++ {
			next[i-1] = out[i] - out[i-1]
		}
		out = next
	}
	return out
}

// integrate undoes d rounds of differencing for forecasts that follow y
func integrate(y []float64, d int, forecast []float64) []float64 {
	levels := make([][]float64, d+1)
	levels[0] = y
	for k := 1; k <= d; k++ {
		levels[k] = difference(levels[k-1], 1)
	}

	out := append([]float64(nil), forecast...)
	for k := d; k >= 1; k-- {
		base := levels[k-1]
		prev := base[len(base)-1]
		next := make([]float64, len(out))
		for i, v := range out {
			prev += v
			next[i] = prev
		}
		out = next
	}
	return out
}

// kpssStatistic computes the KPSS level-stationarity statistic with a
// Bartlett-weighted long-run variance and short lag truncation.
func kpssStatistic(y []float64) float64 {
	n := len(y)
	if n < 2 {
		return 0
	}
	mean := formulas.Mean(y)
	e := make([]float64, n)
	for i, v := range y {
		e[i] = v - mean
	}

	partial, eta := 0.0, 0.0
	for _, v := range e {
		partial += v
		eta += partial * partial
	}

	s2 := 0.0
	for _, v := range e {
		s2 += v * v
	}
	s2 /= float64(n)

	lags := int(math.Trunc(3 * math.Sqrt(float64(n)) / 13))
	for l := 1; l <= lags; l++ {
		weight := 1 - float64(l)/float64(lags+1)
		cov := 0.0
		for t := l; t < n; t++ {
			cov += e[t] * e[t-l]
		}
		s2 += 2 * weight * cov / float64(n)
	}
	if s2 <= 0 {
		return 0
	}
	return eta / (float64(n) * float64(n) * s2)
}

// estimateDifferencing picks d by repeated KPSS tests at the 5% level
func estimateDifferencing(y []float64, maxD int) int {
	d := 0
	x := y
	for d < maxD {
		if len(x) < 3 || isConstant(x) {
			break
		}
		if kpssStatistic(x) <= kpssCritical5 {
			break
		}
		x = difference(x, 1)
		d++
	}
	return d
}

func isConstant(x []float64) bool {
	for _, v := range x[1:] {
		if v != x[0] {
			return false
		}
	}
	return true
}
