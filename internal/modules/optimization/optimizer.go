// Package optimization solves constrained mean-variance portfolio problems.
package optimization

import (
	"fmt"
	"math"
	"strings"

	"github.com/aristath/frontier/internal/domain"
	"github.com/aristath/frontier/pkg/formulas"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

const (
	// spreadTolerance is the relative eigenvalue below which a covariance
	// direction is treated as riskless
	spreadTolerance = 1e-10
	// returnTolerance bounds how far below target a solution may land
	returnTolerance = 1e-9
	// varianceTolerance is the relative slack allowed on the risk ceiling
	varianceTolerance = 1e-9
	// weightSumTolerance is the smallest usable normalization denominator
	weightSumTolerance = 1e-12
	bisectionSteps     = 100
	maxBracketDoubling = 60
)

// Request is a mean-variance optimization request. Exactly one of
// TargetReturn and TargetRisk must be set.
type Request struct {
	Assets          []string                `json:"assets"`
	ExpectedReturns map[string]float64      `json:"expected_returns"`
	Covariance      domain.CovarianceMatrix `json:"covariance"`
	TargetReturn    *float64                `json:"target_return,omitempty"`
	TargetRisk      *float64                `json:"target_risk,omitempty"`
	AllowShort      bool                    `json:"allow_short"`
}

// Optimizer performs mean-variance portfolio optimization
type Optimizer struct {
	solver QPSolver
	log    zerolog.Logger
}

// NewOptimizer creates a new optimizer; a nil solver selects the active-set solver
func NewOptimizer(solver QPSolver, log zerolog.Logger) *Optimizer {
	if solver == nil {
		solver = NewActiveSetSolver()
	}
	return &Optimizer{
		solver: solver,
		log:    log.With().Str("component", "mv_optimizer").Logger(),
	}
}

// problem is a validated request in matrix form, ordered like the request
type problem struct {
	assets     []string
	mu         []float64
	sigma      *mat.SymDense
	q          *mat.SymDense
	allowShort bool
}

// Optimize solves the request.
//
// Target return: minimize wᵀΣw s.t. sum(w) = 1, μᵀw >= r (w >= 0 unless shorting).
// Target risk: maximize μᵀw s.t. sum(w) = 1, wᵀΣw <= σ² (w >= 0 unless shorting).
//
// Long-only results have negative noise clipped and are renormalized.
func (o *Optimizer) Optimize(req Request) (domain.WeightVector, error) {
	p, err := buildProblem(req)
	if err != nil {
		return domain.WeightVector{}, err
	}

	var w []float64
	if req.TargetReturn != nil {
		w, err = o.solveTargetReturn(p, *req.TargetReturn)
	} else {
		w, err = o.solveTargetRisk(p, *req.TargetRisk)
	}
	if err != nil {
		return domain.WeightVector{}, err
	}

	w, err = normalizeWeights(w, !p.allowShort)
	if err != nil {
		return domain.WeightVector{}, err
	}

	ret, risk := portfolioStats(p.mu, p.sigma, w)
	o.log.Info().
		Int("num_assets", len(p.assets)).
		Bool("allow_short", p.allowShort).
		Float64("expected_return", ret).
		Float64("risk", risk).
		Msg("Portfolio optimized")

	return domain.WeightVector{Assets: p.assets, Weights: w}, nil
}

func buildProblem(req Request) (*problem, error) {
	if len(req.Assets) == 0 {
		return nil, domain.Validationf("asset list is empty")
	}

	assets := make([]string, len(req.Assets))
	seen := make(map[string]bool, len(req.Assets))
	for i, raw := range req.Assets {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, domain.Validationf("asset at position %d is blank", i)
		}
		if seen[id] {
			return nil, domain.Validationf("duplicate asset %q", id)
		}
		seen[id] = true
		assets[i] = id
	}

	switch {
	case req.TargetReturn == nil && req.TargetRisk == nil:
		return nil, domain.Validationf("one of target_return or target_risk is required")
	case req.TargetReturn != nil && req.TargetRisk != nil:
		return nil, domain.Validationf("target_return and target_risk are mutually exclusive")
	case req.TargetReturn != nil && !formulas.IsFinite(*req.TargetReturn):
		return nil, domain.Validationf("target_return must be finite")
	case req.TargetRisk != nil && !formulas.IsFinite(*req.TargetRisk):
		return nil, domain.Validationf("target_risk must be finite")
	case req.TargetRisk != nil && *req.TargetRisk < 0:
		return nil, domain.Validationf("target_risk must be non-negative, got %v", *req.TargetRisk)
	}

	if err := checkShape(req.Covariance); err != nil {
		return nil, err
	}

	mu := make([]float64, len(assets))
	for i, id := range assets {
		r, ok := req.ExpectedReturns[id]
		if !ok {
			return nil, domain.NewMissingMarketDataError(id, "expected return")
		}
		if !formulas.IsFinite(r) {
			return nil, domain.Validationf("expected return for %q is not finite", id)
		}
		mu[i] = r
	}

	sub, err := req.Covariance.SubMatrix(assets)
	if err != nil {
		return nil, err
	}

	n := len(assets)
	sigma := mat.NewSymDense(n, nil)
	trace := 0.0
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := (sub[i][j] + sub[j][i]) / 2
			if !formulas.IsFinite(v) {
				return nil, domain.Validationf("covariance between %q and %q is not finite", assets[i], assets[j])
			}
			sigma.SetSym(i, j, v)
		}
		trace += math.Abs(sigma.At(i, i))
	}

	scale := trace / float64(n)
	if scale <= 0 {
		scale = 1
	}
	q := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			q.SetSym(i, j, 2*sigma.At(i, j)/scale)
		}
	}

	return &problem{
		assets:     assets,
		mu:         mu,
		sigma:      sigma,
		q:          q,
		allowShort: req.AllowShort,
	}, nil
}

func checkShape(cov domain.CovarianceMatrix) error {
	if len(cov.Values) != len(cov.Assets) {
		return domain.Validationf("covariance has %d rows for %d assets", len(cov.Values), len(cov.Assets))
	}
	for i, row := range cov.Values {
		if len(row) != len(cov.Assets) {
			return domain.Validationf("covariance row %d has %d entries, want %d", i, len(row), len(cov.Assets))
		}
	}
	return nil
}

func (o *Optimizer) solveTargetReturn(p *problem, target float64) ([]float64, error) {
	hi, lo := argMax(p.mu), argMin(p.mu)
	maxMu, minMu := p.mu[hi], p.mu[lo]

	if !p.allowShort && target > maxMu+returnTolerance {
		return nil, domain.Infeasiblef(
			"target return %.6g exceeds the highest expected return %.6g; try a lower expected return or a higher risk tolerance",
			target, maxMu)
	}
	if p.allowShort && maxMu-minMu <= returnTolerance && target > maxMu+returnTolerance {
		return nil, domain.Infeasiblef(
			"all expected returns equal %.6g, target return %.6g is unreachable; try a lower expected return",
			maxMu, target)
	}

	return o.minVariance(p, &target)
}

func (o *Optimizer) solveTargetRisk(p *problem, targetRisk float64) ([]float64, error) {
	ceiling := targetRisk * targetRisk
	slack := varianceTolerance * math.Max(ceiling, 1e-12)

	gmv, err := o.minVariance(p, nil)
	if err != nil {
		return nil, err
	}
	if v := variance(p.sigma, gmv); v > ceiling+slack {
		return nil, domain.Infeasiblef(
			"minimum achievable risk %.6g is above the risk ceiling %.6g; try a higher risk tolerance",
			math.Sqrt(math.Max(v, 0)), targetRisk)
	}

	base := dot(p.mu, gmv)
	maxMu := p.mu[argMax(p.mu)]
	if maxMu-p.mu[argMin(p.mu)] <= returnTolerance || base >= maxMu-returnTolerance && !p.allowShort {
		return gmv, nil
	}

	feasible := func(r float64) ([]float64, bool, error) {
		w, err := o.minVariance(p, &r)
		if err != nil {
			return nil, false, err
		}
		return w, variance(p.sigma, w) <= ceiling+slack, nil
	}

	var upper float64
	if !p.allowShort {
		upper = maxMu
		w, ok, err := feasible(upper)
		if err != nil {
			return nil, err
		}
		if ok {
			return w, nil
		}
	} else {
		spread, err := risklessSpread(p)
		if err != nil {
			return nil, err
		}
		if spread {
			return nil, domain.Infeasiblef(
				"expected return is unbounded under the risk ceiling: a zero-risk long/short spread earns a return; disable short sales or drop redundant assets")
		}
		step := math.Max(maxMu-p.mu[argMin(p.mu)], 1e-12)
		upper = base + step
		found := false
		for i := 0; i < maxBracketDoubling; i++ {
			_, ok, err := feasible(upper)
			if err != nil {
				return nil, err
			}
			if !ok {
				found = true
				break
			}
			step *= 2
			upper = base + step
		}
		if !found {
			return nil, domain.Infeasiblef("expected return is unbounded under the risk ceiling; disable short sales")
		}
	}

	lowR, best := base, gmv
	highR := upper
	for i := 0; i < bisectionSteps && highR-lowR > 1e-12*math.Max(1, math.Abs(highR)); i++ {
		mid := (lowR + highR) / 2
		w, ok, err := feasible(mid)
		if err != nil {
			return nil, err
		}
		if ok {
			lowR, best = mid, w
		} else {
			highR = mid
		}
	}
	return best, nil
}

// risklessSpread reports whether a zero-net position with zero variance
// still earns a return. With short sales allowed such a spread can be added
// in any size, so the best return under a risk ceiling does not exist.
func risklessSpread(p *problem) (bool, error) {
	var eig mat.EigenSym
	if !eig.Factorize(p.sigma, true) {
		return false, domain.SolverFailuref("covariance eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	maxEig := 0.0
	for _, v := range values {
		maxEig = math.Max(maxEig, v)
	}

	// project 1 and μ onto the riskless subspace
	var ones, rets []float64
	for j, v := range values {
		if v > spreadTolerance*maxEig {
			continue
		}
		u := mat.Col(nil, j, &vectors)
		sum := 0.0
		for _, x := range u {
			sum += x
		}
		ones = append(ones, sum)
		rets = append(rets, dot(u, p.mu))
	}
	if len(ones) == 0 {
		return false, nil
	}

	// a riskless direction that also sums to zero must not move the return
	if oo := dot(ones, ones); oo > 0 {
		k := dot(ones, rets) / oo
		for i := range rets {
			rets[i] -= k * ones[i]
		}
	}
	return maxAbs(rets) > 1e-8*maxAbs(p.mu), nil
}

// minVariance minimizes risk, optionally subject to μᵀw >= target
func (o *Optimizer) minVariance(p *problem, target *float64) ([]float64, error) {
	n := len(p.mu)

	var rows [][]float64
	var rhs []float64
	if target != nil {
		rows = append(rows, append([]float64(nil), p.mu...))
		rhs = append(rhs, *target)
	}
	if !p.allowShort {
		for i := 0; i < n; i++ {
			row := make([]float64, n)
			row[i] = 1
			rows = append(rows, row)
			rhs = append(rhs, 0)
		}
	}

	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}

	qp := QuadraticProgram{
		Q:     p.q,
		C:     make([]float64, n),
		Eq:    mat.NewDense(1, n, ones),
		EqRHS: []float64{1},
		Start: startingPoint(p, target),
	}
	if len(rows) > 0 {
		data := make([]float64, 0, len(rows)*n)
		for _, r := range rows {
			data = append(data, r...)
		}
		qp.Ineq = mat.NewDense(len(rows), n, data)
		qp.IneqRHS = rhs
	}

	sol, err := o.solver.Solve(qp)
	if err != nil {
		if isInfeasible(err) {
			return nil, err
		}
		return nil, domain.SolverFailuref("%v", err)
	}

	if target != nil && dot(p.mu, sol.X) < *target-returnTolerance*math.Max(1, math.Abs(*target)) {
		return nil, domain.SolverFailuref("solution return %.6g misses target %.6g", dot(p.mu, sol.X), *target)
	}
	return sol.X, nil
}

// startingPoint returns a feasible point: all weight on the highest
// expected return, levered against the lowest one when shorting is
// allowed and the target needs it.
func startingPoint(p *problem, target *float64) []float64 {
	n := len(p.mu)
	hi, lo := argMax(p.mu), argMin(p.mu)
	x := make([]float64, n)
	x[hi] = 1

	if target == nil || !p.allowShort || hi == lo {
		return x
	}
	spread := p.mu[hi] - p.mu[lo]
	if spread <= 0 || *target <= p.mu[hi] {
		return x
	}
	t := (*target-p.mu[hi])/spread + 1e-9
	x[hi] += t
	x[lo] -= t
	return x
}

// normalizeWeights clips negatives in long-only mode and rescales to sum 1
func normalizeWeights(w []float64, longOnly bool) ([]float64, error) {
	out := make([]float64, len(w))
	total := 0.0
	for i, v := range w {
		if longOnly && v < 0 {
			v = 0
		}
		out[i] = v
		total += v
	}
	if math.Abs(total) < weightSumTolerance || !formulas.IsFinite(total) {
		return nil, domain.SolverFailuref("weights sum to %g and cannot be normalized", total)
	}
	for i := range out {
		out[i] /= total
	}
	return out, nil
}

func variance(sigma *mat.SymDense, w []float64) float64 {
	v := mat.NewVecDense(len(w), append([]float64(nil), w...))
	return mat.Inner(v, sigma, v)
}

func portfolioStats(mu []float64, sigma *mat.SymDense, w []float64) (float64, float64) {
	return dot(mu, w), math.Sqrt(math.Max(variance(sigma, w), 0))
}

func argMax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func argMin(v []float64) int {
	best := 0
	for i := range v {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

// String renders a request target for logs
func (r Request) String() string {
	switch {
	case r.TargetReturn != nil:
		return fmt.Sprintf("target_return=%g", *r.TargetReturn)
	case r.TargetRisk != nil:
		return fmt.Sprintf("target_risk=%g", *r.TargetRisk)
	default:
		return "no target"
	}
}
