package optimization

import (
	"errors"
	"fmt"
	"math"

	"github.com/aristath/frontier/internal/domain"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// QuadraticProgram describes
//
//	minimize   1/2 xᵀQx + cᵀx
//	subject to Eq x = EqRHS
//	           Ineq x >= IneqRHS
//
// Start must satisfy every constraint.
type QuadraticProgram struct {
	Q       *mat.SymDense
	C       []float64
	Eq      *mat.Dense
	EqRHS   []float64
	Ineq    *mat.Dense
	IneqRHS []float64
	Start   []float64
}

// Solution is the optimum found by a QPSolver
type Solution struct {
	X          []float64
	Objective  float64
	Iterations int
}

// QPSolver solves convex quadratic programs. Implementations report an
// empty feasible region with an error wrapping domain.ErrInfeasible; any
// other error is treated as a numerical failure.
type QPSolver interface {
	Solve(qp QuadraticProgram) (Solution, error)
}

// ErrIterationLimit is returned when the active set does not settle
var ErrIterationLimit = errors.New("active-set iteration limit reached")

// ErrUnbounded is returned when the objective decreases without limit
var ErrUnbounded = errors.New("quadratic program is unbounded below")

const (
	// curvatureTolerance is the relative eigenvalue below which a reduced
	// Hessian direction is treated as flat
	curvatureTolerance = 1e-10
	// rankTolerance is the relative singular value below which a working
	// set row adds no rank
	rankTolerance = 1e-10
	// blockingTolerance is the relative cosine a constraint needs against
	// the step before it can block it
	blockingTolerance = 1e-12
)

// ActiveSetSolver is a dense primal active-set method for convex problems
// (Q positive semidefinite). Each iteration minimizes over the null space
// of the working set; directions without curvature are followed as rays
// with an exact line search. Entering and leaving constraints are chosen
// by lowest index, which keeps degenerate vertices from cycling.
type ActiveSetSolver struct {
	MaxIterations int
	Tolerance     float64
}

// NewActiveSetSolver creates a solver with default limits
func NewActiveSetSolver() *ActiveSetSolver {
	return &ActiveSetSolver{MaxIterations: 0, Tolerance: 1e-10}
}

type linearConstraint struct {
	a        []float64
	b        float64
	equality bool
}

// Solve runs the active-set iteration from qp.Start
func (s *ActiveSetSolver) Solve(qp QuadraticProgram) (Solution, error) {
	if qp.Q == nil {
		return Solution{}, fmt.Errorf("quadratic term is required")
	}
	n := qp.Q.SymmetricDim()
	if len(qp.Start) != n {
		return Solution{}, fmt.Errorf("start point has %d entries, want %d", len(qp.Start), n)
	}
	c := qp.C
	if c == nil {
		c = make([]float64, n)
	}
	if len(c) != n {
		return Solution{}, fmt.Errorf("linear term has %d entries, want %d", len(c), n)
	}

	constraints, err := collectConstraints(qp, n)
	if err != nil {
		return Solution{}, err
	}

	tol := s.Tolerance
	if tol <= 0 {
		tol = 1e-10
	}
	maxIter := s.MaxIterations
	if maxIter <= 0 {
		maxIter = 100*(n+len(constraints)) + 200
	}

	x := append([]float64(nil), qp.Start...)
	for i, con := range constraints {
		r := dot(con.a, x) - con.b
		if (con.equality && math.Abs(r) > 1e-8) || (!con.equality && r < -1e-8) {
			return Solution{}, fmt.Errorf("start point violates constraint %d by %g", i, r)
		}
	}

	working := make([]int, 0, len(constraints))
	inWorking := make([]bool, len(constraints))
	for i, con := range constraints {
		if con.equality {
			working = append(working, i)
			inWorking[i] = true
		}
	}

	for iter := 1; iter <= maxIter; iter++ {
		g := gradient(qp.Q, c, x)
		p, ray, err := subproblemStep(qp.Q, constraints, working, g, tol)
		if err != nil {
			return Solution{}, err
		}

		if p == nil {
			lambda, err := multipliers(constraints, working, g)
			if err != nil {
				return Solution{}, err
			}
			dualTol := tol * (1 + maxAbs(g))
			drop := -1
			for k, idx := range working {
				if constraints[idx].equality || lambda[k] >= -dualTol {
					continue
				}
				if drop < 0 || idx < working[drop] {
					drop = k
				}
			}
			if drop < 0 {
				return Solution{X: x, Objective: objective(qp.Q, c, x), Iterations: iter}, nil
			}
			inWorking[working[drop]] = false
			working = append(working[:drop], working[drop+1:]...)
			continue
		}

		alpha := 1.0
		if ray {
			alpha = exactLineStep(qp.Q, g, p)
		}
		block := -1
		pNorm := floats.Norm(p, 2)
		for i, con := range constraints {
			if con.equality || inWorking[i] {
				continue
			}
			ap := dot(con.a, p)
			if ap >= -blockingTolerance*floats.Norm(con.a, 2)*pNorm {
				continue
			}
			ratio := (con.b - dot(con.a, x)) / ap
			if ratio < 0 {
				ratio = 0
			}
			if ratio < alpha {
				alpha, block = ratio, i
			}
		}
		if math.IsInf(alpha, 1) {
			return Solution{}, ErrUnbounded
		}

		for i := range x {
			x[i] += alpha * p[i]
		}
		if block >= 0 {
			working = append(working, block)
			inWorking[block] = true
		}
	}

	return Solution{}, fmt.Errorf("%w after %d iterations", ErrIterationLimit, maxIter)
}

// subproblemStep minimizes the model over the null space of the working
// set. It returns a nil step at a stationary point. Curved directions get
// the pseudo-inverse Newton step; a gradient left on flat directions is
// returned as a ray instead.
func subproblemStep(q *mat.SymDense, constraints []linearConstraint, working []int, g []float64, tol float64) ([]float64, bool, error) {
	n := len(g)
	z, err := nullSpace(constraints, working, n)
	if err != nil {
		return nil, false, err
	}
	if z == nil {
		return nil, false, nil
	}
	_, k := z.Dims()

	gz := make([]float64, k)
	for j := 0; j < k; j++ {
		for i := 0; i < n; i++ {
			gz[j] += z.At(i, j) * g[i]
		}
	}
	gTol := tol * (1 + maxAbs(g))
	if maxAbs(gz) <= gTol {
		return nil, false, nil
	}

	var qz, h mat.Dense
	qz.Mul(q, z)
	h.Mul(z.T(), &qz)
	reduced := mat.NewSymDense(k, nil)
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			reduced.SetSym(i, j, (h.At(i, j)+h.At(j, i))/2)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(reduced, true) {
		return nil, false, errors.New("reduced Hessian eigendecomposition failed")
	}
	values := eig.Values(nil)
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	maxEig := 0.0
	for _, v := range values {
		maxEig = math.Max(maxEig, v)
	}
	floor := curvatureTolerance * maxEig

	newton := make([]float64, k)
	flat := make([]float64, k)
	for j, lambda := range values {
		u := mat.Col(nil, j, &vectors)
		proj := dot(u, gz)
		if lambda > floor && lambda > 0 {
			floats.AddScaled(newton, -proj/lambda, u)
		} else {
			floats.AddScaled(flat, -proj, u)
		}
	}

	dir, ray := newton, false
	if maxAbs(flat) > gTol {
		dir, ray = flat, true
	}

	p := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			p[i] += z.At(i, j) * dir[j]
		}
	}
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false, errors.New("subproblem produced a non-finite step")
		}
	}
	return p, ray, nil
}

// exactLineStep minimizes the objective along a descent ray; a ray without
// curvature has no minimizer and returns +Inf
func exactLineStep(q *mat.SymDense, g, p []float64) float64 {
	pv := mat.NewVecDense(len(p), append([]float64(nil), p...))
	curvature := mat.Inner(pv, q, pv)
	slope := dot(g, p)
	if curvature <= 0 || slope >= 0 {
		return math.Inf(1)
	}
	return -slope / curvature
}

// nullSpace returns an orthonormal basis of {p : a·p = 0 for a in the
// working set}, or nil when only the zero vector remains
func nullSpace(constraints []linearConstraint, working []int, n int) (*mat.Dense, error) {
	if len(working) == 0 {
		z := mat.NewDense(n, n, nil)
		for i := 0; i < n; i++ {
			z.Set(i, i, 1)
		}
		return z, nil
	}

	a := mat.NewDense(len(working), n, nil)
	for r, idx := range working {
		a.SetRow(r, constraints[idx].a)
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return nil, errors.New("working set factorization failed")
	}
	values := svd.Values(nil)
	rank := 0
	for _, v := range values {
		if v > rankTolerance*values[0] {
			rank++
		}
	}
	if rank >= n {
		return nil, nil
	}

	var v mat.Dense
	svd.VTo(&v)
	return mat.DenseCopyOf(v.Slice(0, n, rank, n)), nil
}

// multipliers solves Aᵀλ = g in the least-squares sense for the working set
func multipliers(constraints []linearConstraint, working []int, g []float64) ([]float64, error) {
	n, m := len(g), len(working)
	if m == 0 {
		return nil, nil
	}

	at := mat.NewDense(n, m, nil)
	for r, idx := range working {
		at.SetCol(r, constraints[idx].a)
	}

	var lambda mat.VecDense
	if err := lambda.SolveVec(at, mat.NewVecDense(n, append([]float64(nil), g...))); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("multiplier solve: %w", err)
		}
	}

	out := make([]float64, m)
	for i := range out {
		out[i] = lambda.AtVec(i)
	}
	return out, nil
}

func collectConstraints(qp QuadraticProgram, n int) ([]linearConstraint, error) {
	var out []linearConstraint
	add := func(m *mat.Dense, rhs []float64, equality bool) error {
		if m == nil {
			return nil
		}
		rows, cols := m.Dims()
		if cols != n || len(rhs) != rows {
			return fmt.Errorf("constraint block is %dx%d with %d bounds, want %d columns", rows, cols, len(rhs), n)
		}
		for r := 0; r < rows; r++ {
			out = append(out, linearConstraint{
				a:        mat.Row(nil, r, m),
				b:        rhs[r],
				equality: equality,
			})
		}
		return nil
	}
	if err := add(qp.Eq, qp.EqRHS, true); err != nil {
		return nil, err
	}
	if err := add(qp.Ineq, qp.IneqRHS, false); err != nil {
		return nil, err
	}
	return out, nil
}

func gradient(q *mat.SymDense, c, x []float64) []float64 {
	var qx mat.VecDense
	qx.MulVec(q, mat.NewVecDense(len(x), append([]float64(nil), x...)))
	g := make([]float64, len(x))
	for i := range g {
		g[i] = qx.AtVec(i) + c[i]
	}
	return g
}

func objective(q *mat.SymDense, c, x []float64) float64 {
	xv := mat.NewVecDense(len(x), append([]float64(nil), x...))
	return 0.5*mat.Inner(xv, q, xv) + dot(c, x)
}

func dot(a, b []float64) float64 {
	total := 0.0
	for i := range a {
		total += a[i] * b[i]
	}
	return total
}

func maxAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// isInfeasible reports whether a solver error means an empty feasible region
func isInfeasible(err error) bool {
	return errors.Is(err, domain.ErrInfeasible)
}
