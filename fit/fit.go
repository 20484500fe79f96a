package fit

import (
	"fmt"
	"math"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/mat"
)

const defaultIterations = 1000

// Param is a single named model parameter.
type Param struct {
	Name  string
	Value float64 // initial guess, or the held value when Vary is false
	Vary  bool
	Scale float64 // typical magnitude; zero uses |Value|, or 1 when Value is zero
}

// Problem is a weighted nonlinear least-squares problem.
//
// Residuals receives the full parameter vector (fixed and free, in the
// order of Params) and must fill dst with NumResiduals weighted residuals
// (model - data) / sigma.
type Problem struct {
	Params       []Param
	NumResiduals int
	Residuals    func(dst, p []float64)
	Prior        *Prior
	Iterations   int
}

// Result holds a converged fit.
type Result struct {
	Names  []string
	Values []float64 // full parameter vector
	Free   []int     // indices into Values of the varied parameters

	// Cov is the covariance of the full parameter vector; rows and columns
	// of fixed parameters are zero.
	Cov *mat.SymDense

	ChiSquare      float64 // data residual sum of squares
	PriorChiSquare float64 // whitened prior pseudo-residual sum of squares
	DOF            int
}

// Index returns the position of the named parameter, or -1.
func (r *Result) Index(name string) int {
	for i, n := range r.Names {
		if n == name {
			return i
		}
	}
	return -1
}

// Value returns the fitted value of the named parameter (NaN if unknown).
func (r *Result) Value(name string) float64 {
	i := r.Index(name)
	if i < 0 {
		return math.NaN()
	}
	return r.Values[i]
}

// Sigma returns the standard error of the named parameter (NaN if unknown).
func (r *Result) Sigma(name string) float64 {
	i := r.Index(name)
	if i < 0 {
		return math.NaN()
	}
	return math.Sqrt(r.Cov.At(i, i))
}

// ReducedChiSquare returns ChiSquare / DOF, or NaN when DOF <= 0.
func (r *Result) ReducedChiSquare() float64 {
	if r.DOF <= 0 {
		return math.NaN()
	}
	return r.ChiSquare / float64(r.DOF)
}

// Solve runs Levenberg-Marquardt on the free parameters of p.
func Solve(p Problem) (*Result, error) {
	if p.Residuals == nil || p.NumResiduals <= 0 {
		return nil, fmt.Errorf("%w: no residuals", ErrInvalidProblem)
	}

	n := len(p.Params)
	names := make([]string, n)
	base := make([]float64, n)
	scale := make([]float64, n)
	var free []int
	for i, prm := range p.Params {
		names[i] = prm.Name
		base[i] = prm.Value
		scale[i] = paramScale(prm)
		if prm.Vary {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return nil, fmt.Errorf("%w: no free parameters", ErrInvalidProblem)
	}

	prior, err := bindPrior(p.Prior, names)
	if err != nil {
		return nil, err
	}

	m := p.NumResiduals
	size := m + prior.len()
	if size < len(free) {
		return nil, fmt.Errorf("%w: %d residuals for %d free parameters", ErrInvalidProblem, size, len(free))
	}

	// The numerical Jacobian evaluates residuals concurrently, so every
	// call expands into its own buffer.
	expand := func(x []float64) []float64 {
		full := make([]float64, n)
		copy(full, base)
		for k, idx := range free {
			full[idx] = x[k] * scale[idx]
		}
		return full
	}

	residuals := func(dst, x []float64) {
		params := expand(x)
		p.Residuals(dst[:m], params)
		prior.residuals(dst[m:], params)
	}

	x0 := make([]float64, len(free))
	for k, idx := range free {
		x0[k] = base[idx] / scale[idx]
	}

	iterations := p.Iterations
	if iterations <= 0 {
		iterations = defaultIterations
	}

	jac := lm.NumJac{Func: residuals}
	problem := lm.LMProblem{
		Dim:        len(free),
		Size:       size,
		Func:       residuals,
		Jac:        jac.Jac,
		InitParams: x0,
		Tau:        1e-3,
		Eps1:       1e-12,
		Eps2:       1e-12,
	}

	sol, err := runLM(problem, &lm.Settings{Iterations: iterations, ObjectiveTol: 1e-30})
	if err != nil {
		return nil, convergenceErr("levenberg-marquardt", err)
	}

	x := sol.X
	for k, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, convergenceErr(fmt.Sprintf("non-finite %s", names[free[k]]), nil)
		}
	}

	res := make([]float64, size)
	residuals(res, x)
	chi2, priorChi2 := 0.0, 0.0
	for i, v := range res {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, convergenceErr("non-finite residual at solution", nil)
		}
		if i < m {
			chi2 += v * v
		} else {
			priorChi2 += v * v
		}
	}

	J := mat.NewDense(size, len(free), nil)
	jac.Jac(J, x)

	var jtj mat.SymDense
	jtj.SymOuterK(1, J.T())

	var chol mat.Cholesky
	if !chol.Factorize(&jtj) {
		return nil, convergenceErr("covariance not positive definite", nil)
	}
	var covX mat.SymDense
	if err := chol.InverseTo(&covX); err != nil {
		return nil, convergenceErr("covariance inversion", err)
	}

	cov := mat.NewSymDense(n, nil)
	for a, ia := range free {
		for b := a; b < len(free); b++ {
			ib := free[b]
			cov.SetSym(ia, ib, covX.At(a, b)*scale[ia]*scale[ib])
		}
	}

	values := make([]float64, n)
	copy(values, expand(x))

	return &Result{
		Names:          names,
		Values:         values,
		Free:           free,
		Cov:            cov,
		ChiSquare:      chi2,
		PriorChiSquare: priorChi2,
		DOF:            m - len(free),
	}, nil
}

// runLM calls lm.LM, which panics when a damped step is singular.
func runLM(problem lm.LMProblem, set *lm.Settings) (res *lm.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("step: %v", r)
		}
	}()
	return lm.LM(problem, set)
}

func paramScale(p Param) float64 {
	if p.Scale > 0 {
		return p.Scale
	}
	if a := math.Abs(p.Value); a > 0 {
		return a
	}
	return 1
}

// boundPrior is a prior resolved against a problem's parameter order.
type boundPrior struct {
	idx  []int
	mean []float64
	w    *mat.TriDense
}

func bindPrior(p *Prior, names []string) (*boundPrior, error) {
	if p == nil {
		return nil, nil
	}

	idx := make([]int, len(p.Names))
	for i, name := range p.Names {
		idx[i] = -1
		for j, n := range names {
			if n == name {
				idx[i] = j
				break
			}
		}
		if idx[i] < 0 {
			return nil, fmt.Errorf("%w: prior on unknown parameter %q", ErrInvalidProblem, name)
		}
	}

	w, err := p.whitener()
	if err != nil {
		return nil, err
	}

	return &boundPrior{idx: idx, mean: p.Mean, w: w}, nil
}

func (b *boundPrior) len() int {
	if b == nil {
		return 0
	}
	return len(b.idx)
}

func (b *boundPrior) residuals(dst, params []float64) {
	if b == nil {
		return
	}
	d := make([]float64, len(b.idx))
	for i, j := range b.idx {
		d[i] = params[j] - b.mean[i]
	}
	// W is lower triangular.
	for i := range b.idx {
		s := 0.0
		for j := 0; j <= i; j++ {
			s += b.w.At(i, j) * d[j]
		}
		dst[i] = s
	}
}
