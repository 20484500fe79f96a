package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Prior is a multivariate Gaussian prior on a subset of the parameters of a
// [Problem], addressed by name.
type Prior struct {
	Names []string
	Mean  []float64
	Cov   *mat.SymDense
}

// NewPrior validates the dimensions of a prior.
func NewPrior(names []string, mean []float64, cov *mat.SymDense) (*Prior, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: empty prior", ErrInvalidProblem)
	}
	if len(mean) != len(names) {
		return nil, fmt.Errorf("%w: prior mean has %d entries for %d names", ErrInvalidProblem, len(mean), len(names))
	}
	if cov == nil || cov.SymmetricDim() != len(names) {
		return nil, fmt.Errorf("%w: prior covariance must be %dx%d", ErrInvalidProblem, len(names), len(names))
	}
	return &Prior{Names: names, Mean: mean, Cov: cov}, nil
}

// DiagonalPrior builds an uncorrelated prior from marginal standard deviations.
func DiagonalPrior(names []string, mean, sigma []float64) (*Prior, error) {
	if len(sigma) != len(names) {
		return nil, fmt.Errorf("%w: prior sigma has %d entries for %d names", ErrInvalidProblem, len(sigma), len(names))
	}
	cov := mat.NewSymDense(len(names), nil)
	for i, s := range sigma {
		cov.SetSym(i, i, s*s)
	}
	return NewPrior(names, mean, cov)
}

// Sigma returns the marginal standard deviation of the i-th prior entry.
func (p *Prior) Sigma(i int) float64 {
	return math.Sqrt(p.Cov.At(i, i))
}

// whitener returns W = L^-1 where Cov = L L^T, so that W (x - mean) has
// unit covariance.
func (p *Prior) whitener() (*mat.TriDense, error) {
	n := len(p.Names)
	for i, name := range p.Names {
		v := p.Cov.At(i, i)
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, &DegeneracyError{Param: name, Reason: fmt.Sprintf("variance %g", v)}
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(p.Cov) {
		return nil, &DegeneracyError{Param: p.Names[firstSingularMinor(p.Cov)], Reason: "prior covariance not positive definite"}
	}

	var l, w mat.TriDense
	chol.LTo(&l)
	if err := w.InverseTri(&l); err != nil {
		return nil, &DegeneracyError{Param: p.Names[n-1], Reason: err.Error()}
	}
	return &w, nil
}

// firstSingularMinor returns the index of the first leading principal
// sub-block that fails a Cholesky factorisation.
func firstSingularMinor(cov *mat.SymDense) int {
	n := cov.SymmetricDim()
	for k := 1; k <= n; k++ {
		var chol mat.Cholesky
		if !chol.Factorize(cov.SliceSym(0, k)) {
			return k - 1
		}
	}
	return n - 1
}
