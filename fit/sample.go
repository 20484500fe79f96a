package fit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Sampler draws from a multivariate normal distribution. The covariance is
// factorised in correlation form (scaled by the outer product of inverse
// standard deviations), which keeps the factorisation well conditioned
// when the parameters differ by many orders of magnitude.
type Sampler struct {
	names []string
	mean  []float64
	sd    []float64
	l     mat.TriDense
	z     []float64
}

// NewSampler prepares sampling from N(mean, cov). A parameter with zero
// variance, or a correlation matrix that is not positive definite, yields a
// DegeneracyError naming the offending parameter.
func NewSampler(names []string, mean []float64, cov mat.Symmetric) (*Sampler, error) {
	n := len(names)
	if len(mean) != n || cov == nil || cov.SymmetricDim() != n {
		return nil, fmt.Errorf("%w: sampler needs %d means and a %dx%d covariance", ErrInvalidProblem, n, n, n)
	}

	sd := make([]float64, n)
	for i := range n {
		v := cov.At(i, i)
		if !(v > 0) || math.IsInf(v, 0) {
			return nil, &DegeneracyError{Param: names[i], Reason: fmt.Sprintf("variance %g", v)}
		}
		sd[i] = math.Sqrt(v)
	}

	corr := mat.NewSymDense(n, nil)
	for i := range n {
		for j := i; j < n; j++ {
			corr.SetSym(i, j, cov.At(i, j)/(sd[i]*sd[j]))
		}
	}

	s := &Sampler{
		names: names,
		mean:  append([]float64(nil), mean...),
		sd:    sd,
		z:     make([]float64, n),
	}
	var chol mat.Cholesky
	if !chol.Factorize(corr) {
		return nil, &DegeneracyError{Param: names[firstSingularMinor(corr)], Reason: "covariance not positive definite"}
	}
	chol.LTo(&s.l)
	return s, nil
}

// Dim returns the dimension of the distribution.
func (s *Sampler) Dim() int { return len(s.mean) }

// Names returns the parameter names in sample order.
func (s *Sampler) Names() []string { return s.names }

// Sample writes one draw into dst, which must have length Dim.
func (s *Sampler) Sample(rng *rand.Rand, dst []float64) {
	for i := range s.z {
		s.z[i] = rng.NormFloat64()
	}
	for i := range dst {
		acc := 0.0
		for j := 0; j <= i; j++ {
			acc += s.l.At(i, j) * s.z[j]
		}
		dst[i] = s.mean[i] + s.sd[i]*acc
	}
}
