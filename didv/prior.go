package didv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-tes/fit"
)

// ResistanceCorrelation holds the correlation coefficients assumed between
// the shunt, parasitic and operating resistances. The three are estimated
// from overlapping data, so they are not independent; the coefficients are
// a modelling choice rather than a derived quantity.
type ResistanceCorrelation struct {
	ShuntParasitic     float64
	ShuntOperating     float64
	ParasiticOperating float64
}

// DefaultResistanceCorrelation returns the conventional coefficients
// (0.5, 0.5, -0.2).
func DefaultResistanceCorrelation() ResistanceCorrelation {
	return ResistanceCorrelation{
		ShuntParasitic:     0.5,
		ShuntOperating:     0.5,
		ParasiticOperating: -0.2,
	}
}

// Matrix returns the 3x3 correlation matrix in (shunt, parasitic,
// operating) order.
func (c ResistanceCorrelation) Matrix() *mat.SymDense {
	return mat.NewSymDense(3, []float64{
		1, c.ShuntParasitic, c.ShuntOperating,
		c.ShuntParasitic, 1, c.ParasiticOperating,
		c.ShuntOperating, c.ParasiticOperating, 1,
	})
}

// Validate reports whether the correlation matrix is positive definite.
func (c ResistanceCorrelation) Validate() error {
	for _, v := range []float64{c.ShuntParasitic, c.ShuntOperating, c.ParasiticOperating} {
		if math.IsNaN(v) || math.Abs(v) >= 1 {
			return &fit.DegeneracyError{Param: "resistance correlation", Reason: fmt.Sprintf("coefficient %g outside (-1, 1)", v)}
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(c.Matrix()) {
		return &fit.DegeneracyError{Param: "resistance correlation", Reason: "matrix not positive definite"}
	}
	return nil
}

// Estimate is a value with its standard error.
type Estimate struct {
	Value float64
	Err   float64
}

// ResistancePrior collects the resistance estimates entering the
// physical-units fit.
type ResistancePrior struct {
	Rshunt Estimate
	Rp     Estimate
	R0     Estimate
}

// PhysicalPrior builds the correlated Gaussian prior on (rshunt, rp, r0):
// Cov[i][j] = ρ_ij σ_i σ_j.
func PhysicalPrior(est ResistancePrior, corr ResistanceCorrelation) (*fit.Prior, error) {
	if err := corr.Validate(); err != nil {
		return nil, err
	}
	names := PhysicalNames[:3]
	mean := []float64{est.Rshunt.Value, est.Rp.Value, est.R0.Value}
	sigma := []float64{est.Rshunt.Err, est.Rp.Err, est.R0.Err}
	for i, s := range sigma {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, &fit.DegeneracyError{Param: names[i], Reason: fmt.Sprintf("prior sigma %g", s)}
		}
	}

	rho := corr.Matrix()
	cov := mat.NewSymDense(3, nil)
	for i := range 3 {
		for j := i; j < 3; j++ {
			cov.SetSym(i, j, rho.At(i, j)*sigma[i]*sigma[j])
		}
	}
	return fit.NewPrior(append([]string(nil), names...), mean, cov)
}

// IrwinPrior builds the uncorrelated prior on (rload, r0) used by the
// first transition fit.
func IrwinPrior(rload, r0 Estimate) (*fit.Prior, error) {
	return fit.DiagonalPrior(
		[]string{"rload", "r0"},
		[]float64{rload.Value, r0.Value},
		[]float64{rload.Err, r0.Err},
	)
}
