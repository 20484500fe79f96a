package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// LineResult is a weighted straight-line fit y = Intercept + Slope*x.
type LineResult struct {
	Slope        float64
	Intercept    float64
	SlopeErr     float64
	InterceptErr float64
	Covariance   float64 // cov(intercept, slope)
	ChiSquare    float64
}

// Line fits a straight line to (x, y) with per-point standard errors sigma.
// A nil sigma weights all points equally and the parameter errors are then
// scaled by the residual scatter.
func Line(x, y, sigma []float64) (LineResult, error) {
	n := len(x)
	if n < 2 || len(y) != n {
		return LineResult{}, fmt.Errorf("%w: line fit needs >= 2 paired points, got %d/%d", ErrInvalidProblem, len(x), len(y))
	}

	var weights []float64
	if sigma != nil {
		if len(sigma) != n {
			return LineResult{}, fmt.Errorf("%w: sigma has %d entries for %d points", ErrInvalidProblem, len(sigma), n)
		}
		weights = make([]float64, n)
		for i, s := range sigma {
			if !(s > 0) {
				return LineResult{}, &DegeneracyError{Param: fmt.Sprintf("sigma[%d]", i), Reason: fmt.Sprintf("value %g", s)}
			}
			weights[i] = 1 / (s * s)
		}
	}

	alpha, beta := stat.LinearRegression(x, y, weights, false)

	// Normal-equation sums for the parameter covariance.
	var s, sx, sxx float64
	for i := range x {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		s += w
		sx += w * x[i]
		sxx += w * x[i] * x[i]
	}
	det := s*sxx - sx*sx
	if det == 0 || math.IsNaN(det) {
		return LineResult{}, &DegeneracyError{Param: "slope", Reason: "all x values identical"}
	}

	chi2 := 0.0
	for i := range x {
		r := y[i] - alpha - beta*x[i]
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		chi2 += w * r * r
	}

	scale := 1.0
	if weights == nil {
		if n > 2 {
			scale = chi2 / float64(n-2)
		} else {
			scale = 0
		}
	}

	return LineResult{
		Slope:        beta,
		Intercept:    alpha,
		SlopeErr:     math.Sqrt(scale * s / det),
		InterceptErr: math.Sqrt(scale * sxx / det),
		Covariance:   -scale * sx / det,
		ChiSquare:    chi2,
	}, nil
}
