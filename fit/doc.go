// Package fit provides the nonlinear least-squares machinery used by the
// sweep analysis stages.
//
// A [Problem] is a residual function over a named parameter vector where
// each parameter can be held fixed or left free. Free parameters are
// optimised with Levenberg-Marquardt in scaled coordinates (each parameter
// divided by its typical magnitude), which keeps the numerical Jacobian
// well conditioned when parameters differ by many orders of magnitude, as
// resistances (mOhm), inductances (nH) and time constants (us) do.
//
// An optional Gaussian [Prior] on a subset of the parameters is folded in as
// whitened pseudo-residuals, so the returned covariance is the posterior
// covariance of the free parameters:
//
//	Cov = (J^T J)^-1,  J = d[residuals; L^-1 (p - mu)] / dp
//
// # Usage
//
//	res, err := fit.Solve(fit.Problem{
//	    Params: []fit.Param{
//	        {Name: "a", Value: 1, Vary: true},
//	        {Name: "tau", Value: 1e-4, Vary: true},
//	    },
//	    NumResiduals: len(y),
//	    Residuals: func(dst, p []float64) {
//	        for i := range y {
//	            dst[i] = p[0]*math.Exp(-x[i]/p[1]) - y[i]
//	        }
//	    },
//	})
package fit
