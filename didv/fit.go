package didv

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-tes/fit"
)

// dtScale is the typical magnitude of the response time offset.
const dtScale = 1e-6

// residualFunc returns a residual function comparing model(k, p) with the
// spectrum, real and imaginary parts interleaved.
func residualFunc(s *Spectrum, model func(w float64, p []float64) complex128) func(dst, p []float64) {
	return func(dst, p []float64) {
		for k, v := range s.Values {
			d := model(s.Omega(k), p) - v
			dst[2*k] = real(d) / s.Sigma[k]
			dst[2*k+1] = imag(d) / s.Sigma[k]
		}
	}
}

func checkSpectrum(s *Spectrum) error {
	if s == nil || s.Len() == 0 {
		return ErrNoBins
	}
	if len(s.Values) != len(s.Freqs) || len(s.Sigma) != len(s.Freqs) {
		return fmt.Errorf("%w: spectrum arrays differ in length", ErrTrace)
	}
	for _, sg := range s.Sigma {
		if !(sg > 0) {
			return fmt.Errorf("%w: non-positive bin uncertainty %g", ErrTrace, sg)
		}
	}
	return nil
}

// OnePoleFit is the result of a superconducting or normal-state fit.
type OnePoleFit struct {
	Rtot          float64 // total series resistance
	RtotErr       float64
	Inductance    float64
	InductanceErr float64
	Dt            float64

	Result *fit.Result
}

// onePoleGuess estimates (A, L) from the impedance 1/dIdV.
func onePoleGuess(s *Spectrum) (a, l float64) {
	for k, v := range s.Values {
		z := 1 / v
		a += real(z)
		l += imag(z) / s.Omega(k)
	}
	n := float64(s.Len())
	return a / n, l / n
}

// FitOnePole fits the superconducting-state model dI/dV = 1/(A + iωL),
// where A is the load resistance Rshunt + Rp.
func FitOnePole(s *Spectrum) (*OnePoleFit, error) {
	if err := checkSpectrum(s); err != nil {
		return nil, err
	}
	a0, l0 := onePoleGuess(s)

	res, err := fit.Solve(fit.Problem{
		Params: []fit.Param{
			{Name: "rtot", Value: a0, Vary: true},
			{Name: "L", Value: l0, Vary: true},
			{Name: "dt", Value: 0, Vary: true, Scale: dtScale},
		},
		NumResiduals: 2 * s.Len(),
		Residuals: residualFunc(s, func(w float64, p []float64) complex128 {
			return OnePole(w, p[0], p[1], p[2])
		}),
	})
	if err != nil {
		return nil, err
	}

	return &OnePoleFit{
		Rtot:          res.Value("rtot"),
		RtotErr:       res.Sigma("rtot"),
		Inductance:    res.Value("L"),
		InductanceErr: res.Sigma("L"),
		Dt:            res.Value("dt"),
		Result:        res,
	}, nil
}

// FitNormal fits the normal-state model dI/dV = 1/(rload + Rn + iωL) with
// the load resistance held fixed. Rtot of the result is rload + Rn.
func FitNormal(s *Spectrum, rload float64) (*OnePoleFit, error) {
	if err := checkSpectrum(s); err != nil {
		return nil, err
	}
	a0, l0 := onePoleGuess(s)
	rn0 := a0 - rload
	if !(rn0 > 0) {
		rn0 = a0
	}

	res, err := fit.Solve(fit.Problem{
		Params: []fit.Param{
			{Name: "rload", Value: rload},
			{Name: "rn", Value: rn0, Vary: true},
			{Name: "L", Value: l0, Vary: true},
			{Name: "dt", Value: 0, Vary: true, Scale: dtScale},
		},
		NumResiduals: 2 * s.Len(),
		Residuals: residualFunc(s, func(w float64, p []float64) complex128 {
			return OnePole(w, p[0]+p[1], p[2], p[3])
		}),
	})
	if err != nil {
		return nil, err
	}

	return &OnePoleFit{
		Rtot:          rload + res.Value("rn"),
		RtotErr:       res.Sigma("rn"),
		Inductance:    res.Value("L"),
		InductanceErr: res.Sigma("L"),
		Dt:            res.Value("dt"),
		Result:        res,
	}, nil
}

// TwoPoleFit holds the unconstrained two-pole coefficients.
type TwoPoleFit struct {
	A, B       float64
	Tau1, Tau2 float64
	Dt         float64

	Result *fit.Result
}

// twoPoleGuess estimates the two-pole coefficients from the impedance at
// the lowest and highest harmonics and the half-height of its real part.
func twoPoleGuess(s *Spectrum) (a, b, tau1, tau2 float64) {
	last := s.Len() - 1
	zHigh := 1 / s.Values[last]
	wHigh := s.Omega(last)
	a = real(zHigh)

	excess := real(1/s.Values[0]) - a
	tau1 = 1 / s.Omega(0)
	for k, v := range s.Values {
		if real(1/v)-a < excess/2 {
			tau1 = 1 / s.Omega(k)
			break
		}
	}
	x := s.Omega(0) * tau1
	b = excess * (1 + x*x)

	x = wHigh * tau1
	l := (imag(zHigh) + b*x/(1+x*x)) / wHigh
	if !(l > 0) {
		l = imag(zHigh) / wHigh
	}
	tau2 = l / a
	return a, b, tau1, tau2
}

// FitTwoPole fits the unconstrained two-pole model.
func FitTwoPole(s *Spectrum) (*TwoPoleFit, error) {
	if err := checkSpectrum(s); err != nil {
		return nil, err
	}
	a0, b0, tau10, tau20 := twoPoleGuess(s)

	res, err := fit.Solve(fit.Problem{
		Params: []fit.Param{
			{Name: "A", Value: a0, Vary: true},
			{Name: "B", Value: b0, Vary: true, Scale: math.Max(math.Abs(b0), math.Abs(a0))},
			{Name: "tau1", Value: tau10, Vary: true},
			{Name: "tau2", Value: tau20, Vary: true},
			{Name: "dt", Value: 0, Vary: true, Scale: dtScale},
		},
		NumResiduals: 2 * s.Len(),
		Residuals: residualFunc(s, func(w float64, p []float64) complex128 {
			return TwoPole(w, p[0], p[1], p[2], p[3], p[4])
		}),
	})
	if err != nil {
		return nil, err
	}

	return &TwoPoleFit{
		A:      res.Value("A"),
		B:      res.Value("B"),
		Tau1:   res.Value("tau1"),
		Tau2:   res.Value("tau2"),
		Dt:     res.Value("dt"),
		Result: res,
	}, nil
}

// IrwinNames orders the parameters of an [IrwinFit].
var IrwinNames = []string{"rload", "r0", "beta", "l", "L", "tau0", "dt"}

// IrwinFit is a two-pole fit expressed in small-signal parameters with
// Gaussian priors on the load and operating resistances.
type IrwinFit struct {
	Params Irwin
	Result *fit.Result
}

// TauEffErr propagates the covariance of the fit into the effective time
// constant to first order.
func (f *IrwinFit) TauEffErr() float64 {
	return propagate(f.Result, func(v []float64) float64 {
		return irwinFromVector(v).TauEff()
	})
}

func irwinFromVector(v []float64) Irwin {
	return Irwin{Rload: v[0], R0: v[1], Beta: v[2], LoopGain: v[3], Inductance: v[4], Tau0: v[5], Dt: v[6]}
}

// FitIrwin refines a two-pole fit in small-signal parameters. The prior
// means of rload and r0 also fix the starting point of the conversion.
func FitIrwin(s *Spectrum, start *TwoPoleFit, rload, r0 Estimate) (*IrwinFit, error) {
	if err := checkSpectrum(s); err != nil {
		return nil, err
	}
	guess, err := FromCoefficients(start.A, start.B, start.Tau1, start.Tau2, start.Dt, rload.Value, r0.Value)
	if err != nil {
		return nil, fmt.Errorf("didv: convert two-pole fit: %w", err)
	}
	prior, err := IrwinPrior(rload, r0)
	if err != nil {
		return nil, err
	}

	res, err := fit.Solve(fit.Problem{
		Params: []fit.Param{
			{Name: "rload", Value: guess.Rload, Vary: true},
			{Name: "r0", Value: guess.R0, Vary: true},
			{Name: "beta", Value: guess.Beta, Vary: true, Scale: math.Max(math.Abs(guess.Beta), 1)},
			{Name: "l", Value: guess.LoopGain, Vary: true, Scale: math.Max(math.Abs(guess.LoopGain), 0.1)},
			{Name: "L", Value: guess.Inductance, Vary: true},
			{Name: "tau0", Value: guess.Tau0, Vary: true},
			{Name: "dt", Value: guess.Dt, Vary: true, Scale: dtScale},
		},
		NumResiduals: 2 * s.Len(),
		Residuals: residualFunc(s, func(w float64, p []float64) complex128 {
			return irwinFromVector(p).Admittance(w)
		}),
		Prior: prior,
	})
	if err != nil {
		return nil, err
	}

	return &IrwinFit{Params: irwinFromVector(res.Values), Result: res}, nil
}

// PhysicalFit is the small-signal fit in physical units, the basis for
// noise-model uncertainty propagation.
type PhysicalFit struct {
	Params Physical
	Cov    *mat.SymDense // in PhysicalNames order
	Result *fit.Result
}

// TauEff returns the effective time constant of the fit.
func (f *PhysicalFit) TauEff() float64 { return f.Params.Irwin().TauEff() }

// TauEffErr propagates the fit covariance into the effective time constant.
func (f *PhysicalFit) TauEffErr() float64 {
	return propagate(f.Result, func(v []float64) float64 {
		return PhysicalFromVector(v).Irwin().TauEff()
	})
}

// FitPhysical fits rshunt·dI/dV with the eight physical parameters, under
// the correlated resistance prior, starting from start.
func FitPhysical(s *Spectrum, rshunt float64, start Physical, prior *fit.Prior) (*PhysicalFit, error) {
	if err := checkSpectrum(s); err != nil {
		return nil, err
	}
	data := s.Scaled(rshunt)
	v := start.Vector()

	params := make([]fit.Param, len(PhysicalNames))
	for i, name := range PhysicalNames {
		params[i] = fit.Param{Name: name, Value: v[i], Vary: true}
	}
	params[3].Scale = math.Max(math.Abs(v[3]), 1)
	params[4].Scale = math.Max(math.Abs(v[4]), 0.1)
	params[7].Scale = dtScale

	res, err := fit.Solve(fit.Problem{
		Params:       params,
		NumResiduals: 2 * data.Len(),
		Residuals: residualFunc(data, func(w float64, p []float64) complex128 {
			return PhysicalFromVector(p).Response(w)
		}),
		Prior: prior,
	})
	if err != nil {
		return nil, err
	}

	var chol mat.Cholesky
	if !chol.Factorize(res.Cov) {
		return nil, &fit.ConvergenceError{Reason: "physical-units covariance not positive definite"}
	}

	return &PhysicalFit{
		Params: PhysicalFromVector(res.Values),
		Cov:    res.Cov,
		Result: res,
	}, nil
}

// propagate returns the first-order standard error of f at the fitted
// parameters. The gradient is taken by central differences over the free
// parameters, each measured in units of its own magnitude.
func propagate(res *fit.Result, f func([]float64) float64) float64 {
	n := len(res.Values)
	scale := make([]float64, len(res.Free))
	for j, i := range res.Free {
		scale[j] = math.Max(math.Abs(res.Values[i]), 1e-12)
	}
	at := func(u []float64) float64 {
		v := append([]float64(nil), res.Values...)
		for j, i := range res.Free {
			v[i] = u[j] * scale[j]
		}
		return f(v)
	}
	u := make([]float64, len(res.Free))
	for j, i := range res.Free {
		u[j] = res.Values[i] / scale[j]
	}
	gu := fd.Gradient(nil, at, u, &fd.Settings{Formula: fd.Central, Step: 1e-6})

	grad := make([]float64, n)
	for j, i := range res.Free {
		grad[i] = gu[j] / scale[j]
	}
	g := mat.NewVecDense(n, grad)
	variance := mat.Inner(g, res.Cov, g)
	if variance < 0 || math.IsNaN(variance) {
		return math.NaN()
	}
	return math.Sqrt(variance)
}
