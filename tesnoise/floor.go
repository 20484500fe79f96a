package tesnoise

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/cwbudde/algo-tes/fit"
)

// ErrFitRange is returned when a fit range holds too few usable bins.
var ErrFitRange = errors.New("tesnoise: fit range holds too few bins")

// NormalNoise is the current noise of a sensor in the normal state:
// Johnson noise of the load at tload and of Rn at tc, filtered by the
// normal-state admittance, plus the SQUID floor.
func NormalNoise(f float64, sq Squid, rload, tload, rn, tc, inductance float64) float64 {
	h := cmplx.Abs(1 / complex(rload+rn, 2*math.Pi*f*inductance))
	sv := 4 * Boltzmann * (tload*rload + tc*rn)
	return sv*h*h + sq.PSD(f)
}

// SCNoise is the current noise of a superconducting sensor: Johnson noise
// of the load plus the SQUID floor.
func SCNoise(f float64, sq Squid, rload, tload, inductance float64) float64 {
	h := cmplx.Abs(1 / complex(rload, 2*math.Pi*f*inductance))
	return 4*Boltzmann*tload*rload*h*h + sq.PSD(f)
}

// Range is a closed frequency interval in Hz.
type Range struct {
	Low, High float64
}

// bins returns the half-open index range of the bins nearest r.Low and
// r.High.
func (r Range) bins(freqs []float64) (lo, hi int) {
	return nearest(freqs, r.Low), nearest(freqs, r.High)
}

func nearest(freqs []float64, f float64) int {
	best, idx := math.Inf(1), 0
	for i, v := range freqs {
		if d := math.Abs(v - f); d < best {
			best, idx = d, i
		}
	}
	return idx
}

// fitData returns the flattened PSD restricted to r, without bins that
// cannot carry a relative residual.
func fitData(freqs, psd []float64, r Range, minBins int) (f, y []float64, err error) {
	if len(freqs) != len(psd) {
		return nil, nil, fmt.Errorf("tesnoise: %d frequencies for %d PSD bins", len(freqs), len(psd))
	}
	flat := FlattenPSD(freqs, psd)
	lo, hi := r.bins(freqs)
	for i := lo; i < hi; i++ {
		if freqs[i] > 0 && flat[i] > 0 && !math.IsInf(flat[i], 0) {
			f = append(f, freqs[i])
			y = append(y, flat[i])
		}
	}
	if len(f) < minBins {
		return nil, nil, fmt.Errorf("%w: %d in [%g, %g] Hz", ErrFitRange, len(f), r.Low, r.High)
	}
	return f, y, nil
}

// NormalCircuit holds the fixed inputs of the normal-state noise fit.
type NormalCircuit struct {
	Rload      float64
	Rn         float64
	Tc         float64
	Inductance float64
}

// SquidFit is the result of a normal-state noise fit.
type SquidFit struct {
	Squid  Squid
	Result *fit.Result
}

// FitNormal fits the SQUID floor to a normal-state PSD over r, holding the
// load temperature at zero and the circuit fixed. Residuals are relative to
// the flattened PSD.
func FitNormal(freqs, psd []float64, c NormalCircuit, guess Squid, r Range) (*SquidFit, error) {
	f, y, err := fitData(freqs, psd, r, 4)
	if err != nil {
		return nil, err
	}

	res, err := fit.Solve(fit.Problem{
		Params: []fit.Param{
			{Name: "squiddc", Value: guess.DC, Vary: true},
			{Name: "squidpole", Value: guess.Pole, Vary: true},
			{Name: "squidn", Value: guess.N, Vary: true},
		},
		NumResiduals: len(f),
		Residuals: func(dst, p []float64) {
			sq := Squid{DC: p[0], Pole: math.Abs(p[1]), N: p[2]}
			for i, fi := range f {
				m := NormalNoise(fi, sq, c.Rload, 0, c.Rn, c.Tc, c.Inductance)
				dst[i] = (m - y[i]) / y[i]
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &SquidFit{
		Squid:  Squid{DC: math.Abs(res.Value("squiddc")), Pole: math.Abs(res.Value("squidpole")), N: res.Value("squidn")},
		Result: res,
	}, nil
}

// LoadFit is the result of a superconducting-state noise fit.
type LoadFit struct {
	Tload  float64
	Result *fit.Result
}

// FitSC fits the load temperature to a superconducting PSD over r with the
// SQUID floor fixed.
func FitSC(freqs, psd []float64, sq Squid, rload, inductance, tload0 float64, r Range) (*LoadFit, error) {
	f, y, err := fitData(freqs, psd, r, 2)
	if err != nil {
		return nil, err
	}

	res, err := fit.Solve(fit.Problem{
		Params:       []fit.Param{{Name: "tload", Value: tload0, Vary: true}},
		NumResiduals: len(f),
		Residuals: func(dst, p []float64) {
			for i, fi := range f {
				dst[i] = (SCNoise(fi, sq, rload, p[0], inductance) - y[i]) / y[i]
			}
		},
	})
	if err != nil {
		return nil, err
	}
	return &LoadFit{Tload: res.Value("tload"), Result: res}, nil
}
