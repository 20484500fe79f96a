package tesnoise

import (
	"errors"
	"fmt"
	"math"
)

// ErrResolution is returned for inputs that admit no energy resolution.
var ErrResolution = errors.New("tesnoise: invalid energy resolution input")

// EnergyResolution estimates the baseline resolution in eV of an optimal
// filter on a sensor with power noise sp (W²/Hz) at the uniformly spaced
// frequencies freqs, for a phonon collection time tauCollect and a
// collection efficiency eff:
//
//	σE = (Σ 4Δf / (Sp (1 + (2πfτ)²)))^(-1/2) / eff
func EnergyResolution(freqs, sp []float64, tauCollect, eff float64) (float64, error) {
	if len(freqs) < 2 || len(freqs) != len(sp) {
		return 0, fmt.Errorf("%w: %d frequencies, %d PSD bins", ErrResolution, len(freqs), len(sp))
	}
	if !(eff > 0) {
		return 0, fmt.Errorf("%w: collection efficiency %g", ErrResolution, eff)
	}
	df := freqs[1] - freqs[0]
	if !(df > 0) {
		return 0, fmt.Errorf("%w: frequency step %g", ErrResolution, df)
	}

	sum := 0.0
	for i, f := range freqs {
		x := 2 * math.Pi * f * tauCollect
		sum += 4 * df / (sp[i] * (1 + x*x))
	}
	if !(sum > 0) || math.IsInf(sum, 0) {
		return 0, fmt.Errorf("%w: non-positive information sum %g", ErrResolution, sum)
	}
	return 1 / math.Sqrt(sum) / ElementaryCharge / eff, nil
}
