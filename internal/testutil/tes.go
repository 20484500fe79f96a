package testutil

import (
	"math"
	"math/cmplx"
)

const boltzmann = 1.380649e-23

// TES describes a synthetic sensor and its readout. The formulas here are
// written out independently of the packages under test so that they act as
// an oracle.
type TES struct {
	Rshunt     float64
	Rp         float64
	Rn         float64
	Inductance float64
	Beta       float64
	Tau0       float64

	Tc    float64
	Tbath float64
	G     float64
	Tload float64
	Power float64 // Joule power on the transition plateau, W

	SquidDC   float64
	SquidPole float64
	SquidN    float64

	Offset float64 // SQUID/DC offset added to every measured current
}

// DefaultTES returns the reference sensor used throughout the tests.
func DefaultTES() TES {
	return TES{
		Rshunt:     5e-3,
		Rp:         15e-3,
		Rn:         1.0,
		Inductance: 200e-9,
		Beta:       1,
		Tau0:       100e-6,
		Tc:         0.04,
		Tbath:      0.01,
		G:          5e-10,
		Tload:      0.03,
		Power:      4e-12,
		SquidDC:    6e-12,
		SquidPole:  200,
		SquidN:     0.7,
		Offset:     2e-7,
	}
}

// Rload returns Rshunt + Rp.
func (t TES) Rload() float64 { return t.Rshunt + t.Rp }

// Admittance returns dI/dV at angular frequency w for a sensor at
// resistance r0 with current sensitivity beta and loop gain l.
func (t TES) Admittance(w, r0, beta, l float64) complex128 {
	a := t.Rload() + r0*(1+beta)
	z := complex(a, w*t.Inductance)
	if l != 0 {
		tauI := t.Tau0 / (1 - l)
		z += complex(r0*l*(2+beta)/(1-l), 0) / complex(1, w*tauI)
	}
	return 1 / z
}

// TESCurrent returns the quiescent sensor current at bias ib and
// resistance r0.
func (t TES) TESCurrent(ib, r0 float64) float64 {
	return ib * t.Rshunt / (r0 + t.Rload())
}

// TransitionBias returns the (negative) bias current that puts the sensor
// at r0 on the constant-power plateau.
func (t TES) TransitionBias(r0 float64) float64 {
	i0 := math.Sqrt(t.Power / r0)
	return -i0 * (r0 + t.Rload()) / t.Rshunt
}

func (t TES) squid(f float64) float64 {
	v := t.SquidDC * (1 + math.Pow(t.SquidPole/f, t.SquidN))
	return v * v
}

// NormalPSD is the current noise of the normal sensor: Johnson noise of
// the load and of Rn plus SQUID noise.
func (t TES) NormalPSD(f float64) float64 {
	h := 1 / complex(t.Rload()+t.Rn, 2*math.Pi*f*t.Inductance)
	sv := 4 * boltzmann * (t.Tload*t.Rload() + t.Tc*t.Rn)
	return sv*sq(cmplx.Abs(h)) + t.squid(f)
}

// SCPSD is the current noise of the superconducting sensor.
func (t TES) SCPSD(f float64) float64 {
	h := 1 / complex(t.Rload(), 2*math.Pi*f*t.Inductance)
	return 4*boltzmann*t.Tload*t.Rload()*sq(cmplx.Abs(h)) + t.squid(f)
}

// TransitionPSD is the total current noise of the sensor biased at ib,
// with resistance r0 and loop gain l.
func (t TES) TransitionPSD(f, ib, r0, l float64) float64 {
	w := 2 * math.Pi * f
	i0 := t.TESCurrent(ib, r0)
	didv := t.Admittance(w, r0, t.Beta, l)
	tauI := t.Tau0 / (1 - l)
	didp := -didv * complex(l/(i0*(1-l)), 0) / complex(1, w*tauI)

	ites := 4 * boltzmann * t.Tc * r0 * (1 + 2*t.Beta) * sq(cmplx.Abs(didv-complex(i0, 0)*didp))
	iload := 4 * boltzmann * t.Tload * t.Rload() * sq(cmplx.Abs(didv))
	const n = 5.0
	flink := (1 + math.Pow(t.Tbath/t.Tc, n+1)) / 2
	itfn := 4 * boltzmann * t.Tc * t.Tc * t.G * flink * sq(cmplx.Abs(didp))
	return ites + iload + itfn + t.squid(f)
}

func sq(x float64) float64 { return x * x }

// DriveResponse returns one period (n samples) of the current response of
// admittance h to a square-wave drive of peak-to-peak amplitude amp. The
// drive is +amp/2 over the first half period and -amp/2 over the second.
// It is synthesised with explicit discrete Fourier sums.
func DriveResponse(n int, amp, sampleRate float64, h func(w float64) complex128) []float64 {
	x := make([]complex128, n/2)
	for k := 1; k < n/2; k++ {
		var acc complex128
		for j := range n {
			v := amp / 2
			if j >= n/2 {
				v = -amp / 2
			}
			acc += complex(v, 0) * cmplx.Rect(1, -2*math.Pi*float64(k*j%n)/float64(n))
		}
		x[k] = acc
	}

	out := make([]float64, n)
	for k := 1; k < n/2; k++ {
		if cmplx.Abs(x[k]) < 1e-12*amp*float64(n) {
			continue
		}
		y := h(2*math.Pi*float64(k)*sampleRate/float64(n)) * x[k]
		for j := range out {
			out[j] += 2 * real(y*cmplx.Rect(1, 2*math.Pi*float64(k*j%n)/float64(n))) / float64(n)
		}
	}
	return out
}
