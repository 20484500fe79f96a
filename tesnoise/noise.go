package tesnoise

import (
	"math"
	"math/cmplx"

	"github.com/cwbudde/algo-vecmath"
)

// Boltzmann is the Boltzmann constant in J/K.
const Boltzmann = 1.380649e-23

// ElementaryCharge converts joules to electron-volts.
const ElementaryCharge = 1.602176634e-19

// DefaultThermalExponent is the exponent n of the power flow to the bath,
// P = K(Tc^n - Tb^n).
const DefaultThermalExponent = 5.0

// Squid is the SQUID and downstream electronics current noise
// (DC·(1 + (Pole/f)^N))².
type Squid struct {
	DC   float64 // white level, A/√Hz
	Pole float64 // 1/f knee, Hz
	N    float64 // 1/f exponent
}

// PSD evaluates the squid noise at f.
func (s Squid) PSD(f float64) float64 {
	v := s.DC * (1 + math.Pow(s.Pole/f, s.N))
	return v * v
}

// Params are the circuit and thermal parameters of a biased sensor.
type Params struct {
	Rshunt     float64
	Rp         float64
	R0         float64
	Beta       float64
	LoopGain   float64
	Inductance float64
	Tau0       float64

	Tc    float64
	Tbath float64
	G     float64 // thermal conductance to the bath, W/K
	Tload float64

	Bias     float64 // bias current, A
	Squid    Squid
	ThermalN float64 // zero uses DefaultThermalExponent
}

// Rload returns Rshunt + Rp.
func (p Params) Rload() float64 { return p.Rshunt + p.Rp }

// I0 returns the quiescent sensor current.
func (p Params) I0() float64 { return p.Bias * p.Rshunt / (p.R0 + p.Rload()) }

func (p Params) tauI() float64 { return p.Tau0 / (1 - p.LoopGain) }

// DIDV returns the admittance dI/dV at angular frequency w.
func (p Params) DIDV(w float64) complex128 {
	z := complex(p.Rload()+p.R0*(1+p.Beta), w*p.Inductance)
	if p.LoopGain != 0 {
		z += complex(p.R0*p.LoopGain*(2+p.Beta)/(1-p.LoopGain), 0) / complex(1, w*p.tauI())
	}
	return 1 / z
}

// DIDP returns the power-to-current responsivity dI/dP at angular
// frequency w.
func (p Params) DIDP(w float64) complex128 {
	return p.didp(w, p.DIDV(w))
}

func (p Params) didp(w float64, didv complex128) complex128 {
	i0 := p.I0()
	return -didv * complex(p.LoopGain/(i0*(1-p.LoopGain)), 0) / complex(1, w*p.tauI())
}

// linkFactor is the thermal fluctuation noise factor of a ballistic link.
func (p Params) linkFactor() float64 {
	n := p.ThermalN
	if n == 0 {
		n = DefaultThermalExponent
	}
	return (1 + math.Pow(p.Tbath/p.Tc, n+1)) / 2
}

// Spectra holds the noise components of a sensor on a frequency grid.
// Current noise is in A²/Hz, power noise in W²/Hz.
type Spectra struct {
	Freqs []float64

	ITES   []float64
	ILoad  []float64
	ITFN   []float64
	ISquid []float64
	ITot   []float64

	PTES   []float64
	PLoad  []float64
	PTFN   []float64
	PSquid []float64
	PTot   []float64

	// Responsivity is |dI/dP|².
	Responsivity []float64
}

// NewSpectra allocates spectra for n frequency bins.
func NewSpectra(n int) *Spectra {
	alloc := func() []float64 { return make([]float64, n) }
	return &Spectra{
		ITES: alloc(), ILoad: alloc(), ITFN: alloc(), ISquid: alloc(), ITot: alloc(),
		PTES: alloc(), PLoad: alloc(), PTFN: alloc(), PSquid: alloc(), PTot: alloc(),
		Responsivity: alloc(),
	}
}

// Evaluate returns the noise components of p at freqs. All frequencies
// must be positive.
func Evaluate(p Params, freqs []float64) *Spectra {
	s := NewSpectra(len(freqs))
	s.Evaluate(p, freqs)
	return s
}

// Evaluate fills s with the noise components of p at freqs, reusing its
// buffers when they are large enough.
func (s *Spectra) Evaluate(p Params, freqs []float64) {
	n := len(freqs)
	if len(s.ITot) != n {
		*s = *NewSpectra(n)
	}
	s.Freqs = freqs

	i0 := p.I0()
	sVTES := 4 * Boltzmann * p.Tc * p.R0 * (1 + 2*p.Beta)
	sVLoad := 4 * Boltzmann * p.Tload * p.Rload()
	sPTFN := 4 * Boltzmann * p.Tc * p.Tc * p.G * p.linkFactor()

	re := make([]float64, n)
	im := make([]float64, n)
	didvSq := make([]float64, n)
	tesRe := make([]float64, n)
	tesIm := make([]float64, n)
	for k, f := range freqs {
		w := 2 * math.Pi * f
		didv := p.DIDV(w)
		didp := p.didp(w, didv)
		re[k], im[k] = real(didv), imag(didv)
		d := didv - complex(i0, 0)*didp
		tesRe[k], tesIm[k] = real(d), imag(d)
		s.Responsivity[k] = cmplx.Abs(didp) * cmplx.Abs(didp)
		s.ISquid[k] = p.Squid.PSD(f)
		s.PTFN[k] = sPTFN
	}

	vecmath.Power(didvSq, re, im)
	vecmath.Power(s.ITES, tesRe, tesIm)

	for k := range freqs {
		s.ITES[k] *= sVTES
		s.ILoad[k] = sVLoad * didvSq[k]
	}
	vecmath.MulBlock(s.ITFN, s.PTFN, s.Responsivity)

	for k := range freqs {
		s.ITot[k] = s.ITES[k] + s.ILoad[k] + s.ITFN[k] + s.ISquid[k]
		r := s.Responsivity[k]
		s.PTES[k] = s.ITES[k] / r
		s.PLoad[k] = s.ILoad[k] / r
		s.PSquid[k] = s.ISquid[k] / r
		s.PTot[k] = s.ITot[k] / r
	}
}

// PowerReferred divides a current PSD by the responsivity of s into dst.
func (s *Spectra) PowerReferred(dst, psd []float64) {
	for k, v := range psd {
		dst[k] = v / s.Responsivity[k]
	}
}
