package didv

import (
	"math"
	"math/cmplx"
)

func delay(w, dt float64) complex128 { return cmplx.Rect(1, -w*dt) }

// OnePole is the admittance of a bare series impedance A + iωL.
func OnePole(w, a, inductance, dt float64) complex128 {
	return delay(w, dt) / complex(a, w*inductance)
}

// TwoPole is the admittance of the two-pole model in its fit
// coefficients.
func TwoPole(w, a, b, tau1, tau2, dt float64) complex128 {
	z := complex(a, 0)*complex(1, w*tau2) + complex(b, 0)/complex(1, w*tau1)
	return delay(w, dt) / z
}

// Irwin holds the small-signal parameters of a biased TES.
type Irwin struct {
	Rload      float64 // shunt plus parasitic resistance, Ω
	R0         float64 // operating resistance, Ω
	Beta       float64 // current sensitivity d log R / d log I
	LoopGain   float64 // ℓ
	Inductance float64 // H
	Tau0       float64 // natural thermal time constant, s
	Dt         float64 // time offset of the response, s
}

// TauI is the current-biased thermal time constant τ0/(1-ℓ).
func (p Irwin) TauI() float64 { return p.Tau0 / (1 - p.LoopGain) }

// Coefficients maps p onto the two-pole fit coefficients.
func (p Irwin) Coefficients() (a, b, tau1, tau2 float64) {
	a = p.Rload + p.R0*(1+p.Beta)
	b = p.R0 * p.LoopGain * (2 + p.Beta) / (1 - p.LoopGain)
	tau1 = p.TauI()
	tau2 = p.Inductance / a
	return a, b, tau1, tau2
}

// Admittance evaluates dI/dV of p at angular frequency w.
func (p Irwin) Admittance(w float64) complex128 {
	z := complex(p.Rload+p.R0*(1+p.Beta), w*p.Inductance) +
		complex(p.R0*p.LoopGain*(2+p.Beta)/(1-p.LoopGain), 0)/complex(1, w*p.TauI())
	return delay(w, p.Dt) / z
}

// TauEff is the effective fall time of the electrothermal response.
func (p Irwin) TauEff() float64 {
	ratio := p.Rload / p.R0
	num := 1 + p.Beta + ratio
	return p.Tau0 * num / (num + (1-ratio)*p.LoopGain)
}

// FromCoefficients inverts [Irwin.Coefficients] given the load and
// operating resistances, which the two-pole coefficients alone do not fix.
func FromCoefficients(a, b, tau1, tau2, dt, rload, r0 float64) (Irwin, error) {
	c := a + r0 - rload
	if r0 == 0 || b+c == 0 {
		return Irwin{}, ErrLoopGain
	}
	p := Irwin{
		Rload:      rload,
		R0:         r0,
		Beta:       (a-rload)/r0 - 1,
		LoopGain:   b / (b + c),
		Inductance: a * tau2,
		Tau0:       tau1 * c / (b + c),
		Dt:         dt,
	}
	for _, v := range []float64{p.Beta, p.LoopGain, p.Inductance, p.Tau0} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Irwin{}, ErrLoopGain
		}
	}
	return p, nil
}

// Physical is the TES with the load split into shunt and parasitic
// resistance. Its admittance is referred to the bias current:
// Rsh / Z, the current response to a unit change of bias current.
type Physical struct {
	Rshunt     float64
	Rp         float64
	R0         float64
	Beta       float64
	LoopGain   float64
	Inductance float64
	Tau0       float64
	Dt         float64
}

// Irwin returns the small-signal parameters with Rload = Rshunt + Rp.
func (p Physical) Irwin() Irwin {
	return Irwin{
		Rload:      p.Rshunt + p.Rp,
		R0:         p.R0,
		Beta:       p.Beta,
		LoopGain:   p.LoopGain,
		Inductance: p.Inductance,
		Tau0:       p.Tau0,
		Dt:         p.Dt,
	}
}

// Response evaluates Rshunt·dI/dV at angular frequency w.
func (p Physical) Response(w float64) complex128 {
	return complex(p.Rshunt, 0) * p.Irwin().Admittance(w)
}

// PhysicalNames orders the parameters of [Physical] as they appear in fit
// results and covariance matrices.
var PhysicalNames = []string{"rshunt", "rp", "r0", "beta", "l", "L", "tau0", "dt"}

// Vector returns p in [PhysicalNames] order.
func (p Physical) Vector() []float64 {
	return []float64{p.Rshunt, p.Rp, p.R0, p.Beta, p.LoopGain, p.Inductance, p.Tau0, p.Dt}
}

// PhysicalFromVector is the inverse of [Physical.Vector].
func PhysicalFromVector(v []float64) Physical {
	return Physical{
		Rshunt:     v[0],
		Rp:         v[1],
		R0:         v[2],
		Beta:       v[3],
		LoopGain:   v[4],
		Inductance: v[5],
		Tau0:       v[6],
		Dt:         v[7],
	}
}
