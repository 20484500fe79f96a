// Package didv computes and fits the complex admittance dI/dV of a
// transition-edge sensor bias circuit.
//
// A square-wave drive of known amplitude is applied through the shunt; the
// averaged one-period current response divided by the drive, both taken at
// the odd drive harmonics, is the measured admittance. It is modelled as
//
//	one pole:  dI/dV = e^{-iωΔt} / (A + iωL)
//	two pole:  dI/dV = e^{-iωΔt} / (A(1+iωτ2) + B/(1+iωτ1))
//
// where the two-pole coefficients map onto the small-signal parameters of
// Irwin and Hilton (operating resistance R0, current sensitivity β, loop gain
// ℓ, inductance L, natural time constant τ0):
//
//	A  = Rload + R0(1+β)
//	B  = R0 ℓ (2+β) / (1-ℓ)
//	τ1 = τ0 / (1-ℓ)
//	τ2 = L / A
//
// Fits are weighted least squares on the real and imaginary parts jointly,
// optionally with Gaussian priors on the resistances (see [PhysicalPrior]).
package didv
