// Package tesnoise models the current and power noise of a biased
// transition-edge sensor and estimates its baseline energy resolution.
//
// The current noise at the SQUID input is the sum of four uncorrelated
// terms: Johnson noise of the sensor, Johnson noise of the load (shunt plus
// parasitic) resistance, thermal fluctuation noise across the weak link to
// the bath, and the SQUID/electronics floor. Dividing by the power-to-current
// responsivity |dI/dP|² refers each term to the sensor input.
//
// The noise floor is calibrated in two steps: the SQUID floor from normal
// state spectra, where the sensor is a plain resistor, then the load
// temperature from superconducting spectra, where only the load remains.
package tesnoise
