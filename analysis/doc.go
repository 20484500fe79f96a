// Package analysis reduces an IV/dIdV sweep of a transition-edge sensor to
// its circuit, small-signal and noise parameters.
//
// The analysis is a sequence of stages over a [Context]:
//
//	FitLoad              superconducting dIdV -> rload, rp
//	FitNormalResistance  normal dIdV          -> rn
//	SolveIV              offsets              -> R0, P0 per point, rn and rp from the IV curve
//	FitNormalNoise       normal noise         -> SQUID floor
//	FitSCNoise           superconducting noise -> load temperature
//	FitTransition        transition dIdV      -> small-signal parameters and covariance
//	ModelNoise           Monte-Carlo noise model and energy resolution with bounds
//	FindOptimum          bias of best resolution and of shortest tau_eff
//
// Each stage declares the fields it requires and produces. [NewPipeline]
// rejects an ordering in which a stage would run before its inputs exist,
// and every stage checks its inputs again when run. Stages return a new
// context and leave their input untouched.
//
// Failures confined to one bias point are recorded as [PointError] values on
// the context and logged; the point is left out of every aggregate. A stage
// with no usable point at all fails with a [fit.ConvergenceError].
package analysis
