package analysis

import (
	"fmt"
	"math"
	"slices"

	"github.com/cwbudde/algo-tes/fit"
)

// Candidate is a transition point considered for the optimum.
type Candidate struct {
	Index     int
	Bias      float64
	R0        float64
	EnergyRes float64 // median, eV
	TauEff    float64 // s
}

// OptimumPoint is the bias point minimising one figure of merit. Value is
// the minimised quantity itself.
type OptimumPoint struct {
	Index      int
	Bias       float64
	R0Fraction float64 // R0 / Rn
	Value      float64
}

// Optimum holds the points of best energy resolution and shortest
// effective time constant.
type Optimum struct {
	Resolution OptimumPoint
	Tau        OptimumPoint
}

// SelectOptimum picks the candidates of minimum energy resolution and
// minimum tau_eff. NaN values are skipped; ties go to the first candidate.
// R0 is normalised by rn.
func SelectOptimum(cands []Candidate, rn float64) (Optimum, error) {
	if !(rn > 0) {
		return Optimum{}, &ConfigurationError{Option: "rn", Reason: fmt.Sprintf("normal resistance %g", rn)}
	}
	ie := argmin(cands, func(c Candidate) float64 { return c.EnergyRes })
	it := argmin(cands, func(c Candidate) float64 { return c.TauEff })
	if ie < 0 || it < 0 {
		return Optimum{}, &fit.ConvergenceError{Reason: "no candidate with a finite energy resolution and tau_eff"}
	}
	point := func(c Candidate, v float64) OptimumPoint {
		return OptimumPoint{Index: c.Index, Bias: c.Bias, R0Fraction: c.R0 / rn, Value: v}
	}
	return Optimum{
		Resolution: point(cands[ie], cands[ie].EnergyRes),
		Tau:        point(cands[it], cands[it].TauEff),
	}, nil
}

func argmin(cands []Candidate, key func(Candidate) float64) int {
	best := -1
	for i, c := range cands {
		v := key(c)
		if math.IsNaN(v) {
			continue
		}
		if best < 0 || v < key(cands[best]) {
			best = i
		}
	}
	return best
}

// Candidates returns the transition points with a usable small-signal fit
// or a noise model, in index order. EnergyRes is NaN for points outside
// the noise model and TauEff is NaN for points without a usable fit, so
// each figure of merit is minimised over every point that carries it.
func (c *Context) Candidates() []Candidate {
	idx := c.UsableSmallSignal()
	for i := range c.NoiseModel {
		if !slices.Contains(idx, i) {
			idx = append(idx, i)
		}
	}
	slices.Sort(idx)

	out := make([]Candidate, 0, len(idx))
	for _, i := range idx {
		op := c.IV.Point(i)
		cand := Candidate{
			Index:     i,
			Bias:      op.Bias,
			R0:        op.R0,
			EnergyRes: math.NaN(),
			TauEff:    math.NaN(),
		}
		if nm := c.NoiseModel[i]; nm != nil {
			cand.EnergyRes = nm.EnergyRes.Center
		}
		if ss := c.SmallSignal[i]; ss.Usable() {
			cand.TauEff = ss.TauEff
		}
		out = append(out, cand)
	}
	return out
}

// FindOptimum selects the bias of best energy resolution among the
// noise-modelled points and the bias of shortest effective time constant
// among all usable small-signal fits.
type FindOptimum struct{}

func (FindOptimum) Name() string { return StageOptimum }
func (FindOptimum) Requires() []Field {
	return []Field{FieldNoiseModel, FieldSmallSignal, FieldOperatingPoints}
}
func (FindOptimum) Produces() []Field { return []Field{FieldOptimum} }

func (s FindOptimum) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	opt, err := SelectOptimum(c.Candidates(), c.IV.Rn)
	if err != nil {
		return nil, fmt.Errorf("analysis: %s: %w", StageOptimum, err)
	}
	next := c.clone()
	next.Optimum = &opt
	c.logger().Info("optimum bias",
		"stage", StageOptimum,
		"bias", opt.Resolution.Bias, "r0_frac", opt.Resolution.R0Fraction, "energy_res", opt.Resolution.Value,
		"tau_bias", opt.Tau.Bias, "tau_eff", opt.Tau.Value)
	return next, nil
}
