package analysis

import (
	"errors"
	"math"

	"github.com/cwbudde/algo-tes/didv"
	"github.com/cwbudde/algo-tes/sweep"
)

// FitState is the progress of a transition point through the two-stage
// small-signal fit.
type FitState int

// Fit states.
const (
	StateUnfit FitState = iota
	StateIrwin
	StatePhysical
)

func (s FitState) String() string {
	switch s {
	case StateIrwin:
		return "irwin"
	case StatePhysical:
		return "physical"
	default:
		return "unfit"
	}
}

// SmallSignal is the small-signal fit of one transition point. Only a
// point in StatePhysical is usable downstream.
type SmallSignal struct {
	Index int
	Bias  float64
	State FitState

	TwoPole  *didv.TwoPoleFit
	Irwin    *didv.IrwinFit
	Physical *didv.PhysicalFit

	TauEff    float64
	TauEffErr float64

	Err error // why the point stopped short of StatePhysical
}

// Usable reports whether the physical-units fit succeeded.
func (s *SmallSignal) Usable() bool { return s != nil && s.State == StatePhysical }

// UsableSmallSignal returns the indices of usable fits in ascending order.
func (c *Context) UsableSmallSignal() []int {
	var idx []int
	for _, i := range c.Dataset.Transition.Indices() {
		if c.SmallSignal[i].Usable() {
			idx = append(idx, i)
		}
	}
	return idx
}

// FitTransition fits the dIdV of every transition point in two stages: a
// two-pole fit refined in Irwin parameters under priors on rload and R0,
// then a fit of rshunt·dIdV in physical units under the correlated
// resistance prior.
type FitTransition struct{}

func (FitTransition) Name() string      { return StageTransition }
func (FitTransition) Requires() []Field { return []Field{FieldLoad, FieldOperatingPoints} }
func (FitTransition) Produces() []Field { return []Field{FieldSmallSignal} }

func (s FitTransition) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	cfg := c.Config
	rsh := didv.Estimate{Value: cfg.Rshunt, Err: cfg.RshuntErr}
	rload := didv.Estimate{
		Value: c.Load.Rload,
		Err:   math.Hypot(c.Load.RloadErr, c.Load.Rload*cfg.RshuntErr/cfg.Rshunt),
	}
	iv := c.IV.DIDV

	pts := c.Dataset.Points(c.Dataset.Transition)
	fits, errs := eachPoint(cfg.workers(), pts, func(p sweep.Point) (*SmallSignal, error) {
		op := iv.Points[p.Index]
		r0 := didv.Estimate{Value: op.R0, Err: op.R0Err}
		return fitSmallSignal(p, rsh, rload, r0, iv.RpErr, cfg.Correlation)
	})

	next := c.clone()
	next.SmallSignal = make(map[int]*SmallSignal, len(pts))
	used := 0
	for i, p := range pts {
		next.SmallSignal[p.Index] = fits[i]
		if errs[i] != nil {
			next.fail(StageTransition, p, errs[i])
			continue
		}
		used++
	}
	if used == 0 && len(pts) > 0 {
		return nil, noUsablePoints(StageTransition, sweep.RegionTransition)
	}
	c.logger().Info("transition fitted", "stage", StageTransition, "used", used, "excluded", len(pts)-used)
	return next, nil
}

func fitSmallSignal(p sweep.Point, rsh, rload, r0 didv.Estimate, rpErr float64, corr didv.ResistanceCorrelation) (*SmallSignal, error) {
	ss := &SmallSignal{Index: p.Index, Bias: p.Bias}
	fail := func(err error) (*SmallSignal, error) {
		ss.Err = err
		return ss, err
	}

	spec, err := spectrumOf(p, rsh.Value)
	if err != nil {
		return fail(err)
	}
	tp, err := didv.FitTwoPole(spec)
	if err != nil {
		return fail(err)
	}
	ss.TwoPole = tp
	irwin, err := didv.FitIrwin(spec, tp, rload, r0)
	if err != nil {
		return fail(err)
	}
	ss.Irwin = irwin
	ss.State = StateIrwin
	ss.TauEff, ss.TauEffErr = irwin.Params.TauEff(), irwin.TauEffErr()

	ip := irwin.Params
	start := didv.Physical{
		Rshunt:     rsh.Value,
		Rp:         ip.Rload - rsh.Value,
		R0:         ip.R0,
		Beta:       ip.Beta,
		LoopGain:   ip.LoopGain,
		Inductance: ip.Inductance,
		Tau0:       ip.Tau0,
		Dt:         ip.Dt,
	}
	prior, err := didv.PhysicalPrior(didv.ResistancePrior{
		Rshunt: rsh,
		Rp:     didv.Estimate{Value: start.Rp, Err: rpErr},
		R0:     didv.Estimate{Value: start.R0, Err: r0.Err},
	}, corr)
	if err != nil {
		return fail(err)
	}
	phys, err := didv.FitPhysical(spec, rsh.Value, start, prior)
	if err != nil {
		return fail(err)
	}
	if !finite(phys.Params.Vector()...) {
		return fail(errors.New("physical-units fit returned non-finite parameters"))
	}
	ss.Physical = phys
	ss.State = StatePhysical
	ss.TauEff, ss.TauEffErr = phys.TauEff(), phys.TauEffErr()
	return ss, nil
}

func finite(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
