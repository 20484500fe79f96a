package analysis

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-tes/stats/aggregate"
	"github.com/cwbudde/algo-tes/sweep"
	"github.com/cwbudde/algo-tes/tesnoise"
)

// SquidPoint is the SQUID noise fit of one normal point.
type SquidPoint struct {
	Index            int
	Bias             float64
	Squid            tesnoise.Squid
	ReducedChiSquare float64
}

// SquidCalibration is the SQUID and electronics noise shared by every
// later noise computation.
type SquidCalibration struct {
	Squid   tesnoise.Squid // mean over points
	DCErr   float64
	PoleErr float64
	NErr    float64

	Points []SquidPoint
}

// LoadPoint is the load-temperature fit of one superconducting point.
type LoadPoint struct {
	Index            int
	Bias             float64
	Tload            float64
	ReducedChiSquare float64
}

// TloadCalibration is the effective load-resistor temperature.
type TloadCalibration struct {
	Tload    float64
	TloadErr float64

	Points []LoadPoint
}

var errNoInductance = errors.New("no one-pole dIdV fit to take the inductance from")

func noisePSD(p sweep.Point) (freqs, psd []float64) { return p.Noise.Freqs, p.Noise.PSD }

// FitNormalNoise fits the SQUID floor to the noise of every normal point.
// The circuit is fixed by the calibration: rload, the IV normal resistance,
// Tc and the point's own one-pole inductance.
type FitNormalNoise struct{}

func (FitNormalNoise) Name() string      { return StageNormalNoise }
func (FitNormalNoise) Requires() []Field { return []Field{FieldLoad, FieldNormal, FieldOperatingPoints} }
func (FitNormalNoise) Produces() []Field { return []Field{FieldSquid} }

func (s FitNormalNoise) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	cfg := c.Config
	if !(cfg.Tc > 0) {
		return nil, &ConfigurationError{Option: "tc", Reason: "normal noise fit needs the critical temperature"}
	}

	pts := c.Dataset.Points(c.Dataset.Normal)
	fits, errs := eachPoint(cfg.workers(), pts, func(p sweep.Point) (*tesnoise.SquidFit, error) {
		l, ok := c.Normal.Inductance(p.Index)
		if !ok {
			return nil, errNoInductance
		}
		circuit := tesnoise.NormalCircuit{Rload: c.Load.Rload, Rn: c.IV.Rn, Tc: cfg.Tc, Inductance: l}
		f, psd := noisePSD(p)
		return tesnoise.FitNormal(f, psd, circuit, cfg.SquidGuess, cfg.NormalNoiseRange)
	})

	next := c.clone()
	var out []SquidPoint
	var dc, pole, n []float64
	for i, p := range pts {
		if errs[i] != nil {
			next.fail(StageNormalNoise, p, errs[i])
			continue
		}
		sq := fits[i].Squid
		out = append(out, SquidPoint{Index: p.Index, Bias: p.Bias, Squid: sq, ReducedChiSquare: fits[i].Result.ReducedChiSquare()})
		dc = append(dc, sq.DC)
		pole = append(pole, sq.Pole)
		n = append(n, sq.N)
	}
	if len(out) == 0 {
		return nil, noUsablePoints(StageNormalNoise, sweep.RegionNormal)
	}

	var sums [3]aggregate.Summary
	for i, v := range [][]float64{dc, pole, n} {
		sum, err := aggregate.Aggregate(v, aggregate.MeanStd{})
		if err != nil {
			return nil, fmt.Errorf("analysis: %s: %w", StageNormalNoise, err)
		}
		sums[i] = sum
	}
	next.Squid = &SquidCalibration{
		Squid:   tesnoise.Squid{DC: sums[0].Center, Pole: sums[1].Center, N: sums[2].Center},
		DCErr:   sums[0].Err,
		PoleErr: sums[1].Err,
		NErr:    sums[2].Err,
		Points:  out,
	}
	c.logger().Info("squid noise fitted", "stage", StageNormalNoise,
		"squiddc", next.Squid.Squid.DC, "squidpole", next.Squid.Squid.Pole, "squidn", next.Squid.Squid.N, "used", len(out))
	return next, nil
}

// FitSCNoise fits the load-resistor temperature to the noise of every
// superconducting point with the SQUID floor held fixed.
type FitSCNoise struct{}

func (FitSCNoise) Name() string      { return StageSCNoise }
func (FitSCNoise) Requires() []Field { return []Field{FieldLoad, FieldSquid} }
func (FitSCNoise) Produces() []Field { return []Field{FieldTload} }

func (s FitSCNoise) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	cfg := c.Config
	sq := c.Squid.Squid

	pts := c.Dataset.Points(c.Dataset.SC)
	fits, errs := eachPoint(cfg.workers(), pts, func(p sweep.Point) (*tesnoise.LoadFit, error) {
		l, ok := c.Load.Inductance(p.Index)
		if !ok {
			return nil, errNoInductance
		}
		f, psd := noisePSD(p)
		return tesnoise.FitSC(f, psd, sq, c.Load.Rload, l, cfg.TloadGuess, cfg.SCNoiseRange)
	})

	next := c.clone()
	var out []LoadPoint
	var tl []float64
	for i, p := range pts {
		if errs[i] != nil {
			next.fail(StageSCNoise, p, errs[i])
			continue
		}
		out = append(out, LoadPoint{Index: p.Index, Bias: p.Bias, Tload: fits[i].Tload, ReducedChiSquare: fits[i].Result.ReducedChiSquare()})
		tl = append(tl, fits[i].Tload)
	}
	if len(out) == 0 {
		return nil, noUsablePoints(StageSCNoise, sweep.RegionSC)
	}
	sum, err := aggregate.Aggregate(tl, aggregate.MeanStd{})
	if err != nil {
		return nil, fmt.Errorf("analysis: %s: %w", StageSCNoise, err)
	}
	next.Tload = &TloadCalibration{Tload: sum.Center, TloadErr: sum.Err, Points: out}
	c.logger().Info("load temperature fitted", "stage", StageSCNoise, "tload", sum.Center, "used", len(out))
	return next, nil
}
