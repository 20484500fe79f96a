package analysis

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-tes/didv"
	"github.com/cwbudde/algo-tes/stats/aggregate"
	"github.com/cwbudde/algo-tes/sweep"
)

// Stage names.
const (
	StageLoad        = "load-calibration"
	StageNormal      = "normal-calibration"
	StageIV          = "iv"
	StageNormalNoise = "normal-noise"
	StageSCNoise     = "sc-noise"
	StageTransition  = "transition"
	StageNoiseModel  = "noise-model"
	StageSimpleNoise = "noise-simple"
	StageOptimum     = "optimum"
)

// OnePolePoint is the one-pole dIdV fit of a normal or superconducting
// point. The chi-square values let outliers be inspected; aggregation does
// not weight by them.
type OnePolePoint struct {
	Index int
	Bias  float64

	Rtot          float64
	RtotErr       float64
	Inductance    float64
	InductanceErr float64

	ChiSquare        float64
	ReducedChiSquare float64
}

// LoadCalibration is the superconducting-branch result: the load
// resistance Rshunt + Rp seen by the sensor.
type LoadCalibration struct {
	Rload    float64
	RloadErr float64 // spread across points
	Rp       float64
	RpErr    float64

	Points []OnePolePoint
}

// Inductance returns the fitted inductance of the superconducting point at
// index.
func (l *LoadCalibration) Inductance(index int) (float64, bool) {
	return pointInductance(l.Points, index)
}

// NormalCalibration is the normal-branch result.
type NormalCalibration struct {
	Rn    float64
	RnErr float64

	Points []OnePolePoint
}

// Inductance returns the fitted inductance of the normal point at index.
func (n *NormalCalibration) Inductance(index int) (float64, bool) {
	return pointInductance(n.Points, index)
}

func pointInductance(pts []OnePolePoint, index int) (float64, bool) {
	for _, p := range pts {
		if p.Index == index {
			return p.Inductance, true
		}
	}
	return 0, false
}

func spectrumOf(p sweep.Point, rshunt float64) (*didv.Spectrum, error) {
	return didv.Compute(didv.FromRecord(p.DIDV), rshunt)
}

func onePolePoint(p sweep.Point, f *didv.OnePoleFit) OnePolePoint {
	return OnePolePoint{
		Index:            p.Index,
		Bias:             p.Bias,
		Rtot:             f.Rtot,
		RtotErr:          f.RtotErr,
		Inductance:       f.Inductance,
		InductanceErr:    f.InductanceErr,
		ChiSquare:        f.Result.ChiSquare,
		ReducedChiSquare: f.Result.ReducedChiSquare(),
	}
}

// onePoleStage fits every point of a region and aggregates Rtot by mean.
func onePoleStage(c *Context, stage string, region sweep.Region,
	fitPoint func(*didv.Spectrum) (*didv.OnePoleFit, error),
) ([]OnePolePoint, aggregate.Summary, error) {
	pts := c.Dataset.Points(c.Dataset.Range(region))
	rshunt := c.Config.Rshunt
	fits, errs := eachPoint(c.Config.workers(), pts, func(p sweep.Point) (*didv.OnePoleFit, error) {
		s, err := spectrumOf(p, rshunt)
		if err != nil {
			return nil, err
		}
		return fitPoint(s)
	})

	var out []OnePolePoint
	rtot := make([]float64, 0, len(pts))
	for i, p := range pts {
		if errs[i] != nil {
			c.fail(stage, p, errs[i])
			continue
		}
		op := onePolePoint(p, fits[i])
		out = append(out, op)
		rtot = append(rtot, op.Rtot)
	}
	if len(out) == 0 {
		return nil, aggregate.Summary{}, noUsablePoints(stage, region)
	}

	sum, err := aggregate.Aggregate(rtot, aggregate.MeanStd{})
	if err != nil {
		return nil, aggregate.Summary{}, noUsablePoints(stage, region)
	}
	c.logger().Info("resistance calibrated", "stage", stage, "used", sum.Used, "excluded", len(pts)-sum.Used)
	return out, sum, nil
}

// FitLoad fits a one-pole model to the dIdV of every superconducting point.
// The mean total resistance is the load resistance.
type FitLoad struct{}

func (FitLoad) Name() string      { return StageLoad }
func (FitLoad) Requires() []Field { return []Field{FieldDataset} }
func (FitLoad) Produces() []Field { return []Field{FieldLoad} }

func (s FitLoad) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	next := c.clone()
	pts, sum, err := onePoleStage(next, StageLoad, sweep.RegionSC, didv.FitOnePole)
	if err != nil {
		return nil, err
	}
	cfg := &c.Config
	next.Load = &LoadCalibration{
		Rload:    sum.Center,
		RloadErr: sum.Err,
		Rp:       sum.Center - cfg.Rshunt,
		RpErr:    math.Hypot(sum.Err, cfg.RshuntErr),
		Points:   pts,
	}
	if next.Load.Rp < 0 {
		c.logger().Warn("load resistance below shunt", "rload", sum.Center, "rshunt", cfg.Rshunt)
	}
	return next, nil
}

// FitNormalResistance fits every normal point with the load resistance held
// at the calibrated value. Rn is the mean total resistance minus the load.
type FitNormalResistance struct{}

func (FitNormalResistance) Name() string      { return StageNormal }
func (FitNormalResistance) Requires() []Field { return []Field{FieldLoad} }
func (FitNormalResistance) Produces() []Field { return []Field{FieldNormal} }

func (s FitNormalResistance) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	rload := c.Load.Rload
	next := c.clone()
	pts, sum, err := onePoleStage(next, StageNormal, sweep.RegionNormal, func(sp *didv.Spectrum) (*didv.OnePoleFit, error) {
		return didv.FitNormal(sp, rload)
	})
	if err != nil {
		return nil, err
	}
	rn := sum.Center - rload
	if !(rn > 0) {
		return nil, fmt.Errorf("analysis: %s: normal resistance %g not positive (rtot %g, rload %g)", StageNormal, rn, sum.Center, rload)
	}
	next.Normal = &NormalCalibration{Rn: rn, RnErr: sum.Err, Points: pts}
	return next, nil
}
