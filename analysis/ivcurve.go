package analysis

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-tes/fit"
	"github.com/cwbudde/algo-tes/sweep"
)

// OperatingPoint is the IV reduction of one record.
type OperatingPoint struct {
	Index int
	Bias  float64

	Vb    float64 // bias voltage across the shunt, V
	VbErr float64
	I0    float64 // offset-corrected sensor current, A
	I0Err float64
	R0    float64
	R0Err float64
	P0    float64 // Joule power, W
	P0Err float64
}

// IVBranch is the IV reduction of the noise records or of the dIdV
// records. Both kinds carry their own offset.
type IVBranch struct {
	Type sweep.DataType

	// Offset is the current at zero bias of the normal-branch line; it is
	// subtracted from every measured current.
	Offset    float64
	OffsetErr float64

	Rn    float64
	RnErr float64
	Rp    float64 // from the superconducting slope
	RpErr float64

	Points []OperatingPoint // by dataset index
}

// IVCurve holds both IV branches. Rn and Rp are taken from the noise
// records.
type IVCurve struct {
	Noise IVBranch
	DIDV  IVBranch

	Rn    float64
	RnErr float64
	Rp    float64
	RpErr float64
}

// Point returns the noise-branch operating point at index.
func (iv *IVCurve) Point(index int) OperatingPoint { return iv.Noise.Points[index] }

// SolveIV inverts the bias circuit at every point. A line through the
// normal points fixes the current offset and Rn; a line through the
// superconducting points gives Rp.
type SolveIV struct{}

func (SolveIV) Name() string      { return StageIV }
func (SolveIV) Requires() []Field { return []Field{FieldLoad} }
func (SolveIV) Produces() []Field { return []Field{FieldOperatingPoints} }

func (s SolveIV) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	next := c.clone()
	iv := &IVCurve{}
	for _, b := range []struct {
		typ sweep.DataType
		dst *IVBranch
	}{
		{sweep.TypeNoise, &iv.Noise},
		{sweep.TypeDIDV, &iv.DIDV},
	} {
		br, err := solveBranch(next, b.typ)
		if err != nil {
			return nil, fmt.Errorf("analysis: %s: %s records: %w", StageIV, b.typ, err)
		}
		*b.dst = br
	}
	iv.Rn, iv.RnErr = iv.Noise.Rn, iv.Noise.RnErr
	iv.Rp, iv.RpErr = iv.Noise.Rp, iv.Noise.RpErr
	next.IV = iv

	// Superconducting points should sit at zero resistance within errors.
	for _, i := range c.Dataset.SC.Indices() {
		op := iv.Noise.Points[i]
		if math.Abs(op.R0) > math.Max(3*op.R0Err, 0.01*iv.Rn) {
			c.logger().Warn("superconducting point has resistance",
				"stage", StageIV, "index", i, "bias", op.Bias, "r0", op.R0, "r0_err", op.R0Err)
		}
	}
	return next, nil
}

func record(p sweep.Point, typ sweep.DataType) *sweep.Record {
	if typ == sweep.TypeDIDV {
		return p.DIDV
	}
	return p.Noise
}

func lineData(pts []sweep.Point, typ sweep.DataType) (x, y, sigma []float64) {
	for _, p := range pts {
		r := record(p, typ)
		x = append(x, p.Bias)
		y = append(y, r.Offset)
		sigma = append(sigma, r.OffsetErr)
	}
	return x, y, sigma
}

func solveBranch(c *Context, typ sweep.DataType) (IVBranch, error) {
	ds := c.Dataset
	cfg := &c.Config
	rsh, rshErr := cfg.Rshunt, cfg.RshuntErr
	rload, rloadErr := c.Load.Rload, c.Load.RloadErr

	br := IVBranch{Type: typ}

	normal := ds.Points(ds.Normal)
	if len(normal) < 2 {
		return br, &fit.ConvergenceError{Reason: fmt.Sprintf("normal line needs 2 points, have %d", len(normal))}
	}
	nl, err := fit.Line(lineData(normal, typ))
	if err != nil {
		return br, err
	}
	if !(nl.Slope != 0) {
		return br, &fit.DegeneracyError{Param: "normal slope", Reason: "zero"}
	}
	br.Offset, br.OffsetErr = nl.Intercept, nl.InterceptErr

	// I = Ib·rsh/(rload + Rn) on the normal branch.
	rtot := rsh / nl.Slope
	br.Rn = rtot - rload
	br.RnErr = math.Sqrt(sq(rtot*nl.SlopeErr/nl.Slope) + sq(rshErr/nl.Slope) + sq(rloadErr))

	// I = Ib·rsh/(rsh + Rp) on the superconducting branch. The line has its
	// own intercept, so the offset does not enter.
	br.Rp, br.RpErr = c.Load.Rp, c.Load.RpErr
	if sc := ds.Points(ds.SC); len(sc) >= 2 {
		sl, err := fit.Line(lineData(sc, typ))
		if err == nil && sl.Slope != 0 {
			br.Rp = rsh * (1/sl.Slope - 1)
			br.RpErr = math.Hypot(rsh*sl.SlopeErr/sq(sl.Slope), rshErr*math.Abs(1/sl.Slope-1))
		} else {
			c.logger().Warn("superconducting line fit failed, using calibrated rp",
				"stage", StageIV, "type", string(typ), "error", err)
		}
	}

	br.Points = make([]OperatingPoint, ds.Len())
	for _, p := range ds.All {
		r := record(p, typ)
		br.Points[p.Index] = operatingPoint(p, r, br.Offset, br.OffsetErr, rsh, rshErr, cfg.BiasErr, rload, rloadErr)
	}
	return br, nil
}

// operatingPoint applies R0 = Vb/I - rload and P0 = I²·R0 with first-order
// error propagation.
func operatingPoint(p sweep.Point, r *sweep.Record, offset, offsetErr, rsh, rshErr, biasErr, rload, rloadErr float64) OperatingPoint {
	vb := p.Bias * rsh
	vbErr := math.Hypot(p.Bias*rshErr, biasErr*rsh)
	i := r.Offset - offset
	iErr := math.Hypot(r.OffsetErr, offsetErr)

	r0 := vb/i - rload
	r0Err := math.Sqrt(sq(vb*iErr/(i*i)) + sq(vbErr/i) + sq(rloadErr))
	p0 := i*vb - i*i*rload
	p0Err := math.Sqrt(sq((vb-2*i*rload)*iErr) + sq(i*vbErr) + sq(i*i*rloadErr))

	return OperatingPoint{
		Index: p.Index,
		Bias:  p.Bias,
		Vb:    vb,
		VbErr: vbErr,
		I0:    i,
		I0Err: iErr,
		R0:    r0,
		R0Err: r0Err,
		P0:    p0,
		P0Err: p0Err,
	}
}

func sq(x float64) float64 { return x * x }
