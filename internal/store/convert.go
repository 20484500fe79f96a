package store

import (
	"database/sql"
	"math"

	"github.com/cwbudde/algo-tes/analysis"
	"github.com/cwbudde/algo-tes/stats/aggregate"
)

// nullable maps non-finite values to NULL.
func nullable(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func value(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func text(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func index(i int) any {
	if i < 0 {
		return nil
	}
	return i
}

func unindex(v sql.NullInt64) int {
	if !v.Valid {
		return -1
	}
	return int(v.Int64)
}

func runOf(c *analysis.Context) Run {
	nan := math.NaN()
	unset := analysis.OptimumPoint{Index: -1, Bias: nan, R0Fraction: nan, Value: nan}
	r := Run{
		Channel: c.Dataset.Channel,
		Rshunt:  c.Config.Rshunt,
		Rload:   nan, RloadErr: nan, Rp: nan, RpErr: nan,
		Rn: nan, RnErr: nan, RnIV: nan, RnIVErr: nan,
		SquidDC: nan, SquidPole: nan, SquidN: nan,
		Tload: nan, TloadErr: nan,
		Resolution: unset,
		Tau:        unset,
	}
	if c.Load != nil {
		r.Rload, r.RloadErr, r.Rp, r.RpErr = c.Load.Rload, c.Load.RloadErr, c.Load.Rp, c.Load.RpErr
	}
	if c.Normal != nil {
		r.Rn, r.RnErr = c.Normal.Rn, c.Normal.RnErr
	}
	if c.IV != nil {
		r.RnIV, r.RnIVErr = c.IV.Rn, c.IV.RnErr
	}
	if c.Squid != nil {
		r.SquidDC, r.SquidPole, r.SquidN = c.Squid.Squid.DC, c.Squid.Squid.Pole, c.Squid.Squid.N
	}
	if c.Tload != nil {
		r.Tload, r.TloadErr = c.Tload.Tload, c.Tload.TloadErr
	}
	if c.Optimum != nil {
		r.Resolution, r.Tau = c.Optimum.Resolution, c.Optimum.Tau
	}
	return r
}

func pointsOf(c *analysis.Context) []Point {
	nan := math.NaN()
	out := make([]Point, 0, len(c.Dataset.All))
	for _, sp := range c.Dataset.All {
		p := Point{
			Index:  sp.Index,
			Bias:   sp.Bias,
			Region: sp.Region.String(),
			R0:     nan, R0Err: nan, P0: nan, P0Err: nan,
			Beta: nan, LoopGain: nan, Inductance: nan, Tau0: nan,
			TauEff: nan, TauEffErr: nan,
			EnergyRes: nan, EnergyResLower: nan, EnergyResUpper: nan,
		}
		if c.IV != nil {
			op := c.IV.Point(sp.Index)
			p.R0, p.R0Err, p.P0, p.P0Err = op.R0, op.R0Err, op.P0, op.P0Err
		}
		if ss := c.SmallSignal[sp.Index]; ss != nil {
			p.State = ss.State.String()
			switch {
			case ss.Physical != nil:
				ph := ss.Physical.Params
				p.Beta, p.LoopGain, p.Inductance, p.Tau0 = ph.Beta, ph.LoopGain, ph.Inductance, ph.Tau0
			case ss.Irwin != nil:
				ir := ss.Irwin.Params
				p.Beta, p.LoopGain, p.Inductance, p.Tau0 = ir.Beta, ir.LoopGain, ir.Inductance, ir.Tau0
			}
			if ss.Usable() {
				p.TauEff, p.TauEffErr = ss.TauEff, ss.TauEffErr
			}
		}
		if nm := c.NoiseModel[sp.Index]; nm != nil {
			p.EnergyRes, p.EnergyResLower, p.EnergyResUpper = nm.EnergyRes.Center, nm.EnergyRes.Lower, nm.EnergyRes.Upper
		}
		for _, f := range c.Failures {
			if f.Index == sp.Index {
				p.Error = f.Error()
				break
			}
		}
		out = append(out, p)
	}
	return out
}

// storedBand is the JSON form of a band. JSON has no NaN, so empty bins
// are null.
type storedBand struct {
	Center []*float64 `json:"center"`
	Lower  []*float64 `json:"lower"`
	Upper  []*float64 `json:"upper"`
}

func bandJSON(b aggregate.Band) storedBand {
	return storedBand{Center: toJSON(b.Center), Lower: toJSON(b.Lower), Upper: toJSON(b.Upper)}
}

func (s storedBand) band() aggregate.Band {
	return aggregate.Band{Center: fromJSON(s.Center), Lower: fromJSON(s.Lower), Upper: fromJSON(s.Upper)}
}

func toJSON(v []float64) []*float64 {
	out := make([]*float64, len(v))
	for i := range v {
		if !math.IsNaN(v[i]) && !math.IsInf(v[i], 0) {
			out[i] = &v[i]
		}
	}
	return out
}

func fromJSON(v []*float64) []float64 {
	out := make([]float64, len(v))
	for i, p := range v {
		if p == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *p
		}
	}
	return out
}
