package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/algo-tes/didv"
	"github.com/cwbudde/algo-tes/fit"
	"github.com/cwbudde/algo-tes/stats/aggregate"
	"github.com/cwbudde/algo-tes/sweep"
	"github.com/cwbudde/algo-tes/tesnoise"
)

// Noise model components. Current noise is in A²/Hz, power noise in W²/Hz.
// CompSPSD is the measured PSD referred to power through the sampled
// responsivity.
const (
	CompITES   = "ites"
	CompILoad  = "iload"
	CompITFN   = "itfn"
	CompISquid = "isquid"
	CompITot   = "itot"
	CompPTES   = "ptes"
	CompPLoad  = "pload"
	CompPTFN   = "ptfn"
	CompPSquid = "psquid"
	CompPTot   = "ptot"
	CompSPSD   = "s_psd"
)

// Components lists the component names in report order.
var Components = []string{
	CompITES, CompILoad, CompITFN, CompISquid, CompITot,
	CompPTES, CompPLoad, CompPTFN, CompPSquid, CompPTot,
	CompSPSD,
}

// SampledNames orders the dimensions of the Monte-Carlo distribution: the
// physical small-signal parameters followed by Tc, Tbath and G.
var SampledNames = append(slices.Clone(didv.PhysicalNames), "tc", "tbath", "g")

var errUnusable = errors.New("no usable physical-units small-signal fit")

func components(s *tesnoise.Spectra, spsd []float64) [][]float64 {
	return [][]float64{
		s.ITES, s.ILoad, s.ITFN, s.ISquid, s.ITot,
		s.PTES, s.PLoad, s.PTFN, s.PSquid, s.PTot,
		spsd,
	}
}

// PointNoise is the sampled noise model of one transition point: for each
// component the per-bin median with percentile bounds.
type PointNoise struct {
	Index int
	Bias  float64
	Freqs []float64 // the measured grid without its DC bin

	Components map[string]aggregate.Band
	EnergyRes  aggregate.Summary // eV
	Samples    int
}

// SimpleNoise is the noise model of one transition point at the fitted
// parameters, without uncertainty.
type SimpleNoise struct {
	Index int
	Bias  float64

	Spectra   *tesnoise.Spectra
	SPSD      []float64
	EnergyRes float64 // eV
	TauEff    float64
}

// selectedPoints returns the transition points to model.
func selectedPoints(c *Context) ([]sweep.Point, error) {
	ds := c.Dataset
	if c.Config.TransitionPoints == nil {
		return ds.Points(ds.Transition), nil
	}
	var pts []sweep.Point
	for _, i := range c.Config.TransitionPoints {
		if !ds.Transition.Contains(i) {
			return nil, &ConfigurationError{
				Option: "transition_points",
				Reason: fmt.Sprintf("index %d outside transition range [%d, %d)", i, ds.Transition.Start, ds.Transition.End),
			}
		}
		pts = append(pts, ds.All[i])
	}
	return pts, nil
}

// usablePoints splits pts into those with a physical-units fit and records
// a failure for the rest.
func usablePoints(c *Context, stage string, pts []sweep.Point) []sweep.Point {
	var out []sweep.Point
	for _, p := range pts {
		ss := c.SmallSignal[p.Index]
		if !ss.Usable() {
			err := errUnusable
			if ss != nil && ss.Err != nil {
				err = fmt.Errorf("%w: %w", errUnusable, ss.Err)
			}
			c.fail(stage, p, err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// noiseInputs are the stage-wide inputs of the noise model.
type noiseInputs struct {
	squid    tesnoise.Squid
	tload    float64
	thermalN float64
}

// params maps a point in SampledNames order to noise-model parameters.
func (in noiseInputs) params(x []float64, bias float64) tesnoise.Params {
	return tesnoise.Params{
		Rshunt:     x[0],
		Rp:         x[1],
		R0:         x[2],
		Beta:       x[3],
		LoopGain:   x[4],
		Inductance: x[5],
		Tau0:       x[6],
		Tc:         x[8],
		Tbath:      x[9],
		G:          x[10],
		Tload:      in.tload,
		Bias:       bias,
		Squid:      in.squid,
		ThermalN:   in.thermalN,
	}
}

func measuredPSD(p sweep.Point) (freqs, psd []float64, err error) {
	f, s := noisePSD(p)
	if len(f) < 2 || len(f) != len(s) {
		return nil, nil, fmt.Errorf("noise record has %d frequencies for %d PSD bins", len(f), len(s))
	}
	return f[1:], s[1:], nil
}

// ModelNoise propagates the small-signal covariance, extended by the
// uncertainties of Tc, Tbath and G, into the noise components and the
// energy resolution by Monte-Carlo sampling. Each point draws from its own
// stream seeded by (Config.Seed, index), so results do not depend on the
// worker count.
type ModelNoise struct{}

func (ModelNoise) Name() string { return StageNoiseModel }
func (ModelNoise) Requires() []Field {
	return []Field{FieldSmallSignal, FieldSquid, FieldTload}
}
func (ModelNoise) Produces() []Field { return []Field{FieldNoiseModel} }

func (s ModelNoise) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	cfg := c.Config
	if err := cfg.validateThermal(true); err != nil {
		return nil, err
	}
	selected, err := selectedPoints(c)
	if err != nil {
		return nil, err
	}

	next := c.clone()
	pts := usablePoints(next, StageNoiseModel, selected)
	in := noiseInputs{squid: c.Squid.Squid, tload: c.Tload.Tload, thermalN: cfg.ThermalN}
	models, errs := eachPoint(cfg.workers(), pts, func(p sweep.Point) (*PointNoise, error) {
		return samplePoint(&cfg, in, p, c.SmallSignal[p.Index].Physical)
	})

	next.NoiseModel = make(map[int]*PointNoise, len(pts))
	for i, p := range pts {
		if errs[i] != nil {
			next.fail(StageNoiseModel, p, errs[i])
			continue
		}
		next.NoiseModel[p.Index] = models[i]
	}
	if len(next.NoiseModel) == 0 && len(selected) > 0 {
		return nil, noUsablePoints(StageNoiseModel, sweep.RegionTransition)
	}
	c.logger().Info("noise modelled", "stage", StageNoiseModel,
		"used", len(next.NoiseModel), "excluded", len(selected)-len(next.NoiseModel), "samples", cfg.Samples)
	return next, nil
}

// covariance extends the physical-units covariance by the independent
// thermal variances.
func covariance(phys *mat.SymDense, cfg *Config) *mat.SymDense {
	n := phys.SymmetricDim()
	cov := mat.NewSymDense(n+3, nil)
	for i := range n {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, phys.At(i, j))
		}
	}
	cov.SetSym(n, n, cfg.TcErr*cfg.TcErr)
	cov.SetSym(n+1, n+1, cfg.TbathErr*cfg.TbathErr)
	cov.SetSym(n+2, n+2, cfg.GErr*cfg.GErr)
	return cov
}

func samplePoint(cfg *Config, in noiseInputs, p sweep.Point, phys *didv.PhysicalFit) (*PointNoise, error) {
	freqs, psd, err := measuredPSD(p)
	if err != nil {
		return nil, err
	}
	mean := append(phys.Params.Vector(), cfg.Tc, cfg.Tbath, cfg.G)
	sampler, err := fit.NewSampler(SampledNames, mean, covariance(phys.Cov, cfg))
	if err != nil {
		return nil, err
	}

	n := cfg.Samples
	rows := make([][][]float64, len(Components))
	for k := range rows {
		rows[k] = make([][]float64, n)
	}
	energy := make([]float64, n)

	rng := rand.New(rand.NewPCG(cfg.Seed, uint64(p.Index)))
	x := make([]float64, sampler.Dim())
	spec := tesnoise.NewSpectra(len(freqs))
	spsd := make([]float64, len(freqs))
	for i := range n {
		sampler.Sample(rng, x)
		spec.Evaluate(in.params(x, p.Bias), freqs)
		spec.PowerReferred(spsd, psd)
		for k, comp := range components(spec, spsd) {
			rows[k][i] = slices.Clone(comp)
		}
		energy[i], err = tesnoise.EnergyResolution(freqs, spsd, cfg.TauCollect, cfg.CollectionEff)
		if err != nil {
			energy[i] = math.NaN()
		}
	}

	out := &PointNoise{
		Index:      p.Index,
		Bias:       p.Bias,
		Freqs:      freqs,
		Components: make(map[string]aggregate.Band, len(Components)),
		Samples:    n,
	}
	for k, name := range Components {
		band, err := aggregate.Bands(rows[k], cfg.Percentiles)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if band.Rejected > 0 {
			cfg.logger().Warn("non-finite noise samples excluded", "stage", StageNoiseModel, "index", p.Index,
				"bias", p.Bias, "component", name, "rejected", band.Rejected, "empty_bins", band.Empty)
		}
		out.Components[name] = band
	}
	out.EnergyRes, err = aggregate.Aggregate(energy, cfg.Percentiles)
	if err != nil {
		return nil, fmt.Errorf("energy resolution: %w", err)
	}
	if out.EnergyRes.Rejected > 0 {
		cfg.logger().Warn("energy resolution samples excluded", "stage", StageNoiseModel, "index", p.Index,
			"bias", p.Bias, "rejected", out.EnergyRes.Rejected)
	}
	return out, nil
}

// ModelNoiseSimple evaluates the noise model and energy resolution at the
// fitted parameters of every usable transition point.
type ModelNoiseSimple struct{}

func (ModelNoiseSimple) Name() string { return StageSimpleNoise }
func (ModelNoiseSimple) Requires() []Field {
	return []Field{FieldSmallSignal, FieldSquid, FieldTload}
}
func (ModelNoiseSimple) Produces() []Field { return []Field{FieldSimpleNoise} }

func (s ModelNoiseSimple) Run(c *Context) (*Context, error) {
	if err := check(c, s); err != nil {
		return nil, err
	}
	cfg := c.Config
	if err := cfg.validateThermal(false); err != nil {
		return nil, err
	}
	selected, err := selectedPoints(c)
	if err != nil {
		return nil, err
	}

	next := c.clone()
	in := noiseInputs{squid: c.Squid.Squid, tload: c.Tload.Tload, thermalN: cfg.ThermalN}
	next.SimpleNoise = make(map[int]*SimpleNoise)
	for _, p := range usablePoints(next, StageSimpleNoise, selected) {
		ss := c.SmallSignal[p.Index]
		freqs, psd, err := measuredPSD(p)
		if err != nil {
			next.fail(StageSimpleNoise, p, err)
			continue
		}
		x := append(ss.Physical.Params.Vector(), cfg.Tc, cfg.Tbath, cfg.G)
		spec := tesnoise.Evaluate(in.params(x, p.Bias), freqs)
		spsd := make([]float64, len(freqs))
		spec.PowerReferred(spsd, psd)
		res, err := tesnoise.EnergyResolution(freqs, spsd, cfg.TauCollect, cfg.CollectionEff)
		if err != nil {
			next.fail(StageSimpleNoise, p, err)
			continue
		}
		next.SimpleNoise[p.Index] = &SimpleNoise{
			Index:     p.Index,
			Bias:      p.Bias,
			Spectra:   spec,
			SPSD:      spsd,
			EnergyRes: res,
			TauEff:    ss.TauEff,
		}
	}
	return next, nil
}
