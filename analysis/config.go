package analysis

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"

	"github.com/cwbudde/algo-tes/didv"
	"github.com/cwbudde/algo-tes/stats/aggregate"
	"github.com/cwbudde/algo-tes/sweep"
	"github.com/cwbudde/algo-tes/tesnoise"
)

// Config holds the analysis settings of one channel.
type Config struct {
	Channel string

	Rshunt    float64 // Ω
	RshuntErr float64
	BiasErr   float64 // bias current uncertainty, A

	Tbath    float64 // K
	TbathErr float64
	Tc       float64 // K
	TcErr    float64
	G        float64 // thermal conductance, W/K
	GErr     float64

	NumNormal     int
	NumSC         int
	Transition    *sweep.Range // optional override, indices of the sorted sweep
	RemoveBad     bool
	FlatThreshold int

	OutputDir string

	NormalNoiseRange tesnoise.Range
	SCNoiseRange     tesnoise.Range
	SquidGuess       tesnoise.Squid
	TloadGuess       float64
	ThermalN         float64

	Correlation didv.ResistanceCorrelation

	// TransitionPoints selects the transition points of the noise model by
	// dataset index. Nil models all of them.
	TransitionPoints []int

	Samples       int
	Percentiles   aggregate.MedianPercentile
	TauCollect    float64 // phonon collection time, s
	CollectionEff float64

	Seed    uint64
	Workers int // zero uses GOMAXPROCS

	Logger *slog.Logger // nil uses slog.Default()
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns the conventional analysis settings. The thermal
// parameters are unset and must be supplied before noise modelling.
func DefaultConfig() Config {
	return Config{
		Rshunt:           5e-3,
		RshuntErr:        0.05 * 5e-3,
		RemoveBad:        true,
		FlatThreshold:    sweep.DefaultFlatThreshold,
		NormalNoiseRange: tesnoise.Range{Low: 10, High: 3e4},
		SCNoiseRange:     tesnoise.Range{Low: 3e3, High: 1e5},
		SquidGuess:       tesnoise.Squid{DC: 6e-12, Pole: 200, N: 0.7},
		TloadGuess:       0.03,
		ThermalN:         tesnoise.DefaultThermalExponent,
		Correlation:      didv.DefaultResistanceCorrelation(),
		Samples:          500,
		Percentiles:      aggregate.DefaultPercentiles(),
		TauCollect:       20e-6,
		CollectionEff:    1,
	}
}

// ApplyOptions applies zero or more options to the default config.
func ApplyOptions(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithChannel selects the channel to analyse.
func WithChannel(name string) Option {
	return func(cfg *Config) { cfg.Channel = name }
}

// WithShunt sets the shunt resistance and its uncertainty.
func WithShunt(r, err float64) Option {
	return func(cfg *Config) {
		if r > 0 && err >= 0 {
			cfg.Rshunt, cfg.RshuntErr = r, err
		}
	}
}

// WithBiasErr sets the bias current uncertainty.
func WithBiasErr(err float64) Option {
	return func(cfg *Config) {
		if err >= 0 {
			cfg.BiasErr = err
		}
	}
}

// WithBath sets the bath temperature and its uncertainty.
func WithBath(t, err float64) Option {
	return func(cfg *Config) {
		if t >= 0 && err >= 0 {
			cfg.Tbath, cfg.TbathErr = t, err
		}
	}
}

// WithCriticalTemp sets the critical temperature and its uncertainty.
func WithCriticalTemp(t, err float64) Option {
	return func(cfg *Config) {
		if t > 0 && err >= 0 {
			cfg.Tc, cfg.TcErr = t, err
		}
	}
}

// WithConductance sets the thermal conductance to the bath and its
// uncertainty.
func WithConductance(g, err float64) Option {
	return func(cfg *Config) {
		if g > 0 && err >= 0 {
			cfg.G, cfg.GErr = g, err
		}
	}
}

// WithRegionCounts sets the number of normal and superconducting points.
func WithRegionCounts(normal, sc int) Option {
	return func(cfg *Config) {
		if normal >= 0 && sc >= 0 {
			cfg.NumNormal, cfg.NumSC = normal, sc
		}
	}
}

// WithTransitionRange restricts the transition region to [start, end) of
// the sorted sweep.
func WithTransitionRange(start, end int) Option {
	return func(cfg *Config) {
		cfg.Transition = &sweep.Range{Start: start, End: end}
	}
}

// WithBadSeriesRemoval toggles removal of points that failed quality cuts.
func WithBadSeriesRemoval(on bool) Option {
	return func(cfg *Config) { cfg.RemoveBad = on }
}

// WithOutputDir sets the directory for result artifacts.
func WithOutputDir(dir string) Option {
	return func(cfg *Config) { cfg.OutputDir = dir }
}

// WithNoiseRanges sets the frequency ranges of the normal and
// superconducting noise-floor fits.
func WithNoiseRanges(normal, sc tesnoise.Range) Option {
	return func(cfg *Config) {
		if normal.High > normal.Low && sc.High > sc.Low {
			cfg.NormalNoiseRange, cfg.SCNoiseRange = normal, sc
		}
	}
}

// WithCorrelation sets the assumed resistance correlations of the
// physical-units prior.
func WithCorrelation(c didv.ResistanceCorrelation) Option {
	return func(cfg *Config) { cfg.Correlation = c }
}

// WithTransitionPoints selects the transition points to model.
func WithTransitionPoints(idx ...int) Option {
	return func(cfg *Config) { cfg.TransitionPoints = append([]int(nil), idx...) }
}

// WithSamples sets the number of Monte-Carlo samples per point.
func WithSamples(n int) Option {
	return func(cfg *Config) {
		if n > 0 {
			cfg.Samples = n
		}
	}
}

// WithPercentiles sets the lower and upper percentile bounds.
func WithPercentiles(lower, upper float64) Option {
	return func(cfg *Config) {
		cfg.Percentiles = aggregate.MedianPercentile{Lower: lower, Upper: upper}
	}
}

// WithCollection sets the phonon collection time and efficiency of the
// energy-resolution estimate.
func WithCollection(tau, eff float64) Option {
	return func(cfg *Config) {
		if tau > 0 && eff > 0 {
			cfg.TauCollect, cfg.CollectionEff = tau, eff
		}
	}
}

// WithSeed sets the Monte-Carlo seed.
func WithSeed(seed uint64) Option {
	return func(cfg *Config) { cfg.Seed = seed }
}

// WithWorkers bounds the number of points modelled concurrently.
func WithWorkers(n int) Option {
	return func(cfg *Config) {
		if n >= 0 {
			cfg.Workers = n
		}
	}
}

// WithLogger sets the logger of the pipeline.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) { cfg.Logger = l }
}

// Validate checks the settings every stage depends on.
func (c *Config) Validate() error {
	switch {
	case !(c.Rshunt > 0):
		return &ConfigurationError{Option: "rshunt", Reason: fmt.Sprintf("must be positive, got %g", c.Rshunt)}
	case !(c.RshuntErr >= 0):
		return &ConfigurationError{Option: "rshunt_err", Reason: fmt.Sprintf("must be non-negative, got %g", c.RshuntErr)}
	case c.NumNormal < 1:
		return &ConfigurationError{Option: "nnorm", Reason: "need at least one normal point"}
	case c.NumSC < 1:
		return &ConfigurationError{Option: "nsc", Reason: "need at least one superconducting point"}
	case c.Samples < 1:
		return &ConfigurationError{Option: "samples", Reason: fmt.Sprintf("must be positive, got %d", c.Samples)}
	case !(c.TauCollect > 0) || !(c.CollectionEff > 0):
		return &ConfigurationError{Option: "collection", Reason: "collection time and efficiency must be positive"}
	}
	if err := c.Percentiles.Validate(); err != nil {
		return &ConfigurationError{Option: "percentiles", Reason: err.Error()}
	}
	if err := c.Correlation.Validate(); err != nil {
		return &ConfigurationError{Option: "correlation", Reason: err.Error()}
	}
	return nil
}

// validateThermal checks the thermal parameters needed by noise modelling.
// Sampling also needs a positive uncertainty on each of them.
func (c *Config) validateThermal(sampling bool) error {
	for _, p := range []struct {
		name     string
		val, err float64
		min      float64
	}{
		{"tc", c.Tc, c.TcErr, math.SmallestNonzeroFloat64},
		{"g", c.G, c.GErr, math.SmallestNonzeroFloat64},
		{"tbath", c.Tbath, c.TbathErr, 0},
	} {
		if !(p.val >= p.min) || math.IsInf(p.val, 0) {
			return &ConfigurationError{Option: p.name, Reason: fmt.Sprintf("invalid value %g", p.val)}
		}
		if !(p.err >= 0) || (sampling && p.err == 0) {
			return &ConfigurationError{Option: p.name + "_err", Reason: fmt.Sprintf("invalid uncertainty %g", p.err)}
		}
	}
	if c.Tbath >= c.Tc {
		return &ConfigurationError{Option: "tbath", Reason: fmt.Sprintf("bath %g K not below Tc %g K", c.Tbath, c.Tc)}
	}
	return nil
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (c *Config) datasetOptions() sweep.Options {
	return sweep.Options{
		Channel:       c.Channel,
		NumNormal:     c.NumNormal,
		NumSC:         c.NumSC,
		Transition:    c.Transition,
		RemoveBad:     c.RemoveBad,
		FlatThreshold: c.FlatThreshold,
	}
}
