package analysis

import (
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/algo-tes/fit"
	"github.com/cwbudde/algo-tes/sweep"
)

// Field names a result carried on a [Context].
type Field int

// Context fields, in the order the default pipeline produces them.
const (
	FieldDataset Field = iota
	FieldLoad
	FieldNormal
	FieldOperatingPoints
	FieldSquid
	FieldTload
	FieldSmallSignal
	FieldNoiseModel
	FieldSimpleNoise
	FieldOptimum
)

var fieldNames = [...]string{
	FieldDataset:         "dataset",
	FieldLoad:            "load resistance",
	FieldNormal:          "normal resistance",
	FieldOperatingPoints: "operating points",
	FieldSquid:           "squid noise",
	FieldTload:           "load temperature",
	FieldSmallSignal:     "small-signal fits",
	FieldNoiseModel:      "noise model",
	FieldSimpleNoise:     "simple noise model",
	FieldOptimum:         "optimum bias",
}

func (f Field) String() string {
	if f >= 0 && int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// Context threads the dataset and the derived results through the pipeline.
// Stages never modify the context they are given; they return a copy with
// their own fields set.
type Context struct {
	Config  Config
	Dataset *sweep.Dataset

	Load   *LoadCalibration
	Normal *NormalCalibration
	IV     *IVCurve
	Squid  *SquidCalibration
	Tload  *TloadCalibration

	// Side tables keyed by dataset index.
	SmallSignal map[int]*SmallSignal
	NoiseModel  map[int]*PointNoise
	SimpleNoise map[int]*SimpleNoise

	Optimum *Optimum

	// Failures lists the points left out by each stage.
	Failures []*PointError
}

// NewContext validates cfg and prepares the dataset of the configured
// channel.
func NewContext(records []sweep.Record, cfg Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ds, err := sweep.Prepare(records, cfg.datasetOptions())
	if err != nil {
		return nil, err
	}
	for _, ex := range ds.Excluded {
		cfg.logger().Info("excluded bias point", "channel", ds.Channel, "bias", ex.Bias, "series", ex.Series, "reason", ex.Reason)
	}
	return &Context{Config: cfg, Dataset: ds}, nil
}

// Has reports whether f has been produced.
func (c *Context) Has(f Field) bool {
	switch f {
	case FieldDataset:
		return c.Dataset != nil
	case FieldLoad:
		return c.Load != nil
	case FieldNormal:
		return c.Normal != nil
	case FieldOperatingPoints:
		return c.IV != nil
	case FieldSquid:
		return c.Squid != nil
	case FieldTload:
		return c.Tload != nil
	case FieldSmallSignal:
		return c.SmallSignal != nil
	case FieldNoiseModel:
		return c.NoiseModel != nil
	case FieldSimpleNoise:
		return c.SimpleNoise != nil
	case FieldOptimum:
		return c.Optimum != nil
	}
	return false
}

// StageFailures returns the point failures recorded by the named stage.
func (c *Context) StageFailures(stage string) []*PointError {
	var out []*PointError
	for _, f := range c.Failures {
		if f.Stage == stage {
			out = append(out, f)
		}
	}
	return out
}

func (c *Context) logger() *slog.Logger { return c.Config.logger() }

func (c *Context) clone() *Context {
	next := *c
	next.Failures = slices.Clip(c.Failures)
	return &next
}

// fail records a point failure on c.
func (c *Context) fail(stage string, p sweep.Point, err error) {
	pe := &PointError{Stage: stage, Index: p.Index, Bias: p.Bias, Channel: c.Dataset.Channel, Err: err}
	c.Failures = append(c.Failures, pe)
	c.logger().Warn("point failed",
		"stage", stage, "index", p.Index, "bias", p.Bias, "channel", pe.Channel, "error", err)
}

// Stage is one step of the analysis.
type Stage interface {
	Name() string
	Requires() []Field
	Produces() []Field
	Run(c *Context) (*Context, error)
}

// check returns a SequencingError for the first field s requires that c
// lacks.
func check(c *Context, s Stage) error {
	for _, f := range s.Requires() {
		if !c.Has(f) {
			return &SequencingError{Stage: s.Name(), Missing: f}
		}
	}
	return nil
}

// Pipeline is an ordered list of stages whose requirements are satisfied by
// the stages before them.
type Pipeline struct {
	stages []Stage
}

// NewPipeline checks that every stage's requirements are produced by an
// earlier stage. Only the dataset is assumed present.
func NewPipeline(stages ...Stage) (*Pipeline, error) {
	have := map[Field]bool{FieldDataset: true}
	for _, s := range stages {
		for _, f := range s.Requires() {
			if !have[f] {
				return nil, &SequencingError{Stage: s.Name(), Missing: f}
			}
		}
		for _, f := range s.Produces() {
			have[f] = true
		}
	}
	return &Pipeline{stages: stages}, nil
}

// Stages returns the stage names in run order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

// Run executes the stages in order. On error it returns the context as it
// stood after the last successful stage.
func (p *Pipeline) Run(c *Context) (*Context, error) {
	for _, s := range p.stages {
		c.logger().Debug("stage start", "stage", s.Name())
		next, err := s.Run(c)
		if err != nil {
			return c, err
		}
		c = next
		c.logger().Debug("stage done", "stage", s.Name(), "failures", len(c.StageFailures(s.Name())))
	}
	return c, nil
}

// DefaultStages returns the full analysis in dependency order.
func DefaultStages() []Stage {
	return []Stage{
		FitLoad{},
		FitNormalResistance{},
		SolveIV{},
		FitNormalNoise{},
		FitSCNoise{},
		FitTransition{},
		ModelNoise{},
		FindOptimum{},
	}
}

// Analyze runs the full analysis of records under cfg.
func Analyze(records []sweep.Record, cfg Config) (*Context, error) {
	c, err := NewContext(records, cfg)
	if err != nil {
		return nil, err
	}
	p, err := NewPipeline(DefaultStages()...)
	if err != nil {
		return nil, err
	}
	return p.Run(c)
}

// eachPoint runs fn over pts on at most workers goroutines. Results and
// errors come back in point order.
func eachPoint[T any](workers int, pts []sweep.Point, fn func(sweep.Point) (T, error)) ([]T, []error) {
	out := make([]T, len(pts))
	errs := make([]error, len(pts))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, p := range pts {
		g.Go(func() error {
			out[i], errs[i] = fn(p)
			return nil
		})
	}
	_ = g.Wait()
	return out, errs
}

// noUsablePoints is the error of a stage all of whose points failed.
func noUsablePoints(stage string, region sweep.Region) error {
	return fmt.Errorf("analysis: %s: %w", stage,
		&fit.ConvergenceError{Reason: fmt.Sprintf("no usable %s points", region)})
}
