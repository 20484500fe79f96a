package analysis

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"testing"

	"github.com/cwbudde/algo-tes/fit"
	"github.com/cwbudde/algo-tes/internal/testutil"
	"github.com/cwbudde/algo-tes/sweep"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(s testutil.Sweep) Config {
	t := s.TES
	return ApplyOptions(
		WithRegionCounts(len(s.NormalBias), len(s.SCBias)),
		WithShunt(t.Rshunt, 0.05*t.Rshunt),
		WithCriticalTemp(t.Tc, 0.05*t.Tc),
		WithBath(t.Tbath, 1e-3),
		WithConductance(t.G, 0.1*t.G),
		WithSamples(64),
		WithSeed(7),
		WithLogger(quietLogger()),
	)
}

// analyzed is the full analysis of the default synthetic sweep, shared by
// the tests that only read it.
var analyzed = sync.OnceValues(func() (*Context, error) {
	s := testutil.DefaultSweep()
	return Analyze(s.Records(), testConfig(s))
})

func fullRun(t *testing.T) *Context {
	t.Helper()
	c, err := analyzed()
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return c
}

func newContext(t *testing.T, s testutil.Sweep, recs []sweep.Record) *Context {
	t.Helper()
	c, err := NewContext(recs, testConfig(s))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return c
}

func runStages(t *testing.T, c *Context, stages ...Stage) *Context {
	t.Helper()
	p, err := NewPipeline(stages...)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	out, err := p.Run(c)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

func TestResistanceCalibrationRoundTrip(t *testing.T) {
	s := testutil.DefaultSweep()
	c := runStages(t, newContext(t, s, s.Records()), FitLoad{}, FitNormalResistance{})

	testutil.RequireRelClose(t, "rload", c.Load.Rload, s.TES.Rload(), 1e-6)
	testutil.RequireRelClose(t, "rp", c.Load.Rp, s.TES.Rp, 1e-6)
	testutil.RequireRelClose(t, "rn", c.Normal.Rn, s.TES.Rn, 1e-6)

	if got := len(c.Load.Points); got != len(s.SCBias) {
		t.Fatalf("load points = %d, want %d", got, len(s.SCBias))
	}
	for _, p := range c.Load.Points {
		testutil.RequireRelClose(t, "sc inductance", p.Inductance, s.TES.Inductance, 1e-4)
	}
	if len(c.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", c.Failures)
	}
}

func TestSolveIVNormalPower(t *testing.T) {
	s := testutil.DefaultSweep()
	tes := s.TES
	c := newContext(t, s, s.Records())
	c.Load = &LoadCalibration{Rload: tes.Rload(), Rp: tes.Rp}

	out, err := SolveIV{}.Run(c)
	if err != nil {
		t.Fatalf("SolveIV: %v", err)
	}
	iv := out.IV
	testutil.RequireRelClose(t, "rn_iv", iv.Rn, tes.Rn, 1e-6)
	testutil.RequireRelClose(t, "rp_iv", iv.Rp, tes.Rp, 1e-6)
	testutil.RequireRelClose(t, "offset", iv.Noise.Offset, tes.Offset, 1e-6)
	testutil.RequireRelClose(t, "rn_iv didv", iv.DIDV.Rn, tes.Rn, 1e-6)

	for _, i := range c.Dataset.Normal.Indices() {
		op := iv.Point(i)
		i0 := op.Bias * tes.Rshunt / (tes.Rload() + tes.Rn)
		want := i0 * i0 * tes.Rn
		testutil.RequireRelClose(t, "p0", op.P0, want, 1e-8)
		testutil.RequireRelClose(t, "r0", op.R0, tes.Rn, 1e-8)
		if !(op.P0Err > 0) || !(op.R0Err > 0) {
			t.Fatalf("point %d: errors p0 %g r0 %g, want positive", i, op.P0Err, op.R0Err)
		}
	}
	for k, i := range c.Dataset.Transition.Indices() {
		testutil.RequireRelClose(t, "transition r0", iv.Point(i).R0, s.Transition[k].R0, 1e-6)
		testutil.RequireRelClose(t, "transition p0", iv.Point(i).P0, tes.Power, 1e-6)
	}
	for _, i := range c.Dataset.SC.Indices() {
		if r0 := iv.Point(i).R0; math.Abs(r0) > 1e-6 {
			t.Fatalf("sc point %d: r0 = %g, want 0", i, r0)
		}
	}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	s := testutil.DefaultSweep()
	c := fullRun(t)

	testutil.RequireRelClose(t, "rload", c.Load.Rload, s.TES.Rload(), 0.01)
	testutil.RequireRelClose(t, "rn", c.Normal.Rn, s.TES.Rn, 0.01)
	testutil.RequireRelClose(t, "rn_iv", c.IV.Rn, s.TES.Rn, 0.01)

	if len(c.UsableSmallSignal()) == 0 {
		t.Fatalf("no usable small-signal fit; failures: %v", c.StageFailures(StageTransition))
	}
	for _, i := range c.UsableSmallSignal() {
		ss := c.SmallSignal[i]
		if ss.State != StatePhysical || !(ss.TauEff > 0) {
			t.Fatalf("point %d: state %v tau_eff %g", i, ss.State, ss.TauEff)
		}
	}

	biases := s.TransitionBiases()
	opt := c.Optimum
	if opt == nil {
		t.Fatal("no optimum")
	}
	if !slices.Contains(biases, opt.Resolution.Bias) {
		t.Fatalf("optimum bias %g not among transition biases %v", opt.Resolution.Bias, biases)
	}
	if !slices.Contains(biases, opt.Tau.Bias) {
		t.Fatalf("tau optimum bias %g not among transition biases %v", opt.Tau.Bias, biases)
	}
	if got, want := opt.Tau.Value, c.SmallSignal[opt.Tau.Index].TauEff; got != want {
		t.Fatalf("tau optimum value = %g, want tau_eff %g", got, want)
	}
	if !(opt.Resolution.R0Fraction > 0 && opt.Resolution.R0Fraction < 1) {
		t.Fatalf("optimum R0/Rn = %g, want within (0, 1)", opt.Resolution.R0Fraction)
	}
}

func TestNoiseModelBands(t *testing.T) {
	s := testutil.DefaultSweep()
	c := fullRun(t)

	if len(c.NoiseModel) == 0 {
		t.Fatalf("empty noise model; failures: %v", c.StageFailures(StageNoiseModel))
	}
	for i, nm := range c.NoiseModel {
		if got, want := len(nm.Freqs), s.NoiseBins-1; got != want {
			t.Fatalf("point %d: %d bins, want %d", i, got, want)
		}
		for _, name := range Components {
			b, ok := nm.Components[name]
			if !ok {
				t.Fatalf("point %d: missing component %s", i, name)
			}
			for k := range b.Center {
				if b.Lower[k] > b.Center[k] || b.Center[k] > b.Upper[k] {
					t.Fatalf("point %d %s bin %d: bounds %g <= %g <= %g violated",
						i, name, k, b.Lower[k], b.Center[k], b.Upper[k])
				}
			}
		}
		e := nm.EnergyRes
		if !(e.Center > 0) || e.Lower > e.Center || e.Center > e.Upper {
			t.Fatalf("point %d: energy resolution %+v", i, e)
		}
		if e.Used+e.Rejected != nm.Samples {
			t.Fatalf("point %d: %d used + %d rejected, want %d samples", i, e.Used, e.Rejected, nm.Samples)
		}
	}
}

func TestNoiseModelIndependentOfWorkers(t *testing.T) {
	c := fullRun(t)

	serial := *c
	serial.Config.Workers = 1
	out, err := ModelNoise{}.Run(&serial)
	if err != nil {
		t.Fatalf("ModelNoise: %v", err)
	}
	for i, nm := range c.NoiseModel {
		got := out.NoiseModel[i]
		if got == nil {
			t.Fatalf("point %d missing in serial run", i)
		}
		if got.EnergyRes != nm.EnergyRes {
			t.Fatalf("point %d: serial %+v, parallel %+v", i, got.EnergyRes, nm.EnergyRes)
		}
		if !slices.Equal(got.Components[CompPTot].Center, nm.Components[CompPTot].Center) {
			t.Fatalf("point %d: ptot medians differ", i)
		}
	}
}

func TestModelNoiseSimple(t *testing.T) {
	c := fullRun(t)
	out, err := ModelNoiseSimple{}.Run(c)
	if err != nil {
		t.Fatalf("ModelNoiseSimple: %v", err)
	}
	if c.SimpleNoise != nil {
		t.Fatal("input context was modified")
	}
	for _, i := range c.UsableSmallSignal() {
		sn := out.SimpleNoise[i]
		if sn == nil {
			t.Fatalf("point %d not modelled", i)
		}
		if !(sn.EnergyRes > 0) || math.IsInf(sn.EnergyRes, 0) {
			t.Fatalf("point %d: energy resolution %g", i, sn.EnergyRes)
		}
		testutil.RequireFinite(t, sn.Spectra.PTot)
	}
}

func TestFindOptimumIdempotent(t *testing.T) {
	c := fullRun(t)
	a, err := FindOptimum{}.Run(c)
	if err != nil {
		t.Fatalf("FindOptimum: %v", err)
	}
	b, err := FindOptimum{}.Run(a)
	if err != nil {
		t.Fatalf("FindOptimum: %v", err)
	}
	if *a.Optimum != *b.Optimum || *a.Optimum != *c.Optimum {
		t.Fatalf("optimum changed between runs: %+v, %+v, %+v", *c.Optimum, *a.Optimum, *b.Optimum)
	}
}

func TestAllSCOffsetErrZero(t *testing.T) {
	s := testutil.DefaultSweep()
	recs := s.Records()
	for i := range recs {
		if slices.Contains(s.SCBias, recs[i].Bias) {
			recs[i].OffsetErr = 0
		}
	}

	c := newContext(t, s, recs)
	if got := c.Dataset.SC.Len(); got != 0 {
		t.Fatalf("sc points after cleaning = %d, want 0", got)
	}
	if got := len(c.Dataset.Excluded); got != len(s.SCBias) {
		t.Fatalf("excluded = %d, want %d", got, len(s.SCBias))
	}

	_, err := Analyze(recs, testConfig(s))
	if !errors.Is(err, fit.ErrConvergence) {
		t.Fatalf("err = %v, want ErrConvergence", err)
	}
	var ce *fit.ConvergenceError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want *fit.ConvergenceError", err)
	}
}

func TestTransitionPointFailureIsLocal(t *testing.T) {
	s := testutil.DefaultSweep()
	recs := s.Records()
	bad := s.TransitionBiases()[1]
	for i := range recs {
		if recs[i].Bias == bad && recs[i].Type == sweep.TypeDIDV {
			recs[i].DriveAmp = 0
		}
	}

	c := runStages(t, newContext(t, s, recs), FitLoad{}, SolveIV{}, FitTransition{})
	fails := c.StageFailures(StageTransition)
	if len(fails) != 1 {
		t.Fatalf("failures = %v, want one", fails)
	}
	pe := fails[0]
	if pe.Bias != bad || pe.Channel != s.Channel {
		t.Fatalf("failure names bias %g channel %q, want %g %q", pe.Bias, pe.Channel, bad, s.Channel)
	}
	if ss := c.SmallSignal[pe.Index]; ss.Usable() || ss.State != StateUnfit {
		t.Fatalf("failed point state = %v", ss.State)
	}
	if got, want := len(c.UsableSmallSignal()), len(s.Transition)-1; got != want {
		t.Fatalf("usable fits = %d, want %d", got, want)
	}
}

func TestFindOptimumTauOverUsableFits(t *testing.T) {
	c := fullRun(t)
	usable := c.UsableSmallSignal()
	if len(usable) < 2 {
		t.Skip("fewer than two usable small-signal fits")
	}
	fastest := usable[0]
	for _, i := range usable {
		if c.SmallSignal[i].TauEff < c.SmallSignal[fastest].TauEff {
			fastest = i
		}
	}
	// Model the noise of one point other than the fastest only.
	modelled := usable[0]
	if modelled == fastest {
		modelled = usable[1]
	}
	cc := *c
	cc.Config.TransitionPoints = []int{modelled}
	modelledCtx, err := ModelNoise{}.Run(&cc)
	if err != nil {
		t.Fatalf("ModelNoise: %v", err)
	}
	out, err := FindOptimum{}.Run(modelledCtx)
	if err != nil {
		t.Fatalf("FindOptimum: %v", err)
	}

	opt := out.Optimum
	if opt.Resolution.Index != modelled {
		t.Fatalf("resolution optimum at %d, want the only modelled point %d", opt.Resolution.Index, modelled)
	}
	if opt.Tau.Index != fastest || opt.Tau.Value != c.SmallSignal[fastest].TauEff {
		t.Fatalf("tau optimum = %+v, want point %d with tau_eff %g", opt.Tau, fastest, c.SmallSignal[fastest].TauEff)
	}
}
