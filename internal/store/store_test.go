package store

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/cwbudde/algo-tes/analysis"
	"github.com/cwbudde/algo-tes/internal/testutil"
	"github.com/cwbudde/algo-tes/stats/aggregate"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func config(s testutil.Sweep) analysis.Config {
	tes := s.TES
	return analysis.ApplyOptions(
		analysis.WithRegionCounts(len(s.NormalBias), len(s.SCBias)),
		analysis.WithShunt(tes.Rshunt, 0.05*tes.Rshunt),
		analysis.WithCriticalTemp(tes.Tc, 0.05*tes.Tc),
		analysis.WithBath(tes.Tbath, 1e-3),
		analysis.WithConductance(tes.G, 0.1*tes.G),
		analysis.WithSamples(32),
		analysis.WithSeed(3),
		analysis.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

var analyzed = sync.OnceValues(func() (*analysis.Context, error) {
	s := testutil.DefaultSweep()
	return analysis.Analyze(s.Records(), config(s))
})

func TestSaveRunRoundTrip(t *testing.T) {
	c, err := analyzed()
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	s := tempDB(t)

	id, err := s.SaveRun(c)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.ID != id || run.Channel != c.Dataset.Channel {
		t.Fatalf("run = %+v", run)
	}
	if run.Rload != c.Load.Rload || run.Rn != c.Normal.Rn || run.RnIV != c.IV.Rn || run.Tload != c.Tload.Tload {
		t.Fatalf("calibration not stored: %+v", run)
	}
	if run.Resolution != c.Optimum.Resolution || run.Tau != c.Optimum.Tau {
		t.Fatalf("optimum = %+v %+v, want %+v", run.Resolution, run.Tau, *c.Optimum)
	}

	pts, err := s.Points(id)
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	if len(pts) != len(c.Dataset.All) {
		t.Fatalf("points = %d, want %d", len(pts), len(c.Dataset.All))
	}
	for _, p := range pts {
		if got, want := p.R0, c.IV.Point(p.Index).R0; got != want {
			t.Fatalf("point %d: r0 %g, want %g", p.Index, got, want)
		}
		nm := c.NoiseModel[p.Index]
		if nm == nil {
			if !math.IsNaN(p.EnergyRes) {
				t.Fatalf("point %d: energy resolution %g without noise model", p.Index, p.EnergyRes)
			}
			continue
		}
		if p.EnergyRes != nm.EnergyRes.Center || p.State != "physical" {
			t.Fatalf("point %d: %+v", p.Index, p)
		}

		freqs, band, ok, err := s.Band(id, p.Index, analysis.CompPTot)
		if err != nil || !ok {
			t.Fatalf("Band: ok %v err %v", ok, err)
		}
		if !slices.Equal(freqs, nm.Freqs) || !slices.Equal(band.Center, nm.Components[analysis.CompPTot].Center) {
			t.Fatalf("point %d: ptot band differs", p.Index)
		}
	}
}

func TestSavePartialRun(t *testing.T) {
	ts := testutil.DefaultSweep()
	c, err := analysis.NewContext(ts.Records(), config(ts))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	s := tempDB(t)

	id, err := s.SaveRun(c)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	run, err := s.GetRun(id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if !math.IsNaN(run.Rload) || run.Resolution.Index != -1 {
		t.Fatalf("unreached values stored: %+v", run)
	}
	pts, err := s.Points(id)
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	for _, p := range pts {
		if p.State != "" || !math.IsNaN(p.R0) {
			t.Fatalf("point %d: %+v", p.Index, p)
		}
	}
	if _, _, ok, err := s.Band(id, 0, analysis.CompPTot); ok || err != nil {
		t.Fatalf("Band: ok %v err %v", ok, err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := s.SaveRun(nil); err == nil {
		t.Fatal("nil context accepted")
	}
}

func TestListRuns(t *testing.T) {
	ts := testutil.DefaultSweep()
	c, err := analysis.NewContext(ts.Records(), config(ts))
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	s := tempDB(t)

	first, err := s.SaveRun(c)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	second, err := s.SaveRun(c)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	ids, err := s.ListRuns()
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(ids) != 2 || !slices.Contains(ids, first) || !slices.Contains(ids, second) {
		t.Fatalf("ids = %v", ids)
	}
}

func TestStoredBandKeepsNaN(t *testing.T) {
	nan := math.NaN()
	b := aggregate.Band{Center: []float64{1, nan}, Lower: []float64{0.5, nan}, Upper: []float64{2, math.Inf(1)}}
	got := bandJSON(b).band()
	if got.Center[0] != 1 || !math.IsNaN(got.Center[1]) || !math.IsNaN(got.Upper[1]) {
		t.Fatalf("got %+v", got)
	}
}
