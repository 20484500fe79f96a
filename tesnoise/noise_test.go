package tesnoise

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-tes/internal/testutil"
)

func paramsFor(tes testutil.TES, ib, r0, l float64) Params {
	return Params{
		Rshunt:     tes.Rshunt,
		Rp:         tes.Rp,
		R0:         r0,
		Beta:       tes.Beta,
		LoopGain:   l,
		Inductance: tes.Inductance,
		Tau0:       tes.Tau0,
		Tc:         tes.Tc,
		Tbath:      tes.Tbath,
		G:          tes.G,
		Tload:      tes.Tload,
		Bias:       ib,
		Squid:      Squid{DC: tes.SquidDC, Pole: tes.SquidPole, N: tes.SquidN},
	}
}

func TestEvaluateMatchesCircuit(t *testing.T) {
	tes := testutil.DefaultTES()
	const r0, l = 0.35, 0.7
	ib := tes.TransitionBias(r0)
	p := paramsFor(tes, ib, r0, l)

	freqs := []float64{10, 100, 1e3, 1e4, 5e4}
	s := Evaluate(p, freqs)
	for k, f := range freqs {
		testutil.RequireRelClose(t, "itot", s.ITot[k], tes.TransitionPSD(f, ib, r0, l), 1e-10)

		sum := s.ITES[k] + s.ILoad[k] + s.ITFN[k] + s.ISquid[k]
		testutil.RequireRelClose(t, "sum of current components", s.ITot[k], sum, 1e-12)

		psum := s.PTES[k] + s.PLoad[k] + s.PTFN[k] + s.PSquid[k]
		testutil.RequireRelClose(t, "sum of power components", s.PTot[k], psum, 1e-12)
		testutil.RequireRelClose(t, "ptot", s.PTot[k]*s.Responsivity[k], s.ITot[k], 1e-12)
	}
}

func TestEvaluateReusesBuffers(t *testing.T) {
	tes := testutil.DefaultTES()
	freqs := []float64{100, 200, 300}
	s := NewSpectra(len(freqs))
	itot := s.ITot
	p := paramsFor(tes, tes.TransitionBias(0.5), 0.5, 0.6)
	s.Evaluate(p, freqs)
	if &s.ITot[0] != &itot[0] {
		t.Fatal("Evaluate reallocated matching buffers")
	}
	testutil.RequireFinite(t, s.PTot)

	fresh := Evaluate(p, freqs)
	if d, err := testutil.MaxRelDiff(s.PTot, fresh.PTot); err != nil || d > 1e-12 {
		t.Fatalf("reused buffers differ from a fresh evaluation: %g, %v", d, err)
	}
}

func TestTFNIsFlatInPower(t *testing.T) {
	tes := testutil.DefaultTES()
	s := Evaluate(paramsFor(tes, tes.TransitionBias(0.2), 0.2, 0.8), []float64{10, 1e3, 1e5})
	for k := range s.PTFN {
		if s.PTFN[k] != s.PTFN[0] {
			t.Fatalf("PTFN varies with frequency: %v", s.PTFN)
		}
	}
	want := 4 * Boltzmann * tes.Tc * tes.Tc * tes.G * (1 + math.Pow(tes.Tbath/tes.Tc, 6)) / 2
	testutil.RequireRelClose(t, "ptfn", s.PTFN[0], want, 1e-12)
}

func TestSquidPSD(t *testing.T) {
	sq := Squid{DC: 2, Pole: 100, N: 1}
	if got := sq.PSD(100); got != 16 {
		t.Fatalf("PSD at knee = %g, want 16", got)
	}
	if got := sq.PSD(1e12); math.Abs(got-4) > 1e-6 {
		t.Fatalf("white level = %g, want 4", got)
	}
}
