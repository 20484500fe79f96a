package testutil

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-tes/sweep"
)

func TestDefaultSweepShape(t *testing.T) {
	s := DefaultSweep()
	recs := s.Records()
	if want := 2 * (3 + 5 + 3); len(recs) != want {
		t.Fatalf("len = %d, want %d", len(recs), want)
	}
	if err := sweep.Validate(recs); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for i := 1; i < len(recs)/2; i++ {
		if recs[2*i].Bias <= recs[2*i-2].Bias {
			t.Fatalf("bias not ascending at point %d", i)
		}
	}
}

func TestTransitionBiasPower(t *testing.T) {
	tes := DefaultTES()
	for _, r0 := range []float64{0.1, 0.5, 0.9} {
		ib := tes.TransitionBias(r0)
		i0 := tes.TESCurrent(ib, r0)
		RequireRelClose(t, "power", i0*i0*r0, tes.Power, 1e-12)
	}
}

func TestDriveResponseOfResistor(t *testing.T) {
	// A pure conductance reproduces the drive scaled by 1/R.
	const n = 64
	r := 2.0
	out := DriveResponse(n, 1, 6400, func(float64) complex128 { return complex(1/r, 0) })
	for i, v := range out {
		want := 0.25
		if i >= n/2 {
			want = -0.25
		}
		if math.Abs(v-want) > 1e-9 {
			t.Fatalf("out[%d] = %g, want %g", i, v, want)
		}
	}
}
