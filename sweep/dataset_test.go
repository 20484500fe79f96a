package sweep

import (
	"errors"
	"math/rand/v2"
	"strings"
	"testing"
)

func trace(seed uint64, n int) []float64 {
	rng := rand.New(rand.NewPCG(seed, 1))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func pair(ch string, bias float64, series string) []Record {
	base := Record{
		Bias:      bias,
		Series:    series,
		Channel:   ch,
		OffsetErr: 1e-9,
		CutPass:   true,
	}
	noise, didv := base, base
	noise.Type = TypeNoise
	noise.AvgTrace = trace(uint64(bias*1e9)+1, 256)
	didv.Type = TypeDIDV
	didv.AvgTrace = trace(uint64(bias*1e9)+2, 256)
	return []Record{noise, didv}
}

// sweepRecords builds n bias points in descending bias order, interleaved
// so that Prepare has to sort them.
func sweepRecords(ch string, n int) []Record {
	var recs []Record
	for i := n - 1; i >= 0; i-- {
		recs = append(recs, pair(ch, float64(i+1)*1e-5, "s")...)
	}
	return recs
}

func TestValidateShape(t *testing.T) {
	recs := sweepRecords("A", 4)
	if err := Validate(recs); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	// Drop the dIdV record of one bias point.
	bad := append([]Record(nil), recs[:3]...)
	bad = append(bad, recs[4:]...)
	err := Validate(bad)
	if !errors.Is(err, ErrDataShape) {
		t.Fatalf("err = %v, want ErrDataShape", err)
	}
	var shape *DataShapeError
	if !errors.As(err, &shape) {
		t.Fatalf("err = %T, want *DataShapeError", err)
	}
	if shape.Noise != 1 || shape.DIDV != 0 {
		t.Fatalf("counts = (%d,%d), want (1,0)", shape.Noise, shape.DIDV)
	}

	dup := append(sweepRecords("A", 2), pair("A", 1e-5, "t")[0])
	if err := Validate(dup); !errors.Is(err, ErrDataShape) {
		t.Fatalf("duplicate noise: err = %v, want ErrDataShape", err)
	}

	if err := Validate(nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty: err = %v, want ErrEmpty", err)
	}
}

func TestPrepareSortsAndPartitions(t *testing.T) {
	ds, err := Prepare(sweepRecords("A", 10), Options{NumNormal: 3, NumSC: 2})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ds.Len() != 10 {
		t.Fatalf("Len = %d, want 10", ds.Len())
	}
	for i := 1; i < ds.Len(); i++ {
		if ds.All[i].Bias <= ds.All[i-1].Bias {
			t.Fatalf("bias not ascending at %d", i)
		}
	}
	if ds.Normal != (Range{0, 3}) || ds.Transition != (Range{3, 8}) || ds.SC != (Range{8, 10}) {
		t.Fatalf("ranges = %v %v %v", ds.Normal, ds.Transition, ds.SC)
	}
	for i, p := range ds.All {
		if p.Index != i {
			t.Fatalf("point %d has Index %d", i, p.Index)
		}
		if p.Noise.Type != TypeNoise || p.DIDV.Type != TypeDIDV {
			t.Fatalf("point %d records mispaired", i)
		}
		if p.Noise.Bias != p.Bias || p.DIDV.Bias != p.Bias {
			t.Fatalf("point %d records have mismatched bias", i)
		}
		if !ds.Range(p.Region).Contains(i) {
			t.Fatalf("point %d (%v) outside its range", i, p.Region)
		}
	}
}

func TestPrepareDeterministicOrder(t *testing.T) {
	recs := sweepRecords("A", 6)
	a, err := Prepare(recs, Options{NumNormal: 2, NumSC: 2})
	if err != nil {
		t.Fatal(err)
	}
	rev := make([]Record, len(recs))
	for i := range recs {
		rev[len(recs)-1-i] = recs[i]
	}
	b, err := Prepare(rev, Options{NumNormal: 2, NumSC: 2})
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.All {
		if a.All[i].Bias != b.All[i].Bias || a.All[i].Region != b.All[i].Region {
			t.Fatalf("point %d differs between input orders", i)
		}
	}
}

func TestPrepareRemovesBadPairs(t *testing.T) {
	recs := sweepRecords("A", 8)
	// recs are in descending bias; index 2*k is the noise record of the
	// (8-k)-th smallest bias.
	recs[2*3].CutPass = false                    // bias 5e-5 noise
	recs[2*5+1].AvgTrace = make([]float64, 256) // bias 3e-5 dIdV flat
	cut, flat := recs[2*3].Bias, recs[2*5].Bias

	ds, err := Prepare(recs, Options{NumNormal: 2, NumSC: 2, RemoveBad: true})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ds.Len() != 6 {
		t.Fatalf("Len = %d, want 6", ds.Len())
	}
	if len(ds.Excluded) != 2 {
		t.Fatalf("Excluded = %v, want 2 entries", ds.Excluded)
	}
	for _, p := range ds.All {
		if p.Bias == cut || p.Bias == flat {
			t.Fatalf("bad bias %g survived", p.Bias)
		}
	}
	if ds.Normal.Len() != 2 || ds.SC.Len() != 2 || ds.Transition.Len() != 2 {
		t.Fatalf("ranges = %v %v %v", ds.Normal, ds.Transition, ds.SC)
	}
	reasons := map[float64]string{cut: "quality cut", flat: "flat"}
	for _, e := range ds.Excluded {
		if want := reasons[e.Bias]; want == "" || !strings.Contains(e.Reason, want) {
			t.Fatalf("bias %g: reason = %q, want %q", e.Bias, e.Reason, want)
		}
	}
	// Bad points are reported in ascending bias.
	if ds.Excluded[0].Bias != min(cut, flat) || ds.Excluded[1].Bias != max(cut, flat) {
		t.Fatalf("exclusion order = %g, %g", ds.Excluded[0].Bias, ds.Excluded[1].Bias)
	}
}

func TestPrepareAllSCBad(t *testing.T) {
	recs := sweepRecords("A", 6)
	// The two largest biases are superconducting; they come first in recs.
	recs[0].OffsetErr = 0
	recs[3].OffsetErr = 0

	ds, err := Prepare(recs, Options{NumNormal: 2, NumSC: 2, RemoveBad: true})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ds.SC.Len() != 0 {
		t.Fatalf("SC = %v, want empty", ds.SC)
	}
	if ds.Len() != 4 {
		t.Fatalf("Len = %d, want 4", ds.Len())
	}
}

func TestPrepareTransitionOverride(t *testing.T) {
	ds, err := Prepare(sweepRecords("A", 10), Options{
		NumNormal:  3,
		NumSC:      2,
		Transition: &Range{Start: 4, End: 7},
	})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ds.Transition.Len() != 3 || ds.Len() != 8 {
		t.Fatalf("transition = %v, len = %d", ds.Transition, ds.Len())
	}

	_, err = Prepare(sweepRecords("A", 10), Options{NumNormal: 3, NumSC: 2, Transition: &Range{Start: 1, End: 5}})
	if !errors.Is(err, ErrRegionCounts) {
		t.Fatalf("err = %v, want ErrRegionCounts", err)
	}
}

func TestPrepareChannelSelection(t *testing.T) {
	recs := append(sweepRecords("A", 4), sweepRecords("B", 5)...)
	if _, err := Prepare(recs, Options{NumNormal: 1, NumSC: 1}); !errors.Is(err, ErrChannel) {
		t.Fatalf("err = %v, want ErrChannel", err)
	}
	ds, err := Prepare(recs, Options{Channel: "B", NumNormal: 1, NumSC: 1})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if ds.Channel != "B" || ds.Len() != 5 {
		t.Fatalf("channel %q len %d", ds.Channel, ds.Len())
	}
	if _, err := Prepare(recs, Options{Channel: "C"}); !errors.Is(err, ErrChannel) {
		t.Fatalf("missing channel: err = %v, want ErrChannel", err)
	}
}

func TestPrepareRegionCounts(t *testing.T) {
	_, err := Prepare(sweepRecords("A", 4), Options{NumNormal: 3, NumSC: 2})
	if !errors.Is(err, ErrRegionCounts) {
		t.Fatalf("err = %v, want ErrRegionCounts", err)
	}
}

func TestRange(t *testing.T) {
	r := Range{Start: 2, End: 5}
	if r.Len() != 3 || !r.Contains(2) || r.Contains(5) {
		t.Fatalf("range %v misbehaves", r)
	}
	if got := r.Indices(); len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("Indices = %v", got)
	}
	if (Range{Start: 3, End: 1}).Len() != 0 {
		t.Fatal("inverted range has nonzero length")
	}
}
