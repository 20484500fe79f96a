package testutil

import (
	"fmt"
	"math"
	"testing"
)

// RelDiff returns |got - want| / |want|, or |got| when want is zero.
func RelDiff(got, want float64) float64 {
	if want == 0 {
		return math.Abs(got)
	}
	return math.Abs(got-want) / math.Abs(want)
}

// RequireRelClose fails t if got is not within rel of want.
func RequireRelClose(t *testing.T, name string, got, want, rel float64) {
	t.Helper()
	if d := RelDiff(got, want); !(d <= rel) {
		t.Fatalf("%s = %g, want %g (rel diff %.3g > %.3g)", name, got, want, d, rel)
	}
}

// RequireSliceNearlyEqual fails t if got and want differ in length or if
// any element pair exceeds eps (absolute tolerance).
func RequireSliceNearlyEqual(t *testing.T, got, want []float64, eps float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range got {
		if diff := math.Abs(got[i] - want[i]); diff > eps {
			t.Fatalf("index %d: got %v, want %v (diff %v > eps %v)", i, got[i], want[i], diff, eps)
		}
	}
}

// RequireFinite fails t if any element is NaN or Inf.
func RequireFinite(t *testing.T, data []float64) {
	t.Helper()
	for i, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("index %d: non-finite value %v", i, v)
		}
	}
}

// MaxRelDiff returns the largest elementwise [RelDiff] of got against want.
// Returns an error if the slices differ in length.
func MaxRelDiff(got, want []float64) (float64, error) {
	if len(got) != len(want) {
		return 0, fmt.Errorf("length mismatch: %d vs %d", len(got), len(want))
	}
	maxDiff := 0.0
	for i := range got {
		if d := RelDiff(got[i], want[i]); d > maxDiff || math.IsNaN(d) {
			maxDiff = d
		}
	}
	return maxDiff, nil
}
