// Package aggregate reduces sets of per-point or per-sample estimates to a
// central value with bounds, under a swappable policy.
package aggregate

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrNoSamples is returned when no finite value is left to aggregate.
var ErrNoSamples = errors.New("aggregate: no finite samples")

// Summary is the aggregate of a set of values.
type Summary struct {
	Center float64
	Lower  float64
	Upper  float64
	Err    float64 // symmetric uncertainty, where the policy defines one

	Used     int
	Rejected int // non-finite inputs left out
}

// Policy reduces a non-empty set of finite values.
type Policy interface {
	Summarize(values []float64) Summary
}

// MeanStd aggregates to the mean, with the sample standard deviation as
// uncertainty and mean ± std as bounds. A single value has zero spread.
type MeanStd struct{}

// Summarize implements Policy.
func (MeanStd) Summarize(values []float64) Summary {
	if len(values) == 1 {
		return Summary{Center: values[0], Lower: values[0], Upper: values[0]}
	}
	mean, std := stat.MeanStdDev(values, nil)
	return Summary{Center: mean, Lower: mean - std, Upper: mean + std, Err: std}
}

// MedianPercentile aggregates to the median with the given lower and upper
// percentiles (0-100) as asymmetric bounds.
type MedianPercentile struct {
	Lower float64
	Upper float64
}

// DefaultPercentiles returns the 10th/90th percentile policy.
func DefaultPercentiles() MedianPercentile { return MedianPercentile{Lower: 10, Upper: 90} }

// Validate checks that the percentiles are ordered and within [0, 100].
func (p MedianPercentile) Validate() error {
	if !(p.Lower >= 0 && p.Lower <= p.Upper && p.Upper <= 100) {
		return fmt.Errorf("aggregate: percentiles (%g, %g) must satisfy 0 <= lower <= upper <= 100", p.Lower, p.Upper)
	}
	return nil
}

// Summarize implements Policy. values is sorted in place. The median and
// both bounds come from the same interpolation, so Lower <= Center <= Upper
// whenever the percentiles are ordered.
func (p MedianPercentile) Summarize(values []float64) Summary {
	sort.Float64s(values)
	lo := percentile(values, p.Lower/100)
	hi := percentile(values, p.Upper/100)
	return Summary{Center: percentile(values, 0.5), Lower: lo, Upper: hi, Err: (hi - lo) / 2}
}

// percentile interpolates linearly between the order statistics of sorted
// at rank (n-1)q. The result is clamped to the two bracketing samples, so
// it is non-decreasing in q and exact for constant data.
func percentile(sorted []float64, q float64) float64 {
	h := float64(len(sorted)-1) * q
	i := int(math.Floor(h))
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	a, b := sorted[i], sorted[i+1]
	return min(max(a+(h-float64(i))*(b-a), a), b)
}

// Aggregate summarises the finite entries of values under p. The input is
// not modified.
func Aggregate(values []float64, p Policy) (Summary, error) {
	finite := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	if len(finite) == 0 {
		return Summary{Rejected: len(values)}, ErrNoSamples
	}
	s := p.Summarize(finite)
	s.Used = len(finite)
	s.Rejected = len(values) - len(finite)
	return s, nil
}

// Band is a per-bin aggregate of spectra.
type Band struct {
	Center []float64
	Lower  []float64
	Upper  []float64

	Rejected int // non-finite samples left out, over all bins
	Empty    int // bins without any finite sample
}

// Bands aggregates a set of equally long spectra bin by bin. samples[i] is
// the i-th spectrum. Bins without a finite value are NaN. Rejected samples
// and empty bins are counted on the band.
func Bands(samples [][]float64, p Policy) (Band, error) {
	if len(samples) == 0 {
		return Band{}, ErrNoSamples
	}
	n := len(samples[0])
	for i, s := range samples {
		if len(s) != n {
			return Band{}, fmt.Errorf("aggregate: sample %d has %d bins, want %d", i, len(s), n)
		}
	}

	b := Band{
		Center: make([]float64, n),
		Lower:  make([]float64, n),
		Upper:  make([]float64, n),
	}
	column := make([]float64, 0, len(samples))
	for k := range n {
		column = column[:0]
		for _, s := range samples {
			if v := s[k]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				column = append(column, v)
			}
		}
		b.Rejected += len(samples) - len(column)
		if len(column) == 0 {
			b.Center[k], b.Lower[k], b.Upper[k] = math.NaN(), math.NaN(), math.NaN()
			b.Empty++
			continue
		}
		s := p.Summarize(column)
		b.Center[k], b.Lower[k], b.Upper[k] = s.Center, s.Lower, s.Upper
	}
	return b, nil
}
