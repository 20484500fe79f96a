package tesnoise

import (
	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/algo-tes/dsp/conv"
)

// Smoothing windows of FlattenPSD.
const (
	lowWindow     = 3
	highWindow    = 45
	lowBandFactor = 0.0025 // fraction of bins smoothed with lowWindow
)

// FlattenPSD suppresses narrow lines in a one-sided PSD so that the noise
// floor fits are not pulled by them. Bins above DC are smoothed with a
// short window near DC and a wide one above; the result is then forced to
// be non-increasing in frequency. The DC bin is kept as is.
func FlattenPSD(freqs, psd []float64) []float64 {
	out := make([]float64, len(psd))
	if len(psd) == 0 {
		return out
	}
	out[0] = psd[0]
	if len(psd) > 1 {
		body := psd[1:]
		div := int(lowBandFactor * float64(len(psd)))
		low := SavGolLinear(body, lowWindow)
		high := SavGolLinear(body, highWindow)
		for i := range body {
			if i < div {
				out[i+1] = low[i]
			} else {
				out[i+1] = high[i]
			}
		}
	}
	return MakeDecreasing(freqs, out)
}

// SavGolLinear applies a first-order Savitzky-Golay filter of the given odd
// window length. Interior points get the centred moving average; the first
// and last half-windows are evaluated on the line fitted to the first and
// last full window. Windows longer than x shrink to the largest odd length
// that fits.
func SavGolLinear(x []float64, window int) []float64 {
	n := len(x)
	out := make([]float64, n)
	if window > n {
		window = n
	}
	if window%2 == 0 {
		window--
	}
	if window < 2 {
		copy(out, x)
		return out
	}
	half := window / 2

	kernel := make([]float64, window)
	for i := range kernel {
		kernel[i] = 1 / float64(window)
	}
	mean, err := conv.ConvolveMode(x, kernel, conv.ModeValid)
	if err != nil {
		// Unreachable: x and kernel are non-empty here.
		panic(err)
	}
	copy(out[half:n-half], mean)

	pos := make([]float64, window)
	for i := range pos {
		pos[i] = float64(i)
	}
	edge := func(start, from, to int) {
		a, b := stat.LinearRegression(pos, x[start:start+window], nil, false)
		for i := from; i < to; i++ {
			out[i] = a + b*float64(i-start)
		}
	}
	edge(0, 0, half)
	edge(n-window, n-half, n)
	return out
}

// MakeDecreasing returns the running-minimum envelope of y. Between
// successive new minima the envelope is interpolated linearly in x; after
// the last one it holds that minimum.
func MakeDecreasing(x, y []float64) []float64 {
	out := make([]float64, len(y))
	if len(y) == 0 {
		return out
	}

	knots := []int{0}
	for i := 1; i < len(y); i++ {
		if y[i] < y[knots[len(knots)-1]] {
			knots = append(knots, i)
		}
	}

	for k := 0; k+1 < len(knots); k++ {
		i0, i1 := knots[k], knots[k+1]
		x0, x1 := x[i0], x[i1]
		for i := i0; i < i1; i++ {
			t := 0.0
			if x1 != x0 {
				t = (x[i] - x0) / (x1 - x0)
			}
			out[i] = y[i0] + t*(y[i1]-y[i0])
		}
	}
	last := knots[len(knots)-1]
	for i := last; i < len(y); i++ {
		out[i] = y[last]
	}
	return out
}
