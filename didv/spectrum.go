package didv

import (
	"fmt"
	"math"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/cwbudde/algo-tes/sweep"
)

// harmonicThreshold is the fraction of the strongest drive harmonic below
// which a bin is considered empty.
const harmonicThreshold = 1e-6

// Measurement is an averaged dIdV response and the drive that produced it.
type Measurement struct {
	Mean []float64 // averaged response, at least one drive period long
	Std  []float64 // per-sample standard error of Mean; may be nil

	SampleRate float64 // Hz
	DriveFreq  float64 // square-wave frequency, Hz
	DriveAmp   float64 // peak-to-peak drive current, A
}

// FromRecord returns the dIdV measurement held by a sweep record. The
// record's DIDVMean is taken as the time-domain response over at least one
// drive period, not as an admittance spectrum.
func FromRecord(r *sweep.Record) Measurement {
	return Measurement{
		Mean:       r.DIDVMean,
		Std:        r.DIDVStd,
		SampleRate: r.SampleRate,
		DriveFreq:  r.DriveFreq,
		DriveAmp:   r.DriveAmp,
	}
}

// Spectrum is a measured admittance at the drive harmonics.
type Spectrum struct {
	Freqs  []float64
	Values []complex128
	Sigma  []float64 // standard error of the real and imaginary parts
}

// Len returns the number of harmonics.
func (s *Spectrum) Len() int { return len(s.Freqs) }

// Omega returns 2πf of bin k.
func (s *Spectrum) Omega(k int) float64 { return 2 * math.Pi * s.Freqs[k] }

// Scaled returns a copy of s multiplied by c.
func (s *Spectrum) Scaled(c float64) *Spectrum {
	out := &Spectrum{
		Freqs:  append([]float64(nil), s.Freqs...),
		Values: make([]complex128, len(s.Values)),
		Sigma:  make([]float64, len(s.Sigma)),
	}
	for i, v := range s.Values {
		out.Values[i] = v * complex(c, 0)
		out.Sigma[i] = s.Sigma[i] * math.Abs(c)
	}
	return out
}

// PeriodLength returns the number of samples in one drive period.
func PeriodLength(sampleRate, driveFreq float64) (int, error) {
	if !(sampleRate > 0) || !(driveFreq > 0) {
		return 0, fmt.Errorf("%w: sample rate %g, drive frequency %g", ErrDrive, sampleRate, driveFreq)
	}
	n := int(math.Round(sampleRate / driveFreq))
	if n < 4 {
		return 0, fmt.Errorf("%w: %d samples per period", ErrDrive, n)
	}
	return n, nil
}

// SquareWave returns one period of the drive voltage: +amp/2 over the
// first half, -amp/2 over the second.
func SquareWave(n int, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i < n/2 {
			out[i] = amp / 2
		} else {
			out[i] = -amp / 2
		}
	}
	return out
}

// Compute returns the admittance dI/dV of m at the odd drive harmonics.
// The drive voltage is the drive current times rshunt.
func Compute(m Measurement, rshunt float64) (*Spectrum, error) {
	if !(rshunt > 0) {
		return nil, fmt.Errorf("%w: shunt resistance %g", ErrDrive, rshunt)
	}
	if m.DriveAmp == 0 {
		return nil, fmt.Errorf("%w: zero drive amplitude", ErrDrive)
	}
	n, err := PeriodLength(m.SampleRate, m.DriveFreq)
	if err != nil {
		return nil, err
	}
	if len(m.Mean) < n {
		return nil, fmt.Errorf("%w: %d samples, one period is %d", ErrTrace, len(m.Mean), n)
	}
	if m.Std != nil && len(m.Std) != len(m.Mean) {
		return nil, fmt.Errorf("%w: %d standard errors for %d samples", ErrTrace, len(m.Std), len(m.Mean))
	}

	y, err := transform(m.Mean[:n])
	if err != nil {
		return nil, err
	}
	x, err := transform(SquareWave(n, m.DriveAmp*rshunt))
	if err != nil {
		return nil, err
	}

	maxX := 0.0
	for k := 1; k < n/2; k++ {
		maxX = math.Max(maxX, cmplx.Abs(x[k]))
	}

	sigmaT := 0.0
	if m.Std != nil {
		sigmaT = rms(m.Std[:n])
	}
	df := m.SampleRate / float64(n)

	s := &Spectrum{}
	for k := 1; k < n/2; k += 2 {
		ax := cmplx.Abs(x[k])
		if ax <= harmonicThreshold*maxX {
			continue
		}
		v := y[k] / x[k]
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			return nil, fmt.Errorf("%w: non-finite admittance at %g Hz", ErrTrace, float64(k)*df)
		}
		sigma := sigmaT * math.Sqrt(float64(n)) / ax
		if sigmaT == 0 {
			sigma = relativeSigmaFloor * cmplx.Abs(v)
		}
		s.Freqs = append(s.Freqs, float64(k)*df)
		s.Values = append(s.Values, v)
		s.Sigma = append(s.Sigma, sigma)
	}
	if len(s.Freqs) == 0 {
		return nil, ErrNoBins
	}
	return s, nil
}

// relativeSigmaFloor weights bins of a trace without a reported error.
const relativeSigmaFloor = 1e-3

func transform(in []float64) ([]complex128, error) {
	src := make([]complex128, len(in))
	for i, v := range in {
		src[i] = complex(v, 0)
	}
	dst := make([]complex128, len(in))

	plan, err := algofft.NewPlan64(len(in))
	if err != nil {
		// Sizes the planner rejects fall back to a direct transform.
		naiveDFT(dst, src)
		return dst, nil
	}
	if err := plan.Forward(dst, src); err != nil {
		return nil, fmt.Errorf("didv: forward FFT: %w", err)
	}
	return dst, nil
}

func naiveDFT(dst, src []complex128) {
	n := len(src)
	for k := range dst {
		var acc complex128
		for j, v := range src {
			acc += v * cmplx.Rect(1, -2*math.Pi*float64(k*j%n)/float64(n))
		}
		dst[k] = acc
	}
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}
