package testutil

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/cwbudde/algo-tes/sweep"
)

// TransitionPoint is a synthetic bias point on the transition.
type TransitionPoint struct {
	R0       float64
	LoopGain float64
}

// Sweep describes a synthetic IV/dIdV sweep of one channel.
type Sweep struct {
	TES     TES
	Channel string

	NormalBias []float64
	Transition []TransitionPoint
	SCBias     []float64

	SampleRate float64
	DriveFreq  float64
	DriveAmp   float64
	DIDVStd    float64
	OffsetErr  float64

	NoiseBins int     // one-sided PSD length including DC
	NoiseDF   float64 // PSD bin width, Hz
}

// DefaultSweep returns three normal, five transition and three
// superconducting bias points of [DefaultTES], without measurement noise.
func DefaultSweep() Sweep {
	return Sweep{
		TES:        DefaultTES(),
		Channel:    "PAS1",
		NormalBias: []float64{-6e-4, -5.5e-4, -5e-4},
		Transition: []TransitionPoint{
			{R0: 0.7, LoopGain: 0.5},
			{R0: 0.5, LoopGain: 0.6},
			{R0: 0.35, LoopGain: 0.7},
			{R0: 0.2, LoopGain: 0.8},
			{R0: 0.1, LoopGain: 0.9},
		},
		SCBias:     []float64{-8e-5, -6e-5, -4e-5},
		SampleRate: 102400,
		DriveFreq:  100,
		DriveAmp:   1e-6,
		DIDVStd:    1e-9,
		OffsetErr:  1e-9,
		NoiseBins:  1025,
		NoiseDF:    50,
	}
}

// Freqs returns the PSD frequency grid.
func (s Sweep) Freqs() []float64 {
	f := make([]float64, s.NoiseBins)
	for i := range f {
		f[i] = float64(i) * s.NoiseDF
	}
	return f
}

// TransitionBiases returns the bias currents of the transition points.
func (s Sweep) TransitionBiases() []float64 {
	out := make([]float64, len(s.Transition))
	for i, p := range s.Transition {
		out[i] = s.TES.TransitionBias(p.R0)
	}
	return out
}

// Records returns the noise and dIdV records of the sweep in bias order,
// normal first.
func (s Sweep) Records() []sweep.Record {
	t := s.TES
	var recs []sweep.Record
	series := 0

	add := func(ib, r0, beta, l float64, psd func(f float64) float64) {
		series++
		name := fmt.Sprintf("%s_%03d", s.Channel, series)
		i0 := t.TESCurrent(ib, r0)

		n := int(math.Round(s.SampleRate / s.DriveFreq))
		resp := DriveResponse(n, s.DriveAmp*t.Rshunt, s.SampleRate, func(w float64) complex128 {
			return t.Admittance(w, r0, beta, l)
		})
		std := make([]float64, n)
		for i := range std {
			std[i] = s.DIDVStd
		}

		freqs := s.Freqs()
		p := make([]float64, len(freqs))
		p[0] = psd(freqs[1]) // no DC bin in the models
		for i := 1; i < len(freqs); i++ {
			p[i] = psd(freqs[i])
		}

		base := sweep.Record{
			Bias:       ib,
			Series:     name,
			Channel:    s.Channel,
			Offset:     i0 + t.Offset,
			OffsetErr:  s.OffsetErr,
			SampleRate: s.SampleRate,
			DriveFreq:  s.DriveFreq,
			DriveAmp:   s.DriveAmp,
			CutPass:    true,
		}
		noise := base
		noise.Type = sweep.TypeNoise
		noise.AvgTrace = Trace(uint64(series), i0+t.Offset, 512)
		noise.Freqs = freqs
		noise.PSD = p

		didv := base
		didv.Type = sweep.TypeDIDV
		didv.AvgTrace = Trace(uint64(1000+series), i0+t.Offset, 512)
		didv.DIDVMean = resp
		didv.DIDVStd = std

		recs = append(recs, noise, didv)
	}

	for _, ib := range s.NormalBias {
		add(ib, t.Rn, 0, 0, t.NormalPSD)
	}
	for _, p := range s.Transition {
		ib := t.TransitionBias(p.R0)
		add(ib, p.R0, t.Beta, p.LoopGain, func(f float64) float64 {
			return t.TransitionPSD(f, ib, p.R0, p.LoopGain)
		})
	}
	for _, ib := range s.SCBias {
		add(ib, 0, 0, 0, t.SCPSD)
	}
	return recs
}

// Trace returns a deterministic pseudo-random trace around level, so that
// it is not flagged as flat.
func Trace(seed uint64, level float64, n int) []float64 {
	rng := rand.New(rand.NewPCG(seed, 0x7e5))
	out := make([]float64, n)
	for i := range out {
		out[i] = level + 1e-9*rng.NormFloat64()
	}
	return out
}
