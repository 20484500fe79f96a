// Package sweep holds the tabular IV/dIdV sweep data of a TES channel and
// prepares it for analysis.
//
// A sweep is recorded as two records per bias setting and channel: a noise
// record (averaged trace, offset and one-sided PSD) and a dIdV record
// (averaged trace plus the mean and standard deviation of one period of the
// response to a square-wave jitter on the bias). [Prepare] validates that
// pairing, drops unusable bias points, sorts the points by bias and series
// and partitions them into the normal, transition and superconducting
// regions:
//
//	recs, _ := sweep.ReadJSON(f)
//	ds, err := sweep.Prepare(recs, sweep.Options{
//	    Channel: "PBS1", NumNormal: 3, NumSC: 3, RemoveBad: true,
//	})
//	for _, p := range ds.Points(ds.Transition) {
//	    // p.Noise, p.DIDV
//	}
//
// Points are ordered by ascending bias. Sweeps are taken at negative bias,
// so the normal branch (largest |bias|) comes first and the superconducting
// branch (bias closest to zero) last.
package sweep
