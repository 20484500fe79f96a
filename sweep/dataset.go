package sweep

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
)

// DefaultFlatThreshold is the minimum number of distinct samples an
// averaged trace must have. Flatter traces come from a railed amplifier or a
// SQUID that lost lock.
const DefaultFlatThreshold = 100

// Region is the superconducting state of the TES at a bias point.
type Region int

// Sweep regions.
const (
	RegionNormal Region = iota
	RegionTransition
	RegionSC
)

func (r Region) String() string {
	switch r {
	case RegionNormal:
		return "normal"
	case RegionTransition:
		return "transition"
	case RegionSC:
		return "sc"
	default:
		return fmt.Sprintf("Region(%d)", int(r))
	}
}

// Range is a half-open range [Start, End) of point indices.
type Range struct {
	Start int
	End   int
}

// Len returns the number of indices in r.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether i lies in r.
func (r Range) Contains(i int) bool { return i >= r.Start && i < r.End }

// Indices lists the indices of r in ascending order.
func (r Range) Indices() []int {
	out := make([]int, 0, r.Len())
	for i := r.Start; i < r.End; i++ {
		out = append(out, i)
	}
	return out
}

// Point pairs the noise and dIdV records of one bias setting.
type Point struct {
	Index  int // position in Dataset.All
	Bias   float64
	Region Region
	Noise  *Record
	DIDV   *Record
}

// Exclusion records a bias point removed during preparation.
type Exclusion struct {
	Bias   float64
	Series string
	Reason string
}

// Dataset is a prepared single-channel sweep.
type Dataset struct {
	Channel string
	All     []Point

	Normal     Range
	Transition Range
	SC         Range

	Excluded []Exclusion
}

// Points returns the points in r.
func (d *Dataset) Points(r Range) []Point {
	if r.Len() == 0 {
		return nil
	}
	return d.All[r.Start:r.End]
}

// Range returns the index range of a region.
func (d *Dataset) Range(reg Region) Range {
	switch reg {
	case RegionNormal:
		return d.Normal
	case RegionSC:
		return d.SC
	default:
		return d.Transition
	}
}

// Len returns the number of bias points.
func (d *Dataset) Len() int { return len(d.All) }

// Options controls dataset preparation.
type Options struct {
	Channel   string // required when the records hold more than one channel
	NumNormal int    // bias points in the normal state
	NumSC     int    // bias points in the superconducting state

	// Transition optionally restricts the transition region to these point
	// indices of the sorted, uncleaned sweep. Complement points outside it
	// are excluded.
	Transition *Range

	RemoveBad     bool
	FlatThreshold int // zero uses DefaultFlatThreshold
}

// Validate checks that every channel in records (or only the listed ones)
// has exactly one noise and one dIdV record per bias value.
func Validate(records []Record, channels ...string) error {
	if len(records) == 0 {
		return ErrEmpty
	}

	if len(channels) == 0 {
		channels = channelNames(records)
	}

	type count struct{ noise, didv int }
	for _, ch := range channels {
		counts := make(map[float64]*count)
		var biases []float64
		for i := range records {
			r := &records[i]
			if r.Channel != ch {
				continue
			}
			c, ok := counts[r.Bias]
			if !ok {
				c = &count{}
				counts[r.Bias] = c
				biases = append(biases, r.Bias)
			}
			switch r.Type {
			case TypeNoise:
				c.noise++
			case TypeDIDV:
				c.didv++
			default:
				return fmt.Errorf("sweep: channel %q bias %g: unknown data type %q: %w", ch, r.Bias, r.Type, ErrDataShape)
			}
		}
		if len(biases) == 0 {
			return fmt.Errorf("%w: channel %q has no records", ErrChannel, ch)
		}
		sort.Float64s(biases)
		for _, b := range biases {
			c := counts[b]
			if c.noise != 1 || c.didv != 1 {
				return &DataShapeError{Channel: ch, Bias: b, Noise: c.noise, DIDV: c.didv}
			}
		}
	}
	return nil
}

// Prepare validates, sorts, cleans and partitions the records of one channel.
//
// Regions are tagged on the sorted sweep by count (the first NumNormal
// points are normal, the last NumSC superconducting, the rest transition),
// then bad points are dropped, so the ranges of the returned dataset are the
// surviving runs of each tag. They always partition Dataset.All.
//
// Exclusions outside a transition override are listed first, then bad
// points; each group is in ascending bias.
func Prepare(records []Record, opts Options) (*Dataset, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	channel := opts.Channel
	if channel == "" {
		names := channelNames(records)
		if len(names) != 1 {
			return nil, fmt.Errorf("%w: %d channels present, select one of %v", ErrChannel, len(names), names)
		}
		channel = names[0]
	}

	if err := Validate(records, channel); err != nil {
		return nil, err
	}

	var recs []*Record
	for i := range records {
		if records[i].Channel == channel {
			r := records[i]
			recs = append(recs, &r)
		}
	}

	slices.SortStableFunc(recs, func(a, b *Record) int {
		if c := cmp.Compare(a.Bias, b.Bias); c != 0 {
			return c
		}
		return cmp.Compare(a.Series, b.Series)
	})

	points := make([]Point, 0, len(recs)/2)
	for i := 0; i+1 < len(recs); i += 2 {
		p := Point{Bias: recs[i].Bias}
		for _, r := range recs[i : i+2] {
			if r.Type == TypeNoise {
				p.Noise = r
			} else {
				p.DIDV = r
			}
		}
		points = append(points, p)
	}

	if opts.NumNormal < 0 || opts.NumSC < 0 || opts.NumNormal+opts.NumSC > len(points) {
		return nil, fmt.Errorf("%w: %d normal + %d sc for %d bias points", ErrRegionCounts, opts.NumNormal, opts.NumSC, len(points))
	}

	for i := range points {
		switch {
		case i < opts.NumNormal:
			points[i].Region = RegionNormal
		case i >= len(points)-opts.NumSC:
			points[i].Region = RegionSC
		default:
			points[i].Region = RegionTransition
		}
	}

	ds := &Dataset{Channel: channel}

	keep := make([]bool, len(points))
	for i := range keep {
		keep[i] = true
	}

	if tr := opts.Transition; tr != nil {
		if tr.Start < opts.NumNormal || tr.End > len(points)-opts.NumSC || tr.Len() == 0 {
			return nil, fmt.Errorf("%w: transition override [%d,%d) outside [%d,%d)",
				ErrRegionCounts, tr.Start, tr.End, opts.NumNormal, len(points)-opts.NumSC)
		}
		for i, p := range points {
			if p.Region == RegionTransition && !tr.Contains(i) {
				keep[i] = false
				ds.Excluded = append(ds.Excluded, Exclusion{Bias: p.Bias, Series: p.Noise.Series, Reason: "outside transition override"})
			}
		}
	}

	if opts.RemoveBad {
		threshold := opts.FlatThreshold
		if threshold <= 0 {
			threshold = DefaultFlatThreshold
		}
		for i, p := range points {
			if !keep[i] {
				continue
			}
			if reason := badReason(p, threshold); reason != "" {
				keep[i] = false
				ds.Excluded = append(ds.Excluded, Exclusion{Bias: p.Bias, Series: p.Noise.Series, Reason: reason})
			}
		}
	}

	for i, p := range points {
		if !keep[i] {
			continue
		}
		p.Index = len(ds.All)
		ds.All = append(ds.All, p)
	}

	ds.Normal, ds.Transition, ds.SC = regionRanges(ds.All)

	return ds, nil
}

// badReason returns why a point is unusable, or "".
func badReason(p Point, flatThreshold int) string {
	for _, r := range []*Record{p.Noise, p.DIDV} {
		switch {
		case !r.CutPass:
			return fmt.Sprintf("%s record failed quality cut", r.Type)
		case distinctValues(r.AvgTrace, flatThreshold) < flatThreshold:
			return fmt.Sprintf("%s average trace is flat", r.Type)
		case r.OffsetErr == 0:
			return fmt.Sprintf("%s offset error is zero", r.Type)
		}
	}
	return ""
}

func regionRanges(points []Point) (normal, transition, sc Range) {
	n, t := 0, 0
	for _, p := range points {
		switch p.Region {
		case RegionNormal:
			n++
		case RegionTransition:
			t++
		}
	}
	normal = Range{Start: 0, End: n}
	transition = Range{Start: n, End: n + t}
	sc = Range{Start: n + t, End: len(points)}
	return normal, transition, sc
}

func channelNames(records []Record) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range records {
		if !seen[r.Channel] {
			seen[r.Channel] = true
			names = append(names, r.Channel)
		}
	}
	sort.Strings(names)
	return names
}
