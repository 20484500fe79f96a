package sweep

import (
	"errors"
	"fmt"
)

// Errors returned by sweep functions.
var (
	ErrEmpty        = errors.New("sweep: no records")
	ErrDataShape    = errors.New("sweep: dataset has the wrong shape")
	ErrChannel      = errors.New("sweep: channel selection")
	ErrRegionCounts = errors.New("sweep: invalid region counts")
)

// DataShapeError reports a channel that violates the two-records-per-bias
// invariant (one noise and one dIdV record per bias setting).
type DataShapeError struct {
	Channel string
	Bias    float64
	Noise   int // noise records at Bias
	DIDV    int // dIdV records at Bias
}

func (e *DataShapeError) Error() string {
	return fmt.Sprintf("sweep: channel %q at bias %g has %d noise and %d didv records, want 1 and 1",
		e.Channel, e.Bias, e.Noise, e.DIDV)
}

// Is reports ErrDataShape as the sentinel for this error.
func (e *DataShapeError) Is(target error) bool { return target == ErrDataShape }
