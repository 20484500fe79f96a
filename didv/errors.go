package didv

import "errors"

// Errors returned by didv functions.
var (
	ErrTrace    = errors.New("didv: invalid trace")
	ErrDrive    = errors.New("didv: invalid drive parameters")
	ErrNoBins   = errors.New("didv: no usable harmonics")
	ErrLoopGain = errors.New("didv: loop gain of one is a pole of the model")
)
