package analysis

import (
	"errors"
	"fmt"
)

// Errors returned by the analysis pipeline.
var (
	ErrSequencing    = errors.New("analysis: stage run out of order")
	ErrConfiguration = errors.New("analysis: invalid configuration")
)

// SequencingError reports a stage whose inputs have not been produced.
type SequencingError struct {
	Stage   string
	Missing Field
}

func (e *SequencingError) Error() string {
	return fmt.Sprintf("analysis: %s requires %s, which no earlier stage produced", e.Stage, e.Missing)
}

// Is reports ErrSequencing as the sentinel for this error.
func (e *SequencingError) Is(target error) bool { return target == ErrSequencing }

// ConfigurationError reports an invalid or missing setting.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("analysis: option %s: %s", e.Option, e.Reason)
}

// Is reports ErrConfiguration as the sentinel for this error.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// PointError is a failure confined to one bias point. The point is left out
// of every aggregate; the stage carries on with the others.
type PointError struct {
	Stage   string
	Index   int
	Bias    float64
	Channel string
	Err     error
}

func (e *PointError) Error() string {
	return fmt.Sprintf("analysis: %s: point %d (channel %s, bias %g A): %v", e.Stage, e.Index, e.Channel, e.Bias, e.Err)
}

func (e *PointError) Unwrap() error { return e.Err }
