package fit

import (
	"errors"
	"fmt"
)

// Errors returned by fit functions.
var (
	ErrConvergence    = errors.New("fit: did not converge")
	ErrDegenerate     = errors.New("fit: degenerate covariance")
	ErrInvalidProblem = errors.New("fit: invalid problem")
)

// ConvergenceError reports a fit that failed to converge or whose
// covariance is not positive definite.
type ConvergenceError struct {
	Reason string
	Err    error
}

func (e *ConvergenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fit: did not converge: %s: %v", e.Reason, e.Err)
	}
	return "fit: did not converge: " + e.Reason
}

// Is reports ErrConvergence as the sentinel for this error.
func (e *ConvergenceError) Is(target error) bool { return target == ErrConvergence }

func (e *ConvergenceError) Unwrap() error { return e.Err }

// DegeneracyError reports a covariance matrix that cannot be factorised
// because of the named parameter (zero or negative variance, or a singular
// block it belongs to).
type DegeneracyError struct {
	Param  string
	Reason string
}

func (e *DegeneracyError) Error() string {
	return fmt.Sprintf("fit: degenerate covariance at %q: %s", e.Param, e.Reason)
}

// Is reports ErrDegenerate as the sentinel for this error.
func (e *DegeneracyError) Is(target error) bool { return target == ErrDegenerate }

func convergenceErr(reason string, err error) error {
	return &ConvergenceError{Reason: reason, Err: err}
}
