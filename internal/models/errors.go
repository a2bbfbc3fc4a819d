package models

import "errors"

// Error categories shared by every stage of the Hessian pipeline.
// Concrete errors wrap one of these so callers can test with errors.Is.
var (
	// ErrConfiguration reports an invalid sigma, dimension or option
	ErrConfiguration = errors.New("configuration error")

	// ErrInsufficientData reports an input extent too small for the stencil or chain
	ErrInsufficientData = errors.New("insufficient data")

	// ErrAllocation reports that an output or working buffer could not be built
	ErrAllocation = errors.New("allocation error")

	// ErrStageFailure reports a failure inside one stage of the pipeline
	ErrStageFailure = errors.New("stage failure")
)

// StageError wraps the failure of a named pipeline stage
type StageError struct {
	// Stage is the name of the failing stage
	Stage string

	// Err is the underlying cause
	Err error
}

func (e *StageError) Error() string {
	return "stage " + e.Stage + ": " + e.Err.Error()
}

// Unwrap exposes both the stage failure category and the cause, so
// errors.Is matches ErrStageFailure as well as e.g. ErrInsufficientData
func (e *StageError) Unwrap() []error {
	return []error{ErrStageFailure, e.Err}
}
