package dpr

import "errors"

var (
	// ErrNoInput is returned when a run is started without any frames.
	ErrNoInput = errors.New("dpr: no input frames")
	// ErrNoFrames is returned by the temporal projections for an empty sequence.
	ErrNoFrames = errors.New("dpr: projection over zero frames")
	// ErrDimensionMismatch signals frames of differing size in one sequence.
	ErrDimensionMismatch = errors.New("dpr: frame dimensions differ")
	// ErrSliceFailed wraps the first failing slice task of a stack run.
	ErrSliceFailed = errors.New("dpr: slice processing failed")
	// ErrCancelled is returned when a stack run times out or its context ends.
	ErrCancelled = errors.New("dpr: stack processing cancelled")
	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("dpr: invalid parameters")
)
