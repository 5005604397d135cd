package toolbox

import "errors"

// Errors returned by the toolbox.  They are always wrapped with detail, so
// check them with errors.Is.
var (
	// ErrConfig reports malformed layer sizes or training settings.
	ErrConfig = errors.New("invalid configuration")

	// ErrIndex reports a layer index or class label outside its range.
	ErrIndex = errors.New("index out of range")

	// ErrShape reports a dimension mismatch between a value and the shape
	// expected at that point.
	ErrShape = errors.New("shape mismatch")

	// ErrCorruptState reports a persisted network that fails the parameter
	// invariants on load.
	ErrCorruptState = errors.New("corrupt network state")

	// ErrNumericInstability reports a NaN or Inf in parameters or
	// activations.  Training must stop when it is returned.
	ErrNumericInstability = errors.New("numeric instability")
)
