package dnn

import "errors"

var (
	// ErrUnimplemented is returned by primitives the backend cannot run.
	ErrUnimplemented = errors.New("dnn: not implemented")

	// ErrInvalidState reports a disagreement between the adapter's view and
	// the backend's, such as a parameter size mismatch.
	ErrInvalidState = errors.New("dnn: invalid state")

	// ErrInvalidArgument reports shapes or modes that cannot be combined.
	ErrInvalidArgument = errors.New("dnn: invalid argument")
)
