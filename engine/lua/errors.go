package lua

import "errors"

var (
	// ErrEngineClosed is returned when running a chain on a closed engine.
	ErrEngineClosed = errors.New("lua engine is closed")

	// ErrExecutionTimeout is returned when a chain outlives the execution timeout.
	ErrExecutionTimeout = errors.New("lua execution timeout")
)
