package pool

import "errors"

var (
	// ErrPoolClosed is returned by Submit after Close, and handed to the
	// continuation of every job still queued when Close runs.
	ErrPoolClosed = errors.New("execution pool is closed")

	// ErrInvalidOptions wraps every Options validation failure.
	ErrInvalidOptions = errors.New("invalid pool options")

	// ErrEnginePanic is the failure reported for a job whose engine panicked.
	ErrEnginePanic = errors.New("execution engine panicked")

	ErrNilJob = errors.New("nil job")
)
