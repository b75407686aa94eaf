package pool

import (
	"context"
	"sync"
)

// Handle tracks one accepted job. It completes after the job's continuation
// has returned.
type Handle struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newHandle() *Handle {
	return &Handle{done: make(chan struct{})}
}

// Done is closed when the job has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the job's result. It is only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Wait blocks until the job finishes or ctx ends. A finished job's own error
// takes precedence over ctx.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		select {
		case <-h.done:
			return h.err
		default:
			return ctx.Err()
		}
	}
}
