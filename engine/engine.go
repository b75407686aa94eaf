// Package engine defines the contract between the dispatcher and whatever
// actually runs handler bodies. An Engine is created once, checked out of a
// pool for one chain at a time, and closed when the pool shuts down.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shravanasati/poolserve/request"
	"github.com/shravanasati/poolserve/response"
)

// Step is one handler body in a chain, named for error reporting.
type Step struct {
	Name string
	Body string
}

// Engine runs a chain of steps, in order, against a request/response pair.
// Run stops at the first failing step. Engines are not reentrant.
type Engine interface {
	Run(ctx context.Context, chain []Step, req *request.Request, resp *response.Response) error
	Close() error
}

// Factory creates a fresh Engine for a pool.
type Factory func() (Engine, error)

// Failure is the error an Engine reports when a step aborts.
type Failure struct {
	Step   string
	Reason string
	Err    error
}

func (f *Failure) Error() string { return f.Reason }
func (f *Failure) Unwrap() error { return f.Err }

// Fail builds a Failure for step from err.
func Fail(step string, err error) *Failure {
	return &Failure{Step: step, Reason: err.Error(), Err: err}
}

// Reason extracts the text that becomes a 500 response body.
func Reason(err error) string {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return err.Error()
}

// Func adapts a plain function to the Engine interface. Close is a no-op.
type Func func(ctx context.Context, chain []Step, req *request.Request, resp *response.Response) error

func (f Func) Run(ctx context.Context, chain []Step, req *request.Request, resp *response.Response) error {
	return f(ctx, chain, req, resp)
}

func (Func) Close() error { return nil }

// Static returns a Factory that hands out the same Engine value every time,
// which is only correct for stateless engines such as Func.
func Static(e Engine) Factory {
	return func() (Engine, error) {
		if e == nil {
			return nil, fmt.Errorf("engine: nil engine")
		}
		return e, nil
	}
}
