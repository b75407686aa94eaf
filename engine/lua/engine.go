package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shravanasati/poolserve/engine"
	"github.com/shravanasati/poolserve/logsink"
	"github.com/shravanasati/poolserve/request"
	"github.com/shravanasati/poolserve/response"
	lua "github.com/yuin/gopher-lua"
)

// Engine is one pooled execution context backed by a single Lua state.
//
// gopher-lua's LState is not goroutine-safe. The pool never shares an engine,
// and the mutex turns an accidental concurrent Run into a wait rather than a
// corrupted state.
type Engine struct {
	L *lua.LState

	mu       sync.Mutex
	baseline globals
	resp     *response.Response
	timeout  time.Duration
	logger   *logsink.Logger
	closed   bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithExecutionTimeout bounds how long one chain may run. Zero means no limit.
func WithExecutionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithLogger receives output from Lua print calls.
func WithLogger(l *logsink.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates a sandboxed engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}

	L, err := openState()
	if err != nil {
		return nil, err
	}
	e.L = L

	L.SetGlobal("response", e.responseModule(L))
	L.SetGlobal("print", L.NewFunction(e.luaPrint))
	e.baseline = snapshotGlobals(L)
	return e, nil
}

func openState() (L *lua.LState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua: open state: %v", r)
		}
	}()
	return newSandboxedState(), nil
}

// NewFactory returns an engine.Factory producing engines configured with opts.
func NewFactory(opts ...Option) engine.Factory {
	return func() (engine.Engine, error) {
		return New(opts...)
	}
}

// Run executes each step in order against resp. The first failing step ends
// the chain and is reported as an *engine.Failure.
func (e *Engine) Run(ctx context.Context, chain []engine.Step, req *request.Request, resp *response.Response) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// a context that can never end only slows the VM loop down
	if ctx.Done() != nil {
		e.L.SetContext(ctx)
		defer e.L.RemoveContext()
	}

	e.resp = resp
	e.L.SetGlobal("request", requestTable(e.L, req))
	defer func() {
		e.baseline.restore(e.L)
		e.L.SetTop(0)
		e.resp = nil
	}()

	for _, step := range chain {
		if err := e.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runStep(ctx context.Context, step engine.Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &engine.Failure{Step: step.Name, Reason: fmt.Sprintf("lua panic: %v", r)}
		}
	}()

	proto, err := compile(step.Name, step.Body)
	if err != nil {
		return engine.Fail(step.Name, err)
	}

	e.L.Push(e.L.NewFunctionFromProto(proto))
	if err := e.L.PCall(0, 0, nil); err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return &engine.Failure{Step: step.Name, Reason: ErrExecutionTimeout.Error(), Err: ErrExecutionTimeout}
		}
		return &engine.Failure{Step: step.Name, Reason: reason(err), Err: err}
	}
	return nil
}

// reason drops the traceback gopher-lua appends to runtime errors.
func reason(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

// Close releases the Lua state. It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.L.Close()
	e.closed = true
	return nil
}
