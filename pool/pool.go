// Package pool runs handler chains on a bounded set of reusable execution
// contexts. Submit never blocks: work goes to an idle context, to a newly
// created one while the pool is below its maximum, or to a FIFO queue.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shravanasati/poolserve/engine"
	"github.com/shravanasati/poolserve/logsink"
	"github.com/shravanasati/poolserve/metrics"
	"github.com/shravanasati/poolserve/request"
	"github.com/shravanasati/poolserve/response"
)

// Options configures a Pool.
type Options struct {
	MinContexts int
	MaxContexts int
	Factory     engine.Factory
	Logger      *logsink.Logger
}

func (o Options) validate() error {
	switch {
	case o.Factory == nil:
		return fmt.Errorf("%w: factory is required", ErrInvalidOptions)
	case o.MinContexts < 1:
		return fmt.Errorf("%w: min contexts must be at least 1, got %d", ErrInvalidOptions, o.MinContexts)
	case o.MaxContexts < o.MinContexts:
		return fmt.Errorf("%w: max contexts (%d) must not be below min contexts (%d)", ErrInvalidOptions, o.MaxContexts, o.MinContexts)
	}
	return nil
}

// Job is one chain to run against a request/response pair. Done, if set, is
// called exactly once with the job's result before its Handle completes.
type Job struct {
	Chain    []engine.Step
	Request  *request.Request
	Response *response.Response
	Done     func(error)
}

type task struct {
	job    *Job
	handle *Handle
}

type execContext struct {
	id     uint64
	eng    engine.Engine
	broken bool
}

// Pool is a bounded set of execution contexts.
type Pool struct {
	opts   Options
	logger *logsink.Logger

	mu      sync.Mutex
	idle    []*execContext
	created int // contexts alive or being created
	busy    int // worker goroutines holding a job
	queue   *list.List
	closed  bool

	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
	nextID    atomic.Uint64

	stats struct {
		submitted atomic.Uint64
		completed atomic.Uint64
		failed    atomic.Uint64
	}
}

// New validates opts and opens MinContexts contexts up front.
func New(opts Options) (*Pool, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		opts:   opts,
		logger: opts.Logger,
		queue:  list.New(),
	}
	for i := 0; i < opts.MinContexts; i++ {
		c, err := p.newContext()
		if err != nil {
			closeErr := p.closeContexts(p.idle)
			return nil, errors.Join(fmt.Errorf("pool: open context %d: %w", i, err), closeErr)
		}
		p.idle = append(p.idle, c)
		p.created++
	}
	return p, nil
}

// Submit hands job to the pool and returns immediately.
func (p *Pool) Submit(job *Job) (*Handle, error) {
	if job == nil {
		return nil, ErrNilJob
	}
	t := &task{job: job, handle: newHandle()}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.stats.submitted.Add(1)

	switch {
	case len(p.idle) > 0:
		c := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.startWorker(c, t)
	case p.created < p.opts.MaxContexts:
		p.created++
		p.startWorker(nil, t)
	default:
		p.queue.PushBack(t)
	}
	p.publishLoad()
	p.mu.Unlock()

	return t.handle, nil
}

// startWorker must be called with p.mu held. A nil context is created on the
// worker goroutine so Submit never waits on the factory.
func (p *Pool) startWorker(c *execContext, t *task) {
	p.busy++
	p.workers.Add(1)
	go p.work(c, t)
}

func (p *Pool) work(c *execContext, t *task) {
	defer p.workers.Done()

	for t != nil {
		if c == nil {
			var err error
			if c, err = p.newContext(); err != nil {
				// the continuation reports err; the slot stays with this worker
				metrics.ObserveContextLost(metrics.LostCreateFailed)
				p.finish(t, err, 0)
				t = p.release(nil)
				continue
			}
		}

		start := time.Now()
		err := c.run(t.job)
		p.finish(t, err, time.Since(start))

		if c.broken {
			metrics.ObserveContextLost(metrics.LostDiscarded)
			p.discard(c)
			c = nil
		}
		t = p.release(c)
	}
}

// release hands the worker the next queued task, or parks its context. A
// worker without a context keeps its slot while the queue has work, so
// Submit never sees a slot that a queued task is owed.
func (p *Pool) release(c *execContext) *task {
	p.mu.Lock()
	defer p.mu.Unlock()
	defer p.publishLoad()

	if front := p.queue.Front(); front != nil {
		p.queue.Remove(front)
		return front.Value.(*task)
	}

	p.busy--
	if c != nil {
		p.idle = append(p.idle, c)
	} else {
		p.created--
	}
	return nil
}

func (c *execContext) run(job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.broken = true
			err = fmt.Errorf("%w: %v", ErrEnginePanic, r)
		}
	}()
	return c.eng.Run(context.Background(), job.Chain, job.Request, job.Response)
}

// finish runs the continuation then completes the handle, once.
func (p *Pool) finish(t *task, err error, elapsed time.Duration) {
	t.handle.once.Do(func() {
		switch {
		case err == nil:
			p.stats.completed.Add(1)
			metrics.ObserveJob(metrics.OutcomeOK, elapsed)
		case errors.Is(err, ErrPoolClosed):
			p.stats.failed.Add(1)
			metrics.ObserveJob(metrics.OutcomeClosed, elapsed)
		default:
			p.stats.failed.Add(1)
			metrics.ObserveJob(metrics.OutcomeFailed, elapsed)
		}

		if t.job.Done != nil {
			func() {
				defer func() {
					if r := recover(); r != nil {
						p.logger.Logf("pool: job continuation panicked: %v", r)
					}
				}()
				t.job.Done(err)
			}()
		}
		t.handle.err = err
		close(t.handle.done)
	})
}

func (p *Pool) newContext() (c *execContext, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: factory: %v", ErrEnginePanic, r)
		}
	}()
	eng, err := p.opts.Factory()
	if err != nil {
		return nil, err
	}
	if eng == nil {
		return nil, errors.New("factory returned a nil engine")
	}
	return &execContext{id: p.nextID.Add(1), eng: eng}, nil
}

// discard closes a broken context. Its slot is settled by release.
func (p *Pool) discard(c *execContext) {
	if err := closeEngine(c.eng); err != nil {
		p.logger.Logf("pool: closing execution context %d: %v", c.id, err)
	}
}

func (p *Pool) closeContexts(cs []*execContext) error {
	var errs []error
	for _, c := range cs {
		if err := closeEngine(c.eng); err != nil {
			errs = append(errs, fmt.Errorf("context %d: %w", c.id, err))
		}
	}
	return errors.Join(errs...)
}

func closeEngine(eng engine.Engine) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: close: %v", ErrEnginePanic, r)
		}
	}()
	return eng.Close()
}

// publishLoad must be called with p.mu held.
func (p *Pool) publishLoad() {
	metrics.SetPoolLoad(p.busy, p.queue.Len())
}

// Close stops accepting jobs. Queued jobs fail with ErrPoolClosed in FIFO
// order, running jobs finish, then every context is closed. Calling Close
// again returns the first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		var pending []*task
		for e := p.queue.Front(); e != nil; e = e.Next() {
			pending = append(pending, e.Value.(*task))
		}
		p.queue.Init()
		p.publishLoad()
		p.mu.Unlock()

		for _, t := range pending {
			p.finish(t, ErrPoolClosed, 0)
		}

		p.workers.Wait()

		p.mu.Lock()
		idle := p.idle
		p.idle = nil
		p.created -= len(idle)
		p.mu.Unlock()

		p.closeErr = p.closeContexts(idle)
	})
	return p.closeErr
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	MinContexts int
	MaxContexts int
	Contexts    int
	Idle        int
	Busy        int
	Queued      int
	Submitted   uint64
	Completed   uint64
	Failed      uint64
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MinContexts: p.opts.MinContexts,
		MaxContexts: p.opts.MaxContexts,
		Contexts:    p.created,
		Idle:        len(p.idle),
		Busy:        p.busy,
		Queued:      p.queue.Len(),
		Submitted:   p.stats.submitted.Load(),
		Completed:   p.stats.completed.Load(),
		Failed:      p.stats.failed.Load(),
	}
}
