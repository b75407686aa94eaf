// Package server glues the route table, the middleware chain and the
// execution pool to a raw TCP listener. One goroutine accepts connections;
// each connection is served on its own goroutine and its handler chain runs
// on the pool.
package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shravanasati/poolserve/engine"
	"github.com/shravanasati/poolserve/logsink"
	"github.com/shravanasati/poolserve/pool"
	"github.com/shravanasati/poolserve/request"
	"github.com/shravanasati/poolserve/router"
)

type Options struct {
	// Logger receives failure reports. Defaults to a zap logger on stderr.
	Logger logsink.Sink
	// EngineFactory creates the execution contexts. Required.
	EngineFactory engine.Factory
	Bind          BindPolicy

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64

	// AccessLog logs one line per response through Logger.
	AccessLog      bool
	ColorAccessLog bool
}

type Server struct {
	opts   Options
	logger *logsink.Logger
	routes *router.Table
	chain  *router.Chain

	mu         sync.Mutex // serializes Start and Stop
	state      atomic.Int32
	listener   net.Listener
	pool       *pool.Pool
	acceptDone chan struct{}

	conns     sync.WaitGroup
	readingMu sync.Mutex
	reading   map[net.Conn]struct{}
}

func New(opts Options) (*Server, error) {
	if opts.EngineFactory == nil {
		return nil, &router.ValidationError{Field: "engine factory", Reason: "is required"}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = request.DefaultMaxBodyBytes
	}
	return &Server{
		opts:    opts,
		logger:  logsink.New(opts.Logger),
		routes:  router.NewTable(),
		chain:   router.NewChain(),
		reading: make(map[net.Conn]struct{}),
	}, nil
}

// AddRoute registers or replaces the handler body for (path, method). It may
// be called at any time, including while the server is listening.
func (s *Server) AddRoute(path, method, body string) error {
	return s.routes.Add(path, method, body)
}

// RemoveRoute returns router.ErrNotFound if path was never registered.
func (s *Server) RemoveRoute(path, method string) error {
	return s.routes.Remove(path, method)
}

// AddMiddleware appends a step that runs before every route handler.
func (s *Server) AddMiddleware(name, body string) error {
	return s.chain.Add(name, body)
}

// RemoveMiddleware removes every middleware called name and reports how many
// were removed.
func (s *Server) RemoveMiddleware(name string) (int, error) {
	return s.chain.Remove(name)
}

func (s *Server) Routes() []router.Route { return s.routes.Routes() }

func (s *Server) Middleware() []router.Middleware { return s.chain.Snapshot() }

func (s *Server) State() State { return State(s.state.Load()) }

// Addr is the bound listener address, or nil when not listening.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// PoolStats reports the running pool's counters. ok is false when stopped.
func (s *Server) PoolStats() (stats pool.Stats, ok bool) {
	s.mu.Lock()
	p := s.pool
	s.mu.Unlock()
	if p == nil {
		return pool.Stats{}, false
	}
	return p.Stats(), true
}

// Start opens the pool, binds port (0 picks a free one) and returns once the
// accept loop is running.
func (s *Server) Start(port uint16, minContexts, maxContexts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		return ErrAlreadyRunning
	}

	if err := validatePoolSize(minContexts, maxContexts); err != nil {
		s.state.Store(int32(Stopped))
		return err
	}

	p, err := pool.New(pool.Options{
		MinContexts: minContexts,
		MaxContexts: maxContexts,
		Factory:     s.opts.EngineFactory,
		Logger:      s.logger,
	})
	if err != nil {
		s.state.Store(int32(Stopped))
		return fmt.Errorf("server: open pool: %w", err)
	}

	address := net.JoinHostPort(s.opts.Bind.host(), strconv.Itoa(int(port)))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		if closeErr := p.Close(); closeErr != nil {
			s.logger.Logf("server: closing pool after failed listen: %v", closeErr)
		}
		s.state.Store(int32(Stopped))
		return fmt.Errorf("server: listen on %s: %w", address, err)
	}

	s.listener = listener
	s.pool = p
	s.acceptDone = make(chan struct{})

	ready := make(chan struct{})
	go s.acceptLoop(listener, p, ready, s.acceptDone)
	<-ready

	s.state.Store(int32(Listening))
	return nil
}

func validatePoolSize(minContexts, maxContexts int) error {
	if minContexts < 1 {
		return &router.ValidationError{Field: "min contexts", Reason: fmt.Sprintf("must be at least 1, got %d", minContexts)}
	}
	if maxContexts < minContexts {
		return &router.ValidationError{Field: "max contexts", Reason: fmt.Sprintf("%d is below min contexts %d", maxContexts, minContexts)}
	}
	return nil
}

// Stop closes the listener, disposes the pool and waits for every
// connection to be answered or dropped. The server can be started again.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() != Listening {
		return ErrNotRunning
	}
	return s.stopLocked()
}

func (s *Server) stopLocked() error {
	s.state.Store(int32(Stopping))

	var errs []error
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, fmt.Errorf("server: close listener: %w", err))
	}
	<-s.acceptDone

	// queued jobs fail here and their connections answer 503
	if err := s.pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("server: close pool: %w", err))
	}
	s.interruptReaders()
	s.conns.Wait()

	s.listener = nil
	s.pool = nil
	s.acceptDone = nil
	s.state.Store(int32(Stopped))
	return errors.Join(errs...)
}

// teardown stops the server after the accept loop died on its own.
func (s *Server) teardown(listener net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != listener || s.State() != Listening {
		return
	}
	if err := s.stopLocked(); err != nil {
		s.logger.Logf("server: teardown: %v", err)
	}
}

func (s *Server) acceptLoop(listener net.Listener, p *pool.Pool, ready, done chan struct{}) {
	defer close(done)
	close(ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.State() == Stopping || errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Logf("server: unable to accept connection: %v", err)
			go s.teardown(listener)
			return
		}

		if s.opts.ReadTimeout != 0 {
			conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		if s.opts.WriteTimeout != 0 {
			conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}

		s.conns.Add(1)
		go s.serveConn(conn, p)
	}
}

// beginRead marks conn as waiting for its request. A connection that starts
// reading after Stop began is interrupted straight away.
func (s *Server) beginRead(conn net.Conn) {
	s.readingMu.Lock()
	defer s.readingMu.Unlock()
	s.reading[conn] = struct{}{}
	if s.State() == Stopping {
		conn.SetReadDeadline(time.Now())
	}
}

func (s *Server) endRead(conn net.Conn) {
	s.readingMu.Lock()
	delete(s.reading, conn)
	s.readingMu.Unlock()
}

// interruptReaders unblocks connections still waiting for a request so Stop
// does not hang on idle clients.
func (s *Server) interruptReaders() {
	s.readingMu.Lock()
	defer s.readingMu.Unlock()
	for conn := range s.reading {
		conn.SetReadDeadline(time.Now())
	}
}
