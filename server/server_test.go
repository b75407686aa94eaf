package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shravanasati/poolserve/engine"
	"github.com/shravanasati/poolserve/logsink"
	"github.com/shravanasati/poolserve/request"
	"github.com/shravanasati/poolserve/response"
	"github.com/shravanasati/poolserve/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptEngine understands one-word handler bodies: "body:x", "append:x",
// "status:201", "fail:reason", "panic:value" and "wait" (blocks until gate
// closes).
type scriptEngine struct {
	calls atomic.Int32
	gate  chan struct{}
}

func newScriptEngine() *scriptEngine {
	return &scriptEngine{gate: make(chan struct{})}
}

func (e *scriptEngine) factory() engine.Factory {
	return engine.Static(engine.Func(func(_ context.Context, chain []engine.Step, _ *request.Request, resp *response.Response) error {
		e.calls.Add(1)
		for _, step := range chain {
			cmd, arg, _ := strings.Cut(step.Body, ":")
			switch cmd {
			case "body":
				resp.WithBodyString(arg)
			case "append":
				resp.WithBodyString(string(resp.Body()) + arg)
			case "status":
				n, _ := strconv.Atoi(arg)
				resp.WithStatusCode(response.StatusCode(n))
			case "fail":
				return &engine.Failure{Step: step.Name, Reason: arg}
			case "wait":
				<-e.gate
			case "panic":
				panic(arg)
			}
		}
		return nil
	}))
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingSink) Log(message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, message)
	return nil
}

func (r *recordingSink) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func startServer(t *testing.T, opts Options, minContexts, maxContexts int) *Server {
	t.Helper()
	s, err := New(opts)
	require.NoError(t, err)
	require.NoError(t, s.Start(0, minContexts, maxContexts))
	t.Cleanup(func() {
		if s.State() == Listening {
			_ = s.Stop()
		}
	})
	return s
}

var client = &http.Client{
	Transport: &http.Transport{DisableKeepAlives: true},
	Timeout:   5 * time.Second,
}

func do(t *testing.T, s *Server, method, path string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, "http://"+s.Addr().String()+path, nil)
	require.NoError(t, err)
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(b)
}

func TestHelloEndToEnd(t *testing.T) {
	eng := newScriptEngine()
	s := startServer(t, Options{EngineFactory: eng.factory()}, 1, 2)
	require.NoError(t, s.AddRoute("hello", "GET", "body:hi"))

	res, body := do(t, s, http.MethodGet, "/hello/")
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "hi", body)
	assert.Equal(t, "text/plain; charset=UTF-8", res.Header.Get("Content-Type"))
	assert.NotEmpty(t, res.Header.Get("X-Request-Id"))
	_, err := http.ParseTime(res.Header.Get("Date"))
	assert.NoError(t, err)
	assert.Equal(t, int32(1), eng.calls.Load())

	res, body = do(t, s, http.MethodGet, "/missing")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "Not Found", body)

	res, _ = do(t, s, http.MethodPost, "/hello")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	assert.Equal(t, int32(1), eng.calls.Load(), "unresolved routes must not reach the engine")
}

func TestMethodCaseAndStatus(t *testing.T) {
	eng := newScriptEngine()
	s := startServer(t, Options{EngineFactory: eng.factory()}, 1, 1)
	require.NoError(t, s.AddRoute("/items/", "post", "status:201"))

	res, _ := do(t, s, http.MethodPost, "/items")
	assert.Equal(t, http.StatusCreated, res.StatusCode)
}

func TestFailureIs500WithOneLogCall(t *testing.T) {
	sink := &recordingSink{}
	eng := newScriptEngine()
	s := startServer(t, Options{EngineFactory: eng.factory(), Logger: sink}, 1, 1)
	require.NoError(t, s.AddRoute("boom", "GET", "fail:handler exploded"))

	res, body := do(t, s, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "handler exploded", body)

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "handler exploded")
}

func TestEnginePanicIs500WithOneLogCall(t *testing.T) {
	sink := &recordingSink{}
	s := startServer(t, Options{EngineFactory: newScriptEngine().factory(), Logger: sink}, 1, 1)
	require.NoError(t, s.AddRoute("kaboom", "GET", "panic:kaboom"))

	res, body := do(t, s, http.MethodGet, "/kaboom")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Contains(t, body, "kaboom")

	// the broken context is discarded after the response goes out
	require.Eventually(t, func() bool {
		st, ok := s.PoolStats()
		return ok && st.Busy == 0 && st.Contexts == 0
	}, 2*time.Second, 5*time.Millisecond)

	msgs := sink.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "kaboom")

	res, _ = do(t, s, http.MethodGet, "/kaboom")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
}

func TestMiddlewareRunsBeforeRouteInOrder(t *testing.T) {
	eng := newScriptEngine()
	s := startServer(t, Options{EngineFactory: eng.factory()}, 1, 2)
	require.NoError(t, s.AddMiddleware("first", "append:a"))
	require.NoError(t, s.AddMiddleware("second", "append:b"))
	require.NoError(t, s.AddMiddleware("first", "append:a"))
	require.NoError(t, s.AddRoute("chain", "GET", "append:c"))

	_, body := do(t, s, http.MethodGet, "/chain")
	assert.Equal(t, "abac", body)

	n, err := s.RemoveMiddleware("first")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, body = do(t, s, http.MethodGet, "/chain")
	assert.Equal(t, "bc", body)
}

func TestMiddlewareFailureStopsChain(t *testing.T) {
	eng := newScriptEngine()
	s := startServer(t, Options{EngineFactory: eng.factory(), Logger: &recordingSink{}}, 1, 1)
	require.NoError(t, s.AddMiddleware("auth", "fail:denied"))
	require.NoError(t, s.AddRoute("secret", "GET", "body:treasure"))

	res, body := do(t, s, http.MethodGet, "/secret")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "denied", body)
}

func TestRoutesChangeWhileListening(t *testing.T) {
	eng := newScriptEngine()
	s := startServer(t, Options{EngineFactory: eng.factory()}, 1, 1)

	res, _ := do(t, s, http.MethodGet, "/late")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	require.NoError(t, s.AddRoute("late", "GET", "body:here"))
	_, body := do(t, s, http.MethodGet, "/late")
	assert.Equal(t, "here", body)

	require.NoError(t, s.RemoveRoute("/late/", "GET"))
	res, _ = do(t, s, http.MethodGet, "/late")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	assert.ErrorIs(t, s.RemoveRoute("late", "GET"), router.ErrNotFound)
}

func TestLifecycle(t *testing.T) {
	eng := newScriptEngine()
	s, err := New(Options{EngineFactory: eng.factory()})
	require.NoError(t, err)
	require.NoError(t, s.AddRoute("ping", "GET", "body:pong"))

	assert.Equal(t, Stopped, s.State())
	assert.Nil(t, s.Addr())
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start(0, 1, 1))
	assert.Equal(t, Listening, s.State())
	assert.Equal(t, "listening", s.State().String())
	assert.ErrorIs(t, s.Start(0, 1, 1), ErrAlreadyRunning)

	addr := s.Addr().(*net.TCPAddr)
	assert.True(t, addr.IP.IsLoopback())

	require.NoError(t, s.Stop())
	assert.Equal(t, Stopped, s.State())

	require.NoError(t, s.Start(0, 1, 1))
	_, body := do(t, s, http.MethodGet, "/ping")
	assert.Equal(t, "pong", body)
	require.NoError(t, s.Stop())
}

func TestStartValidation(t *testing.T) {
	_, err := New(Options{})
	var verr *router.ValidationError
	assert.ErrorAs(t, err, &verr)

	s, err := New(Options{EngineFactory: newScriptEngine().factory()})
	require.NoError(t, err)

	assert.ErrorAs(t, s.Start(0, 0, 1), &verr)
	assert.ErrorAs(t, s.Start(0, 2, 1), &verr)
	assert.Equal(t, Stopped, s.State())
}

func TestListenFailureReturnsToStopped(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	var closed atomic.Int32
	factory := func() (engine.Engine, error) {
		return closeCounter{&closed}, nil
	}
	s, err := New(Options{EngineFactory: factory})
	require.NoError(t, err)

	assert.Error(t, s.Start(uint16(port), 2, 2))
	assert.Equal(t, Stopped, s.State())
	assert.Equal(t, int32(2), closed.Load())
}

type closeCounter struct{ n *atomic.Int32 }

func (closeCounter) Run(context.Context, []engine.Step, *request.Request, *response.Response) error {
	return nil
}

func (c closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

func TestStopFailsQueuedRequests(t *testing.T) {
	eng := newScriptEngine()
	s := startServer(t, Options{EngineFactory: eng.factory()}, 1, 1)
	require.NoError(t, s.AddRoute("slow", "GET", "wait"))

	type result struct {
		status int
		body   string
	}
	first := make(chan result, 1)
	go func() {
		res, body := do(t, s, http.MethodGet, "/slow")
		first <- result{res.StatusCode, body}
	}()
	require.Eventually(t, func() bool { return eng.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	second := make(chan result, 1)
	go func() {
		res, body := do(t, s, http.MethodGet, "/slow")
		second <- result{res.StatusCode, body}
	}()
	require.Eventually(t, func() bool {
		st, ok := s.PoolStats()
		return ok && st.Queued == 1
	}, 2*time.Second, 5*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	r := <-second
	assert.Equal(t, http.StatusServiceUnavailable, r.status)
	assert.Equal(t, "execution pool is closed", r.body)
	assert.Equal(t, Stopping, s.State())

	close(eng.gate)
	r = <-first
	assert.Equal(t, http.StatusOK, r.status)
	require.NoError(t, <-stopped)
	assert.Equal(t, Stopped, s.State())
}

func TestIdleConnectionDoesNotBlockStop(t *testing.T) {
	s := startServer(t, Options{EngineFactory: newScriptEngine().factory()}, 1, 1)

	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- s.Stop() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked on an idle connection")
	}
}

func TestMalformedRequest(t *testing.T) {
	s := startServer(t, Options{EngineFactory: newScriptEngine().factory()}, 1, 1)

	cases := map[string]struct {
		raw    string
		status int
	}{
		"bad request line": {"NOT HTTP\r\n\r\n", http.StatusBadRequest},
		"bad header":       {"GET / HTTP/1.1\r\nHost : x\r\n\r\n", http.StatusBadRequest},
		"gzip only":        {"POST / HTTP/1.1\r\nTransfer-Encoding: gzip\r\n\r\n", http.StatusNotImplemented},
		"missing host":     {"GET / HTTP/1.1\r\n\r\n", http.StatusBadRequest},
		"two hosts":        {"GET / HTTP/1.1\r\nHost: a\r\nHost: b\r\n\r\n", http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			conn, err := net.Dial("tcp", s.Addr().String())
			require.NoError(t, err)
			defer conn.Close()

			_, err = fmt.Fprint(conn, tc.raw)
			require.NoError(t, err)
			res, err := http.ReadResponse(bufio.NewReader(conn), nil)
			require.NoError(t, err)
			defer res.Body.Close()
			assert.Equal(t, tc.status, res.StatusCode)
		})
	}
}

func TestBodyLimit(t *testing.T) {
	s := startServer(t, Options{EngineFactory: newScriptEngine().factory(), MaxBodyBytes: 8}, 1, 1)
	require.NoError(t, s.AddRoute("upload", "POST", "body:ok"))

	res, err := client.Post("http://"+s.Addr().String()+"/upload", "text/plain", strings.NewReader("far too large"))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode)
}

func TestAccessLog(t *testing.T) {
	sink := &recordingSink{}
	s := startServer(t, Options{EngineFactory: newScriptEngine().factory(), Logger: sink, AccessLog: true}, 1, 1)
	require.NoError(t, s.AddRoute("ping", "GET", "body:pong"))

	do(t, s, http.MethodGet, "/ping?x=1")
	require.Eventually(t, func() bool { return len(sink.messages()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, strings.HasPrefix(sink.messages()[0], "GET /ping?x=1 200 in "))
}

func TestBrokenLoggerFallsBack(t *testing.T) {
	var fallback recordingSink
	broken := logsink.Func(func(string) error { panic("sink down") })
	s, err := New(Options{EngineFactory: newScriptEngine().factory(), Logger: broken})
	require.NoError(t, err)
	s.logger = logsink.New(broken, logsink.WithFallback(&fallback))

	require.NoError(t, s.AddRoute("boom", "GET", "fail:bad"))
	require.NoError(t, s.Start(0, 1, 1))
	defer s.Stop()

	res, body := do(t, s, http.MethodGet, "/boom")
	assert.Equal(t, http.StatusInternalServerError, res.StatusCode)
	assert.Equal(t, "bad", body)
	require.Len(t, fallback.messages(), 1)
	assert.Contains(t, fallback.messages()[0], "sink down")
}
