package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/shravanasati/poolserve/accesslog"
	"github.com/shravanasati/poolserve/engine"
	"github.com/shravanasati/poolserve/metrics"
	"github.com/shravanasati/poolserve/pool"
	"github.com/shravanasati/poolserve/request"
	"github.com/shravanasati/poolserve/response"
	"github.com/shravanasati/poolserve/router"
)

const (
	notFoundBody = "Not Found"

	lingerTimeout  = 500 * time.Millisecond
	maxLingerBytes = 256 << 10
)

func (s *Server) serveConn(conn net.Conn, p *pool.Pool) {
	defer s.conns.Done()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Logf("server: unable to close connection: %v", err)
		}
	}()

	start := time.Now()
	w := response.NewWriter(conn)

	s.beginRead(conn)
	req, err := request.FromReader(conn,
		request.WithMaxBodyBytes(s.opts.MaxBodyBytes),
		request.WithRemoteAddr(conn.RemoteAddr().String()),
	)
	s.endRead(conn)

	if err != nil {
		if silent(err) {
			return
		}
		status := parseErrorStatus(err)
		s.write(w, nil, response.NewText(status, status.Reason()), start)
		linger(conn)
		return
	}

	resp := s.dispatch(req, p)
	if resp.Status() == response.StatusOK && resp.NotModified(req.Header("if-none-match")) {
		resp = notModified(resp)
	}
	s.write(w, req, resp, start)
}

// notModified keeps the validators of resp and drops its body.
func notModified(resp *response.Response) *response.Response {
	out := response.New().WithStatusCode(response.StatusNotModified)
	for _, key := range []string{"etag", "cache-control", "vary"} {
		if v := resp.Headers().Get(key); v != "" {
			out.WithHeader(key, v)
		}
	}
	return out
}

// dispatch resolves req and, for a known route, runs middleware followed by
// the route handler on the pool. It returns once the response is final.
func (s *Server) dispatch(req *request.Request, p *pool.Pool) *response.Response {
	path := router.NormalizePath(req.Path())
	body, ok := s.routes.Resolve(path, req.Method())
	if !ok {
		return response.NewText(response.StatusNotFound, notFoundBody)
	}

	middleware := s.chain.Snapshot()
	chain := make([]engine.Step, 0, len(middleware)+1)
	for _, m := range middleware {
		chain = append(chain, engine.Step{Name: "middleware " + m.Name, Body: m.Body})
	}
	chain = append(chain, engine.Step{Name: router.NormalizeMethod(req.Method()) + " /" + path, Body: body})

	resp := response.New()
	handle, err := p.Submit(&pool.Job{
		Chain:    chain,
		Request:  req,
		Response: resp,
		Done:     func(err error) { s.complete(req, resp, err) },
	})
	if err != nil {
		return response.NewText(response.StatusServiceUnavailable, err.Error())
	}

	// the pool guarantees completion, so there is nothing to time out here
	_ = handle.Wait(context.Background())
	return resp
}

// complete is the job continuation. A failed chain becomes a 500 carrying
// the failure reason, logged once.
func (s *Server) complete(req *request.Request, resp *response.Response, err error) {
	switch {
	case err == nil:
	case errors.Is(err, pool.ErrPoolClosed):
		resp.WithStatusCode(response.StatusServiceUnavailable).
			WithContentType(response.DefaultContentType).
			WithBodyString(err.Error())
	default:
		reason := engine.Reason(err)
		resp.WithStatusCode(response.StatusInternalServerError).
			WithContentType(response.DefaultContentType).
			WithBodyString(reason)
		s.logger.Logf("request %s %s %s failed: %s", req.ID(), req.Method(), req.Target(), reason)
	}
}

func (s *Server) write(w *response.Writer, req *request.Request, resp *response.Response, start time.Time) {
	if req != nil {
		resp.WithHeader("X-Request-Id", req.ID())
	}
	resp.WithHeader("date", time.Now().UTC().Format(http.TimeFormat))
	if err := w.Write(resp); err != nil {
		s.logger.Logf("server: unable to write response: %v", err)
	}

	entry := accesslog.Entry{Method: "-", Target: "-", Status: int(resp.Status()), Elapsed: time.Since(start)}
	if req != nil {
		entry.RequestID, entry.Method, entry.Target = req.ID(), req.Method(), req.Target()
	}
	metrics.ObserveRequest(entry.Status, router.NormalizeMethod(entry.Method), entry.Elapsed)

	if s.opts.AccessLog {
		if s.opts.ColorAccessLog {
			s.logger.Log(accesslog.ColoredLine(entry))
		} else {
			s.logger.Log(accesslog.Line(entry))
		}
	}
}

// linger drains what the peer already sent after a rejected request, so
// closing does not reset the connection before the response is read.
func linger(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(lingerTimeout))
	io.Copy(io.Discard, io.LimitReader(conn, maxLingerBytes))
}

// silent reports read errors that end a connection without a response: the
// peer went away, or the read deadline passed.
func silent(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, net.ErrClosed)
}

func parseErrorStatus(err error) response.StatusCode {
	switch {
	case errors.Is(err, request.ErrBodyTooLarge):
		return response.StatusPayloadTooLarge
	case errors.Is(err, request.ErrLineTooLong):
		return response.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, request.ErrUnsupportedEncoding):
		return response.StatusNotImplemented
	default:
		return response.StatusBadRequest
	}
}
