// Package request parses an HTTP/1.1 request off a raw connection into an
// immutable snapshot that handler chains can read but never modify.
package request

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shravanasati/poolserve/headers"
)

// DefaultMaxBodyBytes caps request bodies when no limit is configured.
const DefaultMaxBodyBytes = 10 << 20

var requestLineRegex = regexp.MustCompile(`^([A-Za-z]+) (\S+) HTTP/(1\.[01])$`)

// Request is a read-only view of one inbound message.
type Request struct {
	id          string
	method      string
	target      string
	path        string
	httpVersion string
	query       url.Values
	headers     *headers.Headers
	body        []byte
	remoteAddr  string
}

type parseOptions struct {
	maxBodyBytes int64
	remoteAddr   string
}

// Option configures FromReader.
type Option func(*parseOptions)

// WithMaxBodyBytes limits the decoded body size.
func WithMaxBodyBytes(n int64) Option {
	return func(o *parseOptions) {
		if n > 0 {
			o.maxBodyBytes = n
		}
	}
}

// WithRemoteAddr records the peer address on the request.
func WithRemoteAddr(addr string) Option {
	return func(o *parseOptions) { o.remoteAddr = addr }
}

// FromReader reads exactly one request, including its body, from reader.
// io.EOF is returned untouched when the peer closed before sending anything.
func FromReader(reader io.Reader, opts ...Option) (*Request, error) {
	o := parseOptions{maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		opt(&o)
	}

	br := bufio.NewReaderSize(reader, maxLineBytes)

	line, err := readLine(br)
	if err != nil {
		return nil, err
	}
	method, target, version, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	hs := headers.NewHeaders()
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, incomplete(err)
		}
		if len(line) == 0 {
			break
		}
		if err := hs.ParseFieldLine(line); err != nil {
			return nil, err
		}
	}

	body, err := readBody(br, hs, o.maxBodyBytes)
	if err != nil {
		return nil, err
	}

	// https://datatracker.ietf.org/doc/html/rfc9112#section-3.2-6
	if version == "1.1" {
		if host := hs.Get("host"); host == "" || strings.Contains(host, ",") {
			return nil, ErrInvalidHost
		}
	}

	req, err := build(method, target, version, hs, body)
	if err != nil {
		return nil, err
	}
	req.remoteAddr = o.remoteAddr
	return req, nil
}

// New builds a request snapshot directly, without a wire round trip.
// hs and body are copied.
func New(method, target string, hs *headers.Headers, body []byte) (*Request, error) {
	if hs == nil {
		hs = headers.NewHeaders()
	}
	return build(method, target, "1.1", hs.Clone(), bytes.Clone(body))
}

func build(method, target, version string, hs *headers.Headers, body []byte) (*Request, error) {
	path, query, err := splitTarget(target)
	if err != nil {
		return nil, err
	}
	return &Request{
		id:          uuid.NewString(),
		method:      method,
		target:      target,
		path:        path,
		httpVersion: version,
		query:       query,
		headers:     hs,
		body:        body,
	}, nil
}

func parseRequestLine(line []byte) (method, target, version string, err error) {
	matches := requestLineRegex.FindSubmatch(line)
	if len(matches) != 4 {
		return "", "", "", ErrIncorrectRequestLine
	}
	return string(matches[1]), string(matches[2]), string(matches[3]), nil
}

func splitTarget(target string) (string, url.Values, error) {
	if target == "*" {
		return "*", url.Values{}, nil
	}
	u, err := url.ParseRequestURI(target)
	if err != nil {
		return "", nil, ErrIncorrectRequestLine
	}
	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		query = url.Values{}
	}
	return u.Path, query, nil
}

func readBody(br *bufio.Reader, hs *headers.Headers, limit int64) ([]byte, error) {
	cl, te := hs.Get("content-length"), hs.Get("transfer-encoding")

	// https://datatracker.ietf.org/doc/html/rfc9112#section-6.1-15
	if cl != "" && te != "" {
		return nil, ErrAmbiguousLength
	}

	if te != "" {
		codings := strings.Split(te, ",")
		if !strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") {
			return nil, ErrUnsupportedEncoding
		}
		return readChunked(br, limit)
	}

	if cl == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
	if err != nil || n < 0 {
		return nil, ErrInvalidContentLength
	}
	if n > limit {
		return nil, ErrBodyTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(br, body); err != nil {
		return nil, ErrIncompleteRequest
	}
	return body, nil
}

// ID is a unique identifier assigned when the request was parsed.
func (r *Request) ID() string { return r.id }

// Method returns the request method exactly as received.
func (r *Request) Method() string { return r.method }

// Target returns the raw request target, query included.
func (r *Request) Target() string { return r.target }

// Path returns the decoded path component of the target.
func (r *Request) Path() string { return r.path }

// HTTPVersion returns "1.0" or "1.1".
func (r *Request) HTTPVersion() string { return r.httpVersion }

// RemoteAddr returns the peer address, if known.
func (r *Request) RemoteAddr() string { return r.remoteAddr }

// Query returns a copy of the parsed query parameters.
func (r *Request) Query() url.Values {
	out := make(url.Values, len(r.query))
	for k, v := range r.query {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Header returns a single header value.
func (r *Request) Header(key string) string {
	return r.headers.Get(key)
}

// Headers iterates over all header fields, ordered by name.
func (r *Request) Headers() iter.Seq2[string, string] {
	return r.headers.Sorted()
}

// Body returns a copy of the request body.
func (r *Request) Body() []byte {
	return bytes.Clone(r.body)
}

// BodyLen returns the body size without copying it.
func (r *Request) BodyLen() int {
	return len(r.body)
}
