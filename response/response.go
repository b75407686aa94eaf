// Package response holds the mutable Response a handler chain builds and the
// Writer that serializes it onto a connection exactly once.
package response

import (
	"github.com/shravanasati/poolserve/headers"
)

// DefaultContentType is used until a handler sets another one.
const DefaultContentType = "text/plain; charset=UTF-8"

// Response is mutated by every step of a handler chain; the last write wins.
// It is not safe for concurrent use: a chain runs on one context at a time and
// hands the response to the writer only after it completes.
type Response struct {
	status      StatusCode
	contentType string
	body        []byte
	headers     *headers.Headers
}

// New returns a 200 text/plain response with an empty body.
func New() *Response {
	return &Response{
		status:      StatusOK,
		contentType: DefaultContentType,
		headers:     headers.NewHeaders(),
	}
}

func (r *Response) Status() StatusCode  { return r.status }
func (r *Response) ContentType() string { return r.contentType }

// Body returns the current body. The slice must not be modified.
func (r *Response) Body() []byte { return r.body }

// Headers returns the extra header fields. content-type, content-length and
// connection are owned by the writer and never appear here.
func (r *Response) Headers() *headers.Headers { return r.headers }

// WithStatusCode sets the status. Codes outside 100-599 are ignored.
func (r *Response) WithStatusCode(code StatusCode) *Response {
	if code.Valid() {
		r.status = code
	}
	return r
}

// WithContentType sets the content type; an empty value restores the default.
func (r *Response) WithContentType(ct string) *Response {
	if ct == "" {
		ct = DefaultContentType
	}
	if headers.ValidValue(ct) {
		r.contentType = ct
	}
	return r
}

// WithBody replaces the body with a copy of b.
func (r *Response) WithBody(b []byte) *Response {
	r.body = append([]byte(nil), b...)
	return r
}

// WithBodyString replaces the body with s.
func (r *Response) WithBodyString(s string) *Response {
	r.body = []byte(s)
	return r
}

// WithHeader sets an extra header field, replacing any previous value.
func (r *Response) WithHeader(key, value string) *Response {
	switch headers.Normalize(key) {
	case "content-type":
		return r.WithContentType(value)
	case "content-length", "connection", "transfer-encoding":
		return r
	}
	r.headers.Set(key, value)
	return r
}
