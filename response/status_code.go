package response

import "net/http"

// StatusCode is an HTTP status code. Any value in 100-599 may be sent; the
// constants cover the codes the server and its handlers produce themselves.
type StatusCode int

const (
	StatusOK        StatusCode = http.StatusOK
	StatusCreated   StatusCode = http.StatusCreated
	StatusAccepted  StatusCode = http.StatusAccepted
	StatusNoContent StatusCode = http.StatusNoContent

	StatusMovedPermanently  StatusCode = http.StatusMovedPermanently
	StatusFound             StatusCode = http.StatusFound
	StatusSeeOther          StatusCode = http.StatusSeeOther
	StatusNotModified       StatusCode = http.StatusNotModified
	StatusTemporaryRedirect StatusCode = http.StatusTemporaryRedirect
	StatusPermanentRedirect StatusCode = http.StatusPermanentRedirect

	StatusBadRequest                  StatusCode = http.StatusBadRequest
	StatusNotFound                    StatusCode = http.StatusNotFound
	StatusPayloadTooLarge             StatusCode = http.StatusRequestEntityTooLarge
	StatusImATeapot                   StatusCode = http.StatusTeapot
	StatusRequestHeaderFieldsTooLarge StatusCode = http.StatusRequestHeaderFieldsTooLarge

	StatusInternalServerError StatusCode = http.StatusInternalServerError
	StatusNotImplemented      StatusCode = http.StatusNotImplemented
	StatusServiceUnavailable  StatusCode = http.StatusServiceUnavailable
)

// Valid reports whether s is a three digit code a response may carry.
func (s StatusCode) Valid() bool {
	return s >= 100 && s <= 599
}

// Reason returns the registered reason phrase. Unregistered codes get an
// empty phrase, which RFC 9112 permits.
func (s StatusCode) Reason() string {
	return http.StatusText(int(s))
}
