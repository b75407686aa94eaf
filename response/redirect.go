package response

// Redirect turns r into a redirect to location with an empty body. Codes
// outside 3xx fall back to 302 Found.
func (r *Response) Redirect(location string, code StatusCode) *Response {
	if code < 300 || code > 399 {
		code = StatusFound
	}
	r.body = nil
	return r.WithStatusCode(code).WithHeader("location", location)
}
