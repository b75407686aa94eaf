package response

// NewText returns a text response with the given status and body.
func NewText(status StatusCode, body string) *Response {
	return New().WithStatusCode(status).WithBodyString(body)
}
