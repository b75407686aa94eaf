package response

import (
	"encoding/json"
)

const jsonContentType = "application/json"

// WithJSON replaces the body with v encoded as JSON. On error the response
// is left untouched.
func (r *Response) WithJSON(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.body = body
	r.contentType = jsonContentType
	return nil
}
