package response

import (
	"crypto/sha1"
	"fmt"
	"strings"
)

func sha1Hash(data []byte) [sha1.Size]byte {
	return sha1.Sum(data)
}

func prepareEtagValue(val []byte) string {
	return fmt.Sprintf(`"%x"`, sha1Hash(val))
}

// WithETag sets a strong entity tag derived from the current body.
func (r *Response) WithETag() *Response {
	r.headers.Set("etag", prepareEtagValue(r.body))
	return r
}

// NotModified reports whether ifNoneMatch, the request's If-None-Match
// value, matches r's entity tag.
func (r *Response) NotModified(ifNoneMatch string) bool {
	etag := r.headers.Get("etag")
	if etag == "" || ifNoneMatch == "" {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for candidate := range strings.SplitSeq(ifNoneMatch, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == strings.TrimPrefix(etag, "W/") {
			return true
		}
	}
	return false
}
