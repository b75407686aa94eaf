package request

import "errors"

var (
	ErrIncorrectRequestLine = errors.New("incorrect request line")
	ErrIncompleteRequest    = errors.New("incomplete request")
	ErrLineTooLong          = errors.New("request line or header too long")
	ErrMalformedChunk       = errors.New("malformed chunked body")
	ErrBodyTooLarge         = errors.New("request body too large")
	ErrAmbiguousLength      = errors.New("both content-length and transfer-encoding present")
	ErrInvalidContentLength = errors.New("invalid content-length")
	ErrUnsupportedEncoding  = errors.New("last transfer coding must be chunked")
	ErrInvalidHost          = errors.New("HTTP/1.1 requests need exactly one host")
)
