package request

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"
)

// maxLineBytes bounds the request line and every header line.
const maxLineBytes = 8 << 10

var registeredNurse = []byte("\r\n")

// readLine returns the next line without its CRLF. A bare LF is tolerated.
// io.EOF is returned only when nothing at all was read.
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, ErrLineTooLong
	case errors.Is(err, io.EOF):
		if len(line) == 0 {
			return nil, io.EOF
		}
		return nil, ErrIncompleteRequest
	case err != nil:
		return nil, err
	}

	if bytes.HasSuffix(line, registeredNurse) {
		return line[:len(line)-2], nil
	}
	return line[:len(line)-1], nil
}

// readChunked decodes a chunked body, discarding any trailer fields.
func readChunked(br *bufio.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	for {
		line, err := readLine(br)
		if err != nil {
			return nil, incomplete(err)
		}

		sizeField, _, _ := bytes.Cut(line, []byte(";"))
		size, err := strconv.ParseInt(string(bytes.TrimSpace(sizeField)), 16, 64)
		if err != nil || size < 0 {
			return nil, ErrMalformedChunk
		}

		if size == 0 {
			for {
				trailer, err := readLine(br)
				if err != nil {
					return nil, incomplete(err)
				}
				if len(trailer) == 0 {
					return buf.Bytes(), nil
				}
			}
		}

		if int64(buf.Len())+size > limit {
			return nil, ErrBodyTooLarge
		}
		if _, err := io.CopyN(&buf, br, size); err != nil {
			return nil, ErrIncompleteRequest
		}

		crlf, err := readLine(br)
		if err != nil {
			return nil, incomplete(err)
		}
		if len(crlf) != 0 {
			return nil, ErrMalformedChunk
		}
	}
}

func incomplete(err error) error {
	if errors.Is(err, io.EOF) {
		return ErrIncompleteRequest
	}
	return err
}
