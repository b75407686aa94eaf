package response

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

type writerState uint8

const (
	stateStatusLine writerState = iota
	stateHeaders
	stateBody
	stateDone
)

func (s writerState) next() writerState {
	if s >= stateDone {
		panic("response writer advanced past done")
	}
	return s + 1
}

// Writer serializes one Response onto a connection, then half-closes it.
// A Writer is good for a single response; later calls fail with ErrAlreadyWritten.
type Writer struct {
	conn  io.Writer
	state writerState
}

func NewWriter(conn io.Writer) *Writer {
	return &Writer{conn: conn}
}

// Written reports whether Write has been called.
func (w *Writer) Written() bool {
	return w.state != stateStatusLine
}

// WriteText writes a plain text response without building one first.
func (w *Writer) WriteText(status StatusCode, body string) error {
	return w.Write(NewText(status, body))
}

// Write emits the status line, content-type, content-length, any extra
// headers and the body, then closes the write side of the connection.
func (w *Writer) Write(r *Response) error {
	if w.state != stateStatusLine {
		return ErrAlreadyWritten
	}

	bw := bufio.NewWriter(w.conn)

	if _, err := fmt.Fprintf(bw, "HTTP/1.1 %d %s\r\n", r.status, r.status.Reason()); err != nil {
		return err
	}
	w.state = w.state.next()

	fmt.Fprintf(bw, "content-type: %s\r\n", r.contentType)
	fmt.Fprintf(bw, "content-length: %s\r\n", strconv.Itoa(len(r.body)))
	for k, v := range r.headers.Sorted() {
		fmt.Fprintf(bw, "%s: %s\r\n", k, v)
	}
	bw.WriteString("connection: close\r\n\r\n")
	w.state = w.state.next()

	bw.Write(r.body)
	if err := bw.Flush(); err != nil {
		return err
	}
	w.state = w.state.next()

	return closeWrite(w.conn)
}

func closeWrite(conn io.Writer) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
