// Package logsink implements the single-call logging contract the server is
// built against: a Sink receives one message at a time, and a Logger makes
// sure a broken sink can never take a request down with it.
package logsink

import (
	"fmt"
)

// Sink receives log messages.
type Sink interface {
	Log(message string) error
}

// Func adapts a function to Sink.
type Func func(message string) error

func (f Func) Log(message string) error { return f(message) }

// Logger forwards messages to a Sink and falls back to a local sink when the
// primary one fails or panics. Logger never returns or raises an error.
// A nil *Logger discards everything.
type Logger struct {
	sink     Sink
	fallback Sink
}

// Option configures a Logger.
type Option func(*Logger)

// WithFallback replaces the default stderr fallback sink.
func WithFallback(s Sink) Option {
	return func(l *Logger) {
		if s != nil {
			l.fallback = s
		}
	}
}

// New wraps sink. A nil sink sends everything to the fallback.
func New(sink Sink, opts ...Option) *Logger {
	l := &Logger{sink: sink}
	for _, o := range opts {
		o(l)
	}
	if l.fallback == nil {
		l.fallback = Zap(NewConsoleLogger())
	}
	return l
}

// Log delivers message to the sink, or to the fallback if that fails.
func (l *Logger) Log(message string) {
	if l == nil {
		return
	}
	if l.sink != nil {
		err := deliver(l.sink, message)
		if err == nil {
			return
		}
		_ = deliver(l.fallback, fmt.Sprintf("log sink failed (%v): %s", err, message))
		return
	}
	_ = deliver(l.fallback, message)
}

// Logf formats and logs a message.
func (l *Logger) Logf(format string, args ...any) {
	if l == nil {
		return
	}
	l.Log(fmt.Sprintf(format, args...))
}

func deliver(s Sink, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("log sink panic: %v", r)
		}
	}()
	return s.Log(message)
}
