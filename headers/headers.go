// Package headers holds the header field map shared by requests and
// responses. Names are case-insensitive and stored lower-cased. A field that
// appears more than once is folded into a single comma separated value, which
// is how RFC 9110 §5.3 lets a recipient combine repeated list fields.
package headers

import (
	"bytes"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strings"
)

// tchar from https://datatracker.ietf.org/doc/html/rfc9110#name-tokens
var tokenChars = func() (t [256]bool) {
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
		t[c-'a'+'A'] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] = true
	}
	return t
}()

type Headers struct {
	fields map[string]string
}

func NewHeaders() *Headers {
	return &Headers{fields: map[string]string{}}
}

// ValidName reports whether key is a non-empty token.
func ValidName[T ~string | ~[]byte](key T) bool {
	if len(key) == 0 {
		return false
	}
	for i := 0; i < len(key); i++ {
		if !tokenChars[key[i]] {
			return false
		}
	}
	return true
}

// ValidValue accepts HTAB, SP, VCHAR and obs-text. CR, LF and the other
// controls are what would let a value split a message.
func ValidValue[T ~string | ~[]byte](val T) bool {
	for i := 0; i < len(val); i++ {
		if c := val[i]; c != '\t' && (c < ' ' || c == 0x7f) {
			return false
		}
	}
	return true
}

func Normalize(key string) string {
	return strings.ToLower(key)
}

// Add folds value into any existing field of the same name. Fields that
// fail ValidName or ValidValue are ignored.
func (h *Headers) Add(key, value string) {
	if !ValidName(key) || !ValidValue(value) {
		return
	}
	key = Normalize(key)
	if prev, ok := h.fields[key]; ok {
		value = prev + ", " + value
	}
	h.fields[key] = value
}

// Set replaces the field. Invalid input is ignored, as in Add.
func (h *Headers) Set(key, value string) {
	if ValidName(key) && ValidValue(value) {
		h.fields[Normalize(key)] = value
	}
}

func (h *Headers) Get(key string) string { return h.fields[Normalize(key)] }

// Has is true for present fields, including ones with an empty value.
func (h *Headers) Has(key string) bool {
	_, ok := h.fields[Normalize(key)]
	return ok
}

func (h *Headers) Remove(key string) { delete(h.fields, Normalize(key)) }

// All yields fields in map order.
func (h *Headers) All() iter.Seq2[string, string] { return maps.All(h.fields) }

// Sorted yields fields by name, which keeps serialized output stable.
func (h *Headers) Sorted() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, k := range slices.Sorted(maps.Keys(h.fields)) {
			if !yield(k, h.fields[k]) {
				return
			}
		}
	}
}

func (h *Headers) Clone() *Headers { return &Headers{fields: maps.Clone(h.fields)} }

func (h *Headers) Size() int { return len(h.fields) }

// ParseFieldLine adds one "name: value" line read off the wire. Whitespace
// between the name and the colon is rejected (RFC 9112 §5.1); the value is
// trimmed of optional whitespace on both ends.
func (h *Headers) ParseFieldLine(line []byte) error {
	name, value, ok := bytes.Cut(line, []byte{':'})
	if !ok {
		return fmt.Errorf("%w: no colon in %q", ErrMalformedHeader, line)
	}

	name = bytes.TrimLeft(name, " \t")
	value = bytes.Trim(value, " \t")
	if !ValidName(name) {
		return fmt.Errorf("%w: bad field name %q", ErrMalformedHeader, name)
	}
	if !ValidValue(value) {
		return fmt.Errorf("%w: bad value for %q", ErrMalformedHeader, name)
	}

	h.Add(string(name), string(value))
	return nil
}
