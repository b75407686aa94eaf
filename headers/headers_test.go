package headers

import (
	"maps"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldLine(t *testing.T) {
	t.Run("valid single header", func(t *testing.T) {
		h := NewHeaders()
		require.NoError(t, h.ParseFieldLine([]byte("Host: localhost:42069")))
		assert.Equal(t, "localhost:42069", h.Get("Host"))
		assert.Equal(t, "", h.Get("Missing"))
	})

	t.Run("surrounding whitespace is trimmed from the value", func(t *testing.T) {
		h := NewHeaders()
		require.NoError(t, h.ParseFieldLine([]byte("Host:   localhost:42069   ")))
		assert.Equal(t, "localhost:42069", h.Get("host"))
	})

	t.Run("repeated fields are folded", func(t *testing.T) {
		h := NewHeaders()
		require.NoError(t, h.ParseFieldLine([]byte("Accept: text/html")))
		require.NoError(t, h.ParseFieldLine([]byte("Accept: application/json")))
		assert.Equal(t, "text/html, application/json", h.Get("Accept"))
	})

	invalid := []string{
		"",
		"       Host : localhost:42069       ",
		"HÂ©st: localhost:42069",
		" part2",
		"Invalid@Name: value",
		"Name with space: value",
		"Valid-Name: Value with\x00null",
		"Valid-Name: Value with\x07bell",
	}
	for _, line := range invalid {
		t.Run("rejects "+line, func(t *testing.T) {
			h := NewHeaders()
			assert.ErrorIs(t, h.ParseFieldLine([]byte(line)), ErrMalformedHeader)
		})
	}
}

func TestParseFieldLineErrorNamesField(t *testing.T) {
	err := NewHeaders().ParseFieldLine([]byte("X-Trace: a\x01b"))
	assert.ErrorIs(t, err, ErrMalformedHeader)
	assert.ErrorContains(t, err, `"X-Trace"`)
}

func TestValidName(t *testing.T) {
	assert.True(t, ValidName("X-Request-Id"))
	assert.True(t, ValidName([]byte("a!#$%&'*+-.^_`|~9")))
	assert.False(t, ValidName(""))
	assert.False(t, ValidName("a:b"))
	assert.False(t, ValidName("tab\tname"))
}

func TestHeadersMethods(t *testing.T) {
	t.Run("Add and Get are case-insensitive", func(t *testing.T) {
		h := NewHeaders()
		h.Add("Content-Type", "application/json")
		assert.Equal(t, "application/json", h.Get("content-type"))
		assert.Equal(t, "application/json", h.Get("CONTENT-TYPE"))

		h.Add("X-Custom-Header", "value1")
		h.Add("x-custom-header", "value2")
		assert.Equal(t, "value1, value2", h.Get("X-Custom-Header"))
	})

	t.Run("invalid input is dropped", func(t *testing.T) {
		h := NewHeaders()
		h.Add("X-Split", "a\r\nInjected: yes")
		h.Set("Bad Name", "v")
		assert.Equal(t, 0, h.Size())
	})

	t.Run("Set replaces", func(t *testing.T) {
		h := NewHeaders()
		h.Add("Accept", "text/html")
		h.Set("ACCEPT", "text/plain")
		assert.Equal(t, "text/plain", h.Get("accept"))
		assert.Equal(t, 1, h.Size())
	})

	t.Run("Has and Remove", func(t *testing.T) {
		h := NewHeaders()
		h.Add("Empty-Value", "")
		assert.True(t, h.Has("empty-value"))
		h.Remove("EMPTY-VALUE")
		assert.False(t, h.Has("Empty-Value"))
		h.Remove("Non-Existent")
	})

	t.Run("Sorted iterates by key", func(t *testing.T) {
		h := NewHeaders()
		h.Add("X-B", "2")
		h.Add("X-A", "1")
		h.Add("Content-Length", "0")

		var keys []string
		for k := range h.Sorted() {
			keys = append(keys, k)
		}
		assert.Equal(t, []string{"content-length", "x-a", "x-b"}, keys)
		assert.True(t, slices.IsSorted(keys))
	})

	t.Run("Clone is independent", func(t *testing.T) {
		h := NewHeaders()
		h.Add("A", "1")
		c := h.Clone()
		c.Add("B", "2")
		assert.Equal(t, map[string]string{"a": "1"}, maps.Collect(h.All()))
		assert.Equal(t, 2, c.Size())
	})
}
