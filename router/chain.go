package router

import (
	"strings"
	"sync"
	"sync/atomic"
)

// Middleware is a named handler body run before every route handler.
type Middleware struct {
	Name string
	Body string
}

// Chain is the ordered middleware list. Writers copy the slice and publish
// the new one atomically, so readers never lock and never see a partial update.
type Chain struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]Middleware]
}

func NewChain() *Chain {
	c := &Chain{}
	c.entries.Store(&[]Middleware{})
	return c
}

// Add appends a middleware. Duplicate names are allowed and all of them run.
func (c *Chain) Add(name, body string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("middleware name", "must not be empty")
	}
	if strings.TrimSpace(body) == "" {
		return invalid("handler body", "must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := *c.entries.Load()
	next := make([]Middleware, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, Middleware{Name: name, Body: body})
	c.entries.Store(&next)
	return nil
}

// Remove deletes every middleware named name and reports how many were removed.
func (c *Chain) Remove(name string) (int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, invalid("middleware name", "must not be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := *c.entries.Load()
	next := make([]Middleware, 0, len(cur))
	for _, m := range cur {
		if m.Name != name {
			next = append(next, m)
		}
	}
	c.entries.Store(&next)
	return len(cur) - len(next), nil
}

// Snapshot returns the chain in insertion order. The slice is shared and must
// not be modified.
func (c *Chain) Snapshot() []Middleware {
	return *c.entries.Load()
}

// Len returns the number of entries.
func (c *Chain) Len() int {
	return len(c.Snapshot())
}
