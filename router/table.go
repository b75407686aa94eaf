// Package router keeps the route table and the middleware chain a server
// consults for every request. Both are safe for concurrent reads while
// registrations happen.
package router

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Route is one registered (path, method) handler body.
type Route struct {
	Path   string
	Method string
	Body   string
}

// Table maps normalized paths to method -> handler body. Paths match exactly,
// there are no parameters or wildcards.
type Table struct {
	mu     sync.RWMutex
	routes map[string]map[string]string
}

func NewTable() *Table {
	return &Table{routes: make(map[string]map[string]string)}
}

// NormalizePath strips leading and trailing separators: "/a/b/" and "a/b" are the same route.
func NormalizePath(path string) string {
	return strings.Trim(path, "/")
}

// NormalizeMethod upper-cases a method so "get" and "GET" register the same route.
func NormalizeMethod(method string) string {
	return strings.ToUpper(strings.TrimSpace(method))
}

func validMethod(method string) error {
	if method == "" {
		return invalid("method", "must not be empty")
	}
	if strings.ContainsAny(method, " \t\r\n") {
		return invalid("method", fmt.Sprintf("%q contains whitespace", method))
	}
	return nil
}

// Add registers body for (path, method). An existing handler for the same
// pair is replaced.
func (t *Table) Add(path, method, body string) error {
	method = NormalizeMethod(method)
	if err := validMethod(method); err != nil {
		return err
	}
	if strings.TrimSpace(body) == "" {
		return invalid("handler body", "must not be empty")
	}
	path = NormalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	methods, ok := t.routes[path]
	if !ok {
		methods = make(map[string]string)
		t.routes[path] = methods
	}
	methods[method] = body
	return nil
}

// Remove drops the handler for (path, method). An unknown path yields
// ErrNotFound; an unknown method on a known path is a no-op. A path left
// without methods is removed entirely.
func (t *Table) Remove(path, method string) error {
	method = NormalizeMethod(method)
	if err := validMethod(method); err != nil {
		return err
	}
	path = NormalizePath(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	methods, ok := t.routes[path]
	if !ok {
		return fmt.Errorf("route %q: %w", "/"+path, ErrNotFound)
	}
	delete(methods, method)
	if len(methods) == 0 {
		delete(t.routes, path)
	}
	return nil
}

// Resolve returns the handler body for an exact (path, method) match.
func (t *Table) Resolve(path, method string) (string, bool) {
	path, method = NormalizePath(path), NormalizeMethod(method)

	t.mu.RLock()
	defer t.mu.RUnlock()

	body, ok := t.routes[path][method]
	return body, ok
}

// Len returns the number of registered paths.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.routes)
}

// Routes returns every registered route ordered by path, then method.
func (t *Table) Routes() []Route {
	t.mu.RLock()
	out := make([]Route, 0, len(t.routes))
	for path, methods := range t.routes {
		for method, body := range methods {
			out = append(out, Route{Path: path, Method: method, Body: body})
		}
	}
	t.mu.RUnlock()

	slices.SortFunc(out, func(a, b Route) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Method, b.Method))
	})
	return out
}
