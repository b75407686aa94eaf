// Package admin serves the operator endpoints that sit beside the main
// listener: prometheus metrics, health and the registered handlers.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shravanasati/poolserve/metrics"
	"github.com/shravanasati/poolserve/pool"
	"github.com/shravanasati/poolserve/router"
	"github.com/shravanasati/poolserve/server"
)

// Source is the view of a running server the admin endpoints report on.
type Source interface {
	State() server.State
	Routes() []router.Route
	Middleware() []router.Middleware
	PoolStats() (pool.Stats, bool)
}

type routeView struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Bytes  int    `json:"bytes"`
}

type middlewareView struct {
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

// NewRouter builds the admin handler.
func NewRouter(src Source) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		state := src.State()
		status := http.StatusOK
		if state != server.Listening {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"state": state.String()})
	})

	r.Get("/routes", func(w http.ResponseWriter, _ *http.Request) {
		routes := src.Routes()
		out := make([]routeView, 0, len(routes))
		for _, rt := range routes {
			out = append(out, routeView{Method: rt.Method, Path: "/" + rt.Path, Bytes: len(rt.Body)})
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/middleware", func(w http.ResponseWriter, _ *http.Request) {
		chain := src.Middleware()
		out := make([]middlewareView, 0, len(chain))
		for _, m := range chain {
			out = append(out, middlewareView{Name: m.Name, Bytes: len(m.Body)})
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/pool", func(w http.ResponseWriter, _ *http.Request) {
		stats, ok := src.PoolStats()
		if !ok {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "server is not running"})
			return
		}
		writeJSON(w, http.StatusOK, stats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
