// Command poolserve-bench serves a fixed set of Lua routes on :42069 for load
// testing tools such as wrk or oha.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	luaengine "github.com/shravanasati/poolserve/engine/lua"
	"github.com/shravanasati/poolserve/logsink"
	"github.com/shravanasati/poolserve/server"
)

const port = 42069

var routes = []struct {
	path, method, body string
}{
	{"json", "GET", `response.json({hello = 1, hi = "bye"})`},
	{"hello", "GET", `response.body("hello " .. (request.query.name or "world"))`},
	{"echo", "POST", `response.content_type(request.headers["content-type"] or "") response.body(request.body)`},
}

func main() {
	minContexts := flag.Int("min", 2, "execution contexts opened at start")
	maxContexts := flag.Int("max", 8, "upper bound on execution contexts")
	flag.Parse()

	sink := logsink.Zap(logsink.NewConsoleLogger())
	s, err := server.New(server.Options{
		Logger:        sink,
		EngineFactory: luaengine.NewFactory(luaengine.WithLogger(logsink.New(sink))),
	})
	if err != nil {
		log.Fatalf("Error creating server: %v", err)
	}
	for _, r := range routes {
		if err := s.AddRoute(r.path, r.method, r.body); err != nil {
			log.Fatalf("Error adding route %s: %v", r.path, err)
		}
	}

	if err := s.Start(port, *minContexts, *maxContexts); err != nil {
		log.Fatalf("Error starting server: %v", err)
	}
	log.Println("Server started on", s.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	if err := s.Stop(); err != nil {
		log.Println("Error stopping server:", err)
	}
	log.Println("Server gracefully stopped")
}
