// Package config loads the TOML manifest that describes a poolserve
// instance: where it listens, how large its pool is, and which middleware
// and routes it serves.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/shravanasati/poolserve/router"
	"github.com/shravanasati/poolserve/server"
)

type Config struct {
	Port        uint16 `toml:"port"`
	Bind        string `toml:"bind"` // "loopback" (default) or "all"
	MinContexts int    `toml:"min_contexts"`
	MaxContexts int    `toml:"max_contexts"`

	ReadTimeoutMS      int   `toml:"read_timeout_ms"`
	WriteTimeoutMS     int   `toml:"write_timeout_ms"`
	ExecutionTimeoutMS int   `toml:"execution_timeout_ms"`
	MaxBodyBytes       int64 `toml:"max_body_bytes"`

	Log   Log   `toml:"log"`
	Admin Admin `toml:"admin"`

	Middleware []Handler `toml:"middleware"`
	Routes     []Route   `toml:"route"`
}

type Log struct {
	Dir    string `toml:"dir"`  // empty logs to stderr only
	File   string `toml:"file"` // defaults to poolserve.log
	Access bool   `toml:"access"`
	Color  bool   `toml:"color"`
}

type Admin struct {
	Address string `toml:"address"` // empty disables the admin listener
}

// Handler is a named middleware body, given inline or as a file relative to
// the manifest.
type Handler struct {
	Name string `toml:"name"`
	Body string `toml:"body"`
	File string `toml:"file"`
}

type Route struct {
	Path   string `toml:"path"`
	Method string `toml:"method"`
	Body   string `toml:"body"`
	File   string `toml:"file"`
}

const (
	defaultMinContexts = 1
	defaultMaxContexts = 4
	defaultLogFile     = "poolserve.log"
)

// Load reads, completes and validates the manifest at path. Handler files
// are read relative to the manifest's directory.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(b)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.resolveFiles(filepath.Dir(path)); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a manifest and fills in defaults. Unknown keys are rejected.
// File references are left unresolved.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := toml.NewDecoder(bytes.NewReader(b)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Config{}, fmt.Errorf("unknown manifest keys:\n%s", strict.String())
		}
		return Config{}, err
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.MinContexts == 0 {
		c.MinContexts = defaultMinContexts
	}
	if c.MaxContexts == 0 {
		c.MaxContexts = max(c.MinContexts, defaultMaxContexts)
	}
	if c.Bind == "" {
		c.Bind = "loopback"
	}
	if c.Log.File == "" {
		c.Log.File = defaultLogFile
	}
}

func (c *Config) resolveFiles(dir string) error {
	read := func(file string) (string, error) {
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, file)
		}
		b, err := os.ReadFile(file)
		return string(b), err
	}

	for i := range c.Middleware {
		m := &c.Middleware[i]
		if m.File == "" {
			continue
		}
		if m.Body != "" {
			return fmt.Errorf("middleware %q: set body or file, not both", m.Name)
		}
		body, err := read(m.File)
		if err != nil {
			return fmt.Errorf("middleware %q: %w", m.Name, err)
		}
		m.Body = body
	}
	for i := range c.Routes {
		r := &c.Routes[i]
		if r.File == "" {
			continue
		}
		if r.Body != "" {
			return fmt.Errorf("route %s %s: set body or file, not both", r.Method, r.Path)
		}
		body, err := read(r.File)
		if err != nil {
			return fmt.Errorf("route %s %s: %w", r.Method, r.Path, err)
		}
		r.Body = body
	}
	return nil
}

// Validate checks every field and collects all problems into one error.
func (c *Config) Validate() error {
	var errs []error
	if c.MinContexts < 1 {
		errs = append(errs, fmt.Errorf("min_contexts must be at least 1, got %d", c.MinContexts))
	}
	if c.MaxContexts < c.MinContexts {
		errs = append(errs, fmt.Errorf("max_contexts (%d) must not be below min_contexts (%d)", c.MaxContexts, c.MinContexts))
	}
	if c.Bind != "loopback" && c.Bind != "all" {
		errs = append(errs, fmt.Errorf("bind must be \"loopback\" or \"all\", got %q", c.Bind))
	}
	if c.ReadTimeoutMS < 0 || c.WriteTimeoutMS < 0 || c.ExecutionTimeoutMS < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max_body_bytes must not be negative"))
	}

	for i, m := range c.Middleware {
		if strings.TrimSpace(m.Name) == "" {
			errs = append(errs, fmt.Errorf("middleware[%d]: name is required", i))
		}
		if strings.TrimSpace(m.Body) == "" {
			errs = append(errs, fmt.Errorf("middleware[%d] %q: body is empty", i, m.Name))
		}
	}

	seen := make(map[string]int)
	for i, r := range c.Routes {
		if strings.TrimSpace(r.Method) == "" {
			errs = append(errs, fmt.Errorf("route[%d] %q: method is required", i, r.Path))
		}
		if strings.TrimSpace(r.Body) == "" {
			errs = append(errs, fmt.Errorf("route[%d] %s %q: body is empty", i, r.Method, r.Path))
		}
		// the table would let the later entry win; a manifest treats that as a mistake
		key := router.NormalizeMethod(r.Method) + " /" + router.NormalizePath(r.Path)
		if j, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("route[%d] duplicates route[%d] (%s)", i, j, key))
		}
		seen[key] = i
	}
	return errors.Join(errs...)
}

// Registrar is the part of a server a manifest registers handlers with.
type Registrar interface {
	AddMiddleware(name, body string) error
	AddRoute(path, method, body string) error
}

// Register adds every middleware, in manifest order, then every route.
func (c *Config) Register(r Registrar) error {
	for _, m := range c.Middleware {
		if err := r.AddMiddleware(m.Name, m.Body); err != nil {
			return fmt.Errorf("middleware %q: %w", m.Name, err)
		}
	}
	for _, rt := range c.Routes {
		if err := r.AddRoute(rt.Path, rt.Method, rt.Body); err != nil {
			return fmt.Errorf("route %s %s: %w", rt.Method, rt.Path, err)
		}
	}
	return nil
}

func (c *Config) BindPolicy() server.BindPolicy {
	if c.Bind == "all" {
		return server.BindAllInterfaces
	}
	return server.BindLoopback
}

func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.ExecutionTimeoutMS) * time.Millisecond
}

// ServerOptions maps the manifest onto server.Options. Logger and
// EngineFactory are left for the caller.
func (c *Config) ServerOptions() server.Options {
	return server.Options{
		Bind:           c.BindPolicy(),
		ReadTimeout:    time.Duration(c.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:   time.Duration(c.WriteTimeoutMS) * time.Millisecond,
		MaxBodyBytes:   c.MaxBodyBytes,
		AccessLog:      c.Log.Access,
		ColorAccessLog: c.Log.Color,
	}
}
