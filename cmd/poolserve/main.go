// Command poolserve runs a poolserve instance described by a TOML manifest.
//
//	POOLSERVE_MANIFEST=poolserve.toml poolserve
//
// POOLSERVE_ADMIN_ADDRESS overrides the manifest's admin address.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/shravanasati/poolserve/config"
	luaengine "github.com/shravanasati/poolserve/engine/lua"
	"github.com/shravanasati/poolserve/internal/admin"
	"github.com/shravanasati/poolserve/logsink"
	"github.com/shravanasati/poolserve/server"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	manifestEnv     = "POOLSERVE_MANIFEST"
	defaultManifest = "poolserve.toml"
	adminEnv        = "POOLSERVE_ADMIN_ADDRESS"
)

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideServer,
		),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l}
		}),
		fx.Invoke(registerHooks),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := envOr(manifestEnv, defaultManifest)
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("manifest load failed: %w", err)
	}
	if err := checkHandlers(cfg); err != nil {
		return config.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Admin.Address = envOr(adminEnv, cfg.Admin.Address)
	return cfg, nil
}

// checkHandlers compiles every handler body so syntax errors stop the
// process at boot instead of turning into 500s.
func checkHandlers(cfg config.Config) error {
	var errs []error
	for _, m := range cfg.Middleware {
		if err := luaengine.Check("middleware "+m.Name, m.Body); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range cfg.Routes {
		if err := luaengine.Check(r.Method+" "+r.Path, r.Body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func provideLogger(cfg config.Config) *zap.Logger {
	if cfg.Log.Dir == "" {
		return logsink.NewConsoleLogger()
	}
	return logsink.NewFileLogger(cfg.Log.Dir, cfg.Log.File)
}

func provideServer(cfg config.Config, zl *zap.Logger) (*server.Server, error) {
	sink := logsink.Zap(zl)

	opts := cfg.ServerOptions()
	opts.Logger = sink
	opts.EngineFactory = luaengine.NewFactory(
		luaengine.WithExecutionTimeout(cfg.ExecutionTimeout()),
		luaengine.WithLogger(logsink.New(sink)),
	)

	s, err := server.New(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Register(s); err != nil {
		return nil, err
	}
	return s, nil
}

func registerHooks(lc fx.Lifecycle, cfg config.Config, s *server.Server, zl *zap.Logger) {
	var adminSrv *http.Server
	if cfg.Admin.Address != "" {
		adminSrv = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      admin.NewRouter(s),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := s.Start(cfg.Port, cfg.MinContexts, cfg.MaxContexts); err != nil {
				return err
			}
			zl.Info("server listening",
				zap.Stringer("addr", s.Addr()),
				zap.Stringer("bind", cfg.BindPolicy()),
				zap.Int("min_contexts", cfg.MinContexts),
				zap.Int("max_contexts", cfg.MaxContexts),
				zap.Int("routes", len(s.Routes())),
			)

			if adminSrv != nil {
				zl.Info("admin starting", zap.String("addr", adminSrv.Addr))
				go func() {
					if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						zl.Error("admin failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zl.Info("server stopping")
			var errs []error
			if adminSrv != nil {
				errs = append(errs, adminSrv.Shutdown(ctx))
			}
			if s.State() == server.Listening {
				errs = append(errs, s.Stop())
			}
			_ = zl.Sync()
			return errors.Join(errs...)
		},
	})
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
