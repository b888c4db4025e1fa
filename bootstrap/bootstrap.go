// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file with USAGEBILL_* environment overrides,
// or from the environment alone when no file is present.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/usagebill/adapters/clock"
	"github.com/artpar/usagebill/adapters/hasher"
	apihttp "github.com/artpar/usagebill/adapters/http"
	"github.com/artpar/usagebill/adapters/idgen"
	"github.com/artpar/usagebill/adapters/memory"
	"github.com/artpar/usagebill/adapters/metrics"
	"github.com/artpar/usagebill/adapters/redis"
	"github.com/artpar/usagebill/adapters/sqlite"
	"github.com/artpar/usagebill/app"
	"github.com/artpar/usagebill/config"
	"github.com/artpar/usagebill/domain/billing"
	"github.com/artpar/usagebill/ports"
)

// Options controls how the application is assembled.
type Options struct {
	// ConfigPath is the YAML file to load. A missing file falls back to
	// environment-only configuration and disables hot reload.
	ConfigPath string

	// Memory forces the in-memory store regardless of database.driver.
	Memory bool

	// Version is reported by /version.
	Version string

	// LogOutput receives log lines; nil means stdout.
	LogOutput io.Writer

	// Clock overrides the wall clock (tests).
	Clock ports.Clock
}

// App represents the running application.
type App struct {
	Config     *config.Config // configuration at startup; see Holder for reloads
	Logger     zerolog.Logger
	Store      ports.Store
	Cache      ports.PlanCache // nil when cache.mode is none
	Metrics    *metrics.Collector
	Registry   *prometheus.Registry
	Keys       *app.KeyService
	Plans      *app.PlanLoader
	PlanAdmin  *app.PlanService
	Draft      *app.DraftService
	Seeder     *app.Seeder
	Router     http.Handler
	HTTPServer *http.Server

	holder    *config.Holder
	clock     ports.Clock
	closers   []io.Closer
	closeOnce sync.Once
}

// New loads configuration and wires the application. Nothing listens until Run.
func New(opts Options) (*App, error) {
	cfg, holder, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Memory {
		cfg.Database.Driver = "memory"
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stdout
	}
	logger := setupLogger(cfg.Logging, out)
	if holder != nil {
		holder.SetLogger(logger)
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		holder: holder,
		clock:  clk,
	}

	logger.Info().
		Str("driver", cfg.Database.Driver).
		Str("cache", cfg.Cache.Mode).
		Msg("initializing usagebill")

	if err := a.initStore(); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := a.initCache(context.Background()); err != nil {
		a.Shutdown()
		return nil, fmt.Errorf("init cache: %w", err)
	}
	a.initMetrics()
	a.initServices()
	a.initHTTPServer(opts.Version)

	if holder != nil {
		holder.OnChange(a.applyConfig)
		holder.OnError(func(err error) {
			if a.Metrics != nil {
				a.Metrics.ConfigReloaded(err, a.clock.Now())
			}
		})
	}

	return a, nil
}

func loadConfig(path string) (*config.Config, *config.Holder, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			h, err := config.NewHolder(path, zerolog.Nop())
			if err != nil {
				return nil, nil, err
			}
			return h.Get(), h, nil
		}
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	return cfg, nil, nil
}

func (a *App) initStore() error {
	switch a.Config.Database.Driver {
	case "memory":
		a.Store = memory.NewStore()
		a.Logger.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		store, err := sqlite.OpenStore(a.Config.Database.DSN)
		if err != nil {
			return err
		}
		a.Store = store
		a.Logger.Info().Str("dsn", a.Config.Database.DSN).Msg("database initialized")
	}
	a.closers = append(a.closers, a.Store)
	return nil
}

func (a *App) initCache(ctx context.Context) error {
	cfg := a.Config.Cache
	switch cfg.Mode {
	case "none":
		return nil
	case "redis":
		cache, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
			redis.WithTTL(cfg.TTL),
			redis.WithPrefix(cfg.Redis.Prefix),
			redis.WithLogger(a.Logger),
		)
		if err != nil {
			return err
		}
		a.Cache = cache
		a.closers = append(a.closers, cache)
		a.Logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis plan cache enabled")
	default:
		a.Cache = memory.NewPlanCache(cfg.TTL, a.clock)
	}
	return nil
}

func (a *App) initMetrics() {
	if !a.Config.Metrics.Enabled {
		return
	}
	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = metrics.NewWithRegistry(a.Registry)
	a.Logger.Info().Msg("prometheus metrics enabled")
}

func (a *App) initServices() {
	var recorder ports.MetricsRecorder
	if a.Metrics != nil {
		recorder = a.Metrics
	}

	a.Plans = app.NewPlanLoader(a.Store, a.Cache, recorder, a.Logger)
	a.PlanAdmin = app.NewPlanService(a.Store, a.Plans, a.Logger)
	a.Keys = app.NewKeyService(
		a.Store,
		a.Store,
		hasher.NewBcrypt(a.Config.Auth.BcryptCost),
		a.clock,
		a.Config.Auth.KeyPrefix,
		a.Logger,
	)
	a.Draft = app.NewDraftService(app.DraftDeps{
		Events:        a.Store,
		Subscriptions: a.Store,
		Plans:         a.Plans,
		Clock:         a.clock,
		Metrics:       recorder,
		Logger:        a.Logger,
		Workers:       a.Config.Draft.Workers,
		Timeout:       a.Config.Draft.Timeout,
		Policy:        billing.Policy{ClampNegative: a.Config.Billing.ClampNegative},
	})
	a.Seeder = app.NewSeeder(a.Store, a.Keys, idgen.UUID{}, a.clock, a.Logger)
}

func (a *App) initHTTPServer(version string) {
	routerCfg := apihttp.RouterConfig{
		Draft:          apihttp.NewDraftHandler(a.Draft, a.Logger),
		Plans:          apihttp.NewPlanHandler(a.Plans, a.PlanAdmin, a.Logger),
		Health:         apihttp.NewHealthHandler(a.readiness()),
		Auth:           a.Keys,
		Metrics:        a.Metrics,
		MetricsPath:    a.Config.Metrics.Path,
		EnableOpenAPI:  a.Config.OpenAPI.Enabled,
		Version:        version,
		RequestTimeout: a.Config.Server.WriteTimeout,
	}
	if a.Registry != nil {
		routerCfg.MetricsHandler = promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
	}
	a.Router = apihttp.NewRouter(routerCfg, a.Logger)

	addr := a.Config.Server.Addr()
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// readiness pings the store and the cache when they support it.
func (a *App) readiness() apihttp.HealthChecker {
	var checks readinessChecks
	if s, ok := a.Store.(*sqlite.Store); ok {
		checks = append(checks, s.DB())
	}
	if c, ok := a.Cache.(*redis.PlanCache); ok {
		checks = append(checks, c)
	}
	return checks
}

type readinessChecks []apihttp.HealthChecker

func (c readinessChecks) Ping(ctx context.Context) error {
	for _, check := range c {
		if err := check.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

// applyConfig applies the reloadable fields of a new configuration.
func (a *App) applyConfig(cfg *config.Config) {
	a.Draft.SetWorkers(cfg.Draft.Workers)
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if a.Metrics != nil {
		a.Metrics.ConfigReloaded(nil, a.clock.Now())
	}
	a.Logger.Info().
		Int("draft_workers", a.Draft.Workers()).
		Str("log_level", cfg.Logging.Level).
		Msg("runtime settings updated")
}

// Holder returns the config holder, or nil when running from the environment.
func (a *App) Holder() *config.Holder {
	return a.holder
}

// Run starts the HTTP server and blocks until ctx is done, SIGINT/SIGTERM
// arrives or the server fails.
func (a *App) Run(ctx context.Context) error {
	if a.holder != nil {
		if err := a.holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config file watch disabled")
		}
		a.holder.WatchSignals()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		a.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		a.Logger.Info().Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. It is safe to call more than once.
func (a *App) Shutdown() error {
	var errs []error
	a.closeOnce.Do(func() {
		timeout := 15 * time.Second
		if a.Config != nil && a.Config.Server.ShutdownTimeout > 0 {
			timeout = a.Config.Server.ShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if a.holder != nil {
			a.holder.Stop()
		}

		if a.HTTPServer != nil {
			if err := a.HTTPServer.Shutdown(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server shutdown error")
				errs = append(errs, err)
			}
		}

		// Close in reverse order of creation
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i].Close(); err != nil {
				a.Logger.Error().Err(err).Msg("close error")
				errs = append(errs, err)
			}
		}

		a.Logger.Info().Msg("shutdown complete")
	})
	return errors.Join(errs...)
}
