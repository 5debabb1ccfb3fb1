package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/cron"
	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/provider"
	"github.com/parleyhq/parley/internal/provider/openaicompat"
	"github.com/parleyhq/parley/internal/quota"
	"github.com/parleyhq/parley/internal/store/sqlite"
	"github.com/parleyhq/parley/internal/telemetry"
)

// app holds the wired components for one server process.
type app struct {
	logger          *slog.Logger
	store           *sqlite.Store
	gateway         *gateway.Gateway
	scheduler       *cron.Scheduler
	tracingShutdown func(context.Context) error
}

// run loads configuration, wires and starts all components, and blocks
// until a shutdown signal arrives.
func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	if err := a.start(); err != nil {
		a.close()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	a.logger.Info("shutdown signal received", "signal", sig.String())
	a.stop()
	a.logger.Info("shutdown complete")
	return nil
}

// newApp wires the store, quota guard, engine, gateway, and scheduler
// from validated configuration.
func newApp(cfg *config.Config) (*app, error) {
	logger := buildLogger(cfg.Log)

	tracingShutdown, err := telemetry.SetupTracing(context.Background(), cfg.Tracing)
	if err != nil {
		return nil, err
	}

	st, err := sqlite.Open(cfg.Store, logger.With("component", "store"))
	if err != nil {
		return nil, err
	}

	guard := quota.NewGuard(st, cfg.Quota, logger.With("component", "quota"))

	// One shared HTTP client so per-user provider instances pool
	// connections. Response-header timeout instead of a global timeout
	// keeps SSE streams alive.
	httpClient := &http.Client{
		Transport: &http.Transport{
			ResponseHeaderTimeout: cfg.Provider.Timeout,
		},
	}

	providerLogger := logger.With("component", "provider")
	backend := func(u engine.User) (engine.Completer, error) {
		pcfg := cfg.Provider
		if u.APIKey != "" {
			pcfg.APIKey = u.APIKey
		}
		if u.BaseURL != "" {
			pcfg.BaseURL = u.BaseURL
		}
		if pcfg.APIKey == "" {
			return nil, engine.ErrNoAPIKey
		}

		p := openaicompat.NewWithClient(pcfg, httpClient, providerLogger)
		return provider.NewFallback(p,
			provider.WithLogger(providerLogger),
			provider.WithOnFallback(func(_, _ string) {
				telemetry.ModelFallbacksTotal.Inc()
			}),
		), nil
	}

	eng := engine.New(st, guard, backend, cfg.Engine, logger.With("component", "engine"))

	accounts := make([]gateway.Account, len(cfg.Users))
	for i, u := range cfg.Users {
		accounts[i] = gateway.Account{
			Token: u.Token,
			User: engine.User{
				ID:        u.ID,
				APIKey:    u.APIKey,
				BaseURL:   u.BaseURL,
				Model:     u.Model,
				Prompt:    u.Prompt,
				Unlimited: u.Unlimited,
			},
		}
	}

	probe := openaicompat.NewWithClient(cfg.Provider, httpClient, providerLogger)
	gw := gateway.New(cfg.Server, eng, gateway.NewRegistry(accounts),
		logger.With("component", "gateway"),
		gateway.WithBackendProbe(probe.HealthCheck),
	)

	scheduler := cron.NewScheduler(logger.With("component", "cron"))
	if err := scheduler.RegisterJob(&quota.ResetJob{
		Store:        st,
		Logger:       logger.With("component", "quota"),
		ScheduleExpr: cfg.Quota.ResetSchedule,
	}); err != nil {
		_ = st.Close()
		return nil, err
	}

	return &app{
		logger:          logger,
		store:           st,
		gateway:         gw,
		scheduler:       scheduler,
		tracingShutdown: tracingShutdown,
	}, nil
}

func (a *app) start() error {
	if err := a.scheduler.Start(); err != nil {
		return err
	}
	return a.gateway.Start()
}

func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.gateway.Stop(ctx); err != nil {
		a.logger.Error("gateway stop failed", "error", err)
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		a.logger.Error("scheduler stop failed", "error", err)
	}
	if err := a.tracingShutdown(ctx); err != nil {
		a.logger.Error("tracing shutdown failed", "error", err)
	}
	a.close()
}

// close releases resources that outlive a failed start.
func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", "error", err)
	}
}

// buildLogger constructs the root structured logger.
func buildLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// errNotRunning formats a start-ordering error (used by service control).
func errNotRunning(what string) error {
	return fmt.Errorf("%s is not running", what)
}
