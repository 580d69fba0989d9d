// Package bootstrap loads configuration, builds the object graph and runs
// the process lifecycle.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signalbot/internal/config"
	"signalbot/pkg/logging"
	"signalbot/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

// App represents the application context and holds core dependencies.
type App struct {
	Cfg       *Config
	Logger    *logging.ZapLogger
	Telemetry *telemetry.Telemetry
}

// NewApp creates a new App instance by bootstrapping all dependencies.
func NewApp(configPath string, overrides config.Overrides) (*App, error) {
	// 1. Load Configuration
	cfg, err := LoadConfig(configPath, overrides)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// 2. Telemetry providers first, so the logger bridge has a target
	var traceOut io.Writer
	if cfg.System.LogLevel == "DEBUG" {
		traceOut = os.Stderr
	}
	tel, err := telemetry.SetupWithOptions(telemetry.Options{
		ServiceName: cfg.App.Name,
		TraceWriter: traceOut,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// 3. Initialize Logger
	logger, err := InitLogger(cfg)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("logger: %w", err)
	}

	return &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
	}, nil
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run orchestrates the application lifecycle, including signal handling.
func (a *App) Run(runners ...Runner) error {
	// Create a context that is canceled when a termination signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx, runners...)
}

// RunContext runs every runner until ctx is done or one of them fails
func (a *App) RunContext(ctx context.Context, runners ...Runner) error {
	g, ctx := errgroup.WithContext(ctx)

	a.Logger.Info("Starting application", "name", a.Cfg.App.Name, "symbol", a.Cfg.Trading.Symbol)

	for _, r := range runners {
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	// errgroup cancels the others on the first failure and returns it
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close flushes telemetry and the logger
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown failed", "error", err)
	}
	_ = a.Logger.Sync()
}
