package vaultd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	enginecfg "synthvault/config"
	"synthvault/observability/logging"
	telemetry "synthvault/observability/otel"
	"synthvault/services/vaultd/config"
)

const shutdownTimeout = 10 * time.Second

// Main initialises and runs the vault daemon until SIGINT or SIGTERM.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to vaultd YAML configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.SetupWithOptions("vaultd", cfg.Environment, logging.Options{
		Level: logging.ParseLevel(cfg.LogLevel),
		File:  os.Getenv(logging.LogFileEnv),
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv(telemetry.Config{
		ServiceName: "vaultd",
		Environment: cfg.Environment,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	}))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	engineCfg, err := enginecfg.Load(cfg.EngineConfig)
	if err != nil {
		return fmt.Errorf("load engine config: %w", err)
	}
	logger.Info("configuration loaded", "config", cfg.Sanitized(), "storage", engineCfg.StorageBackend)

	a, err := build(cfg, engineCfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, cfg.ListenAddress, a)
}

func run(ctx context.Context, addr string, a *app) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: event streams are long-lived. Handlers bound their
		// own work.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("vaultd listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	})
	if a.keeper != nil {
		g.Go(func() error { return a.keeper.Run(gctx) })
	}
	if a.pricer != nil {
		g.Go(func() error { return a.pricer.Run(gctx) })
	}
	return g.Wait()
}
