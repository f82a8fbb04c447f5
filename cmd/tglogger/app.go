package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tglogger/internal/driver/telegram"
	"tglogger/internal/kernel"
	"tglogger/modules/monitor"
	"tglogger/pkg/chatlog"
	"tglogger/pkg/journal"
)

const (
	driverName             = telegram.DriverType
	metricsShutdownTimeout = 5 * time.Second
)

// driverBuilder constructs the event-producing driver for one configuration.
type driverBuilder func(cfg appConfig, logger *slog.Logger) (chatlog.Driver, error)

func run() error {
	environ, err := loadEnvironment(os.Environ())
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	cfg, err := loadConfig(environ)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runApp(ctx, logger, cfg, buildTelegramDriver)
}

func buildTelegramDriver(cfg appConfig, logger *slog.Logger) (chatlog.Driver, error) {
	driver, err := telegram.BuildRuntime(driverName, logger, cfg.telegram)
	if err != nil {
		return nil, fmt.Errorf("build telegram runtime: %w", err)
	}

	return driver, nil
}

// runApp wires journal, monitor, kernel, and driver, then blocks until ctx
// is canceled or the driver fails.
func runApp(ctx context.Context, logger *slog.Logger, cfg appConfig, newDriver driverBuilder) error {
	sink, err := journal.New(cfg.logDir, journal.WithFileMode(cfg.logFileMode))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	monitorModule, err := monitor.New(
		sink,
		monitor.WithLogger(logger),
		monitor.WithAllowedChats(cfg.allowedChats),
		monitor.WithRegisterer(registry),
	)
	if err != nil {
		return fmt.Errorf("new monitor module: %w", err)
	}

	kernelRuntime := kernel.New(kernel.WithLogger(logger))
	if err := kernelRuntime.RegisterModule(ctx, monitorModule); err != nil {
		return fmt.Errorf("register monitor module: %w", err)
	}

	driver, err := newDriver(cfg, logger)
	if err != nil {
		return err
	}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		return fmt.Errorf("register driver %s: %w", driver.Name(), err)
	}

	if cfg.metricsAddr != "" {
		server, err := startMetricsServer(cfg.metricsAddr, newMetricsRouter(registry), logger)
		if err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	logger.InfoContext(ctx, "tglogger started",
		"log_dir", sink.Dir(),
		"allowed_chats", len(cfg.allowedChats),
		"metrics_addr", cfg.metricsAddr,
	)

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}
	logger.Info("tglogger stopped")

	return nil
}
