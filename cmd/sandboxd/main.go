// Package main runs the sandboxd worker: a Temporal worker executing
// task-run workflows, plus a small HTTP server for health and metrics.
//
// Usage:
//
//	SANDBOXD_PROVIDER_API_KEY=sk-xxx \
//	SANDBOXD_REASONING_API_KEY=sk-yyy \
//	./sandboxd -config /etc/sandboxd/config.yaml
package main

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

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sandboxd/internal/config"
	"github.com/fyrsmithlabs/sandboxd/internal/logging"
	"github.com/fyrsmithlabs/sandboxd/internal/progress"
	"github.com/fyrsmithlabs/sandboxd/internal/reasoning"
	"github.com/fyrsmithlabs/sandboxd/internal/sandbox"
	"github.com/fyrsmithlabs/sandboxd/internal/telemetry"
	"github.com/fyrsmithlabs/sandboxd/internal/workflows"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("sandboxd starting",
		zap.String("temporal_host", cfg.Temporal.HostPort),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("provider", cfg.Provider.BaseURL))

	// Workflow metrics are recorded through the otel global; the meter
	// provider must be installed before activities create instruments,
	// and it exports into the registry served on /metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsShutdown, err := telemetry.Init(registry, "sandboxd")
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := metricsShutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Progress is best-effort: a NATS outage degrades to silent runs
	// rather than stopping the worker.
	var publisher *progress.Publisher
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		logger.Warn("NATS unavailable, progress updates disabled",
			zap.String("url", cfg.NATS.URL), zap.Error(err))
		publisher = progress.NewPublisher(nil, logger)
	} else {
		defer nc.Close()
		logger.Info("connected to NATS", zap.String("url", cfg.NATS.URL))
		publisher = progress.NewPublisher(nc, logger)
	}

	manager := sandbox.NewManager(
		sandbox.NewClient(sandbox.ClientConfig{
			BaseURL:        cfg.Provider.BaseURL,
			APIKey:         cfg.Provider.APIKey,
			RequestTimeout: cfg.Provider.RequestTimeout.Duration(),
		}),
		sandbox.ManagerConfig{
			SandboxTimeout: cfg.Provider.SandboxTimeout.Duration(),
			MaxPerTenant:   cfg.Provider.MaxPerTenant,
		},
		logger,
	)

	reasoner := reasoning.NewClient(cfg.Reasoning)

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.TaskRunWorkflow)
	w.RegisterActivity(workflows.NewActivities(manager, reasoner, publisher, logger))

	logger.Info("worker configured", zap.String("task_queue", cfg.Temporal.TaskQueue))

	srv := echo.New()
	srv.HideBanner = true
	srv.GET("/health", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	srv.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	serverErrors := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case err := <-serverErrors:
		return fmt.Errorf("http server error: %w", err)
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", zap.Error(err))
	}

	logger.Info("sandboxd stopped")
	return nil
}
