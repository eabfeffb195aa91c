package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/gateway"
	"github.com/haasonsaas/conductor/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(observability.ParseLevel(cfg.Logging.Level))
	logger := observability.NewLogger(observability.LogConfig{
		LevelVar:  levelVar,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	slog.SetDefault(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	tracer, stopTracer, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "conductor",
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		SampleRate:     cfg.Observability.SampleRate,
		Insecure:       cfg.Observability.OTLPInsecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := stopTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	store, err := gateway.BuildStore(cfg)
	if err != nil {
		return err
	}
	client, err := gateway.BuildClient(cfg, logger)
	if err != nil {
		return usageError{err}
	}

	server, err := gateway.NewServer(gateway.Options{
		Config:   cfg,
		Store:    store,
		Client:   client,
		Gatherer: registry,
		Metrics:  metrics,
		Tracer:   tracer,
		Logger:   logger,
		LevelVar: levelVar,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}

	if configPath != "" {
		if err := config.Watch(ctx, configPath, logger, server.ApplyConfig); err != nil {
			logger.Warn("config watch unavailable", "path", configPath, "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down", "signal", true)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(stopCtx); err != nil {
		return err
	}
	return ctx.Err()
}
