// Command worker consumes queued GPU jobs, executes them through the pipeline
// registry, uploads artifacts and publishes GPU telemetry.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	redisadp "github.com/zimagehq/zimage/internal/adapter/cache/redis"
	"github.com/zimagehq/zimage/internal/adapter/gpumon"
	minioadp "github.com/zimagehq/zimage/internal/adapter/objstore/minio"
	"github.com/zimagehq/zimage/internal/adapter/observability"
	"github.com/zimagehq/zimage/internal/adapter/pipeline"
	asynqadp "github.com/zimagehq/zimage/internal/adapter/queue/asynq"
	"github.com/zimagehq/zimage/internal/config"
	"github.com/zimagehq/zimage/internal/domain"
	"github.com/zimagehq/zimage/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := minioadp.New(ctx, minioadp.Options{
		Endpoint:    cfg.ObjectStoreEndpoint,
		AccessKey:   cfg.ObjectStoreAccessKey,
		SecretKey:   cfg.ObjectStoreSecretKey,
		Bucket:      cfg.ObjectStoreBucket,
		UseSSL:      cfg.ObjectStoreUseSSL(),
		ExternalURL: cfg.ObjectStoreExternalURL,
	})
	if err != nil {
		slog.Error("object store connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	cache, err := redisadp.New(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	var translator domain.Translator
	if cfg.EnableTranslation {
		translator = pipeline.StubTranslator{}
	}

	registry := pipeline.NewRegistry(pipeline.NewStub)
	dispatcher := worker.NewDispatcher(registry, store, translator, worker.NewHTTPFetcher())

	w, err := asynqadp.NewWorker(cfg.QueueRedisURL, dispatcher)
	if err != nil {
		slog.Error("worker setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// telemetry loop; stops with the process context
	go gpumon.NewMonitor(cache).Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("worker starting",
			slog.String("model", cfg.ModelName),
			slog.Bool("translation", cfg.EnableTranslation))
		errCh <- w.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			slog.Error("worker error", slog.Any("error", err))
			os.Exit(1)
		}
	}

	cancel()
	w.Shutdown()
}
