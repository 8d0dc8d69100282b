// Command server starts the image API service behind the gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redisadp "github.com/zimagehq/zimage/internal/adapter/cache/redis"
	"github.com/zimagehq/zimage/internal/adapter/httpserver"
	minioadp "github.com/zimagehq/zimage/internal/adapter/objstore/minio"
	"github.com/zimagehq/zimage/internal/adapter/observability"
	asynqadp "github.com/zimagehq/zimage/internal/adapter/queue/asynq"
	"github.com/zimagehq/zimage/internal/adapter/repo/postgres"
	"github.com/zimagehq/zimage/internal/adapter/token"
	"github.com/zimagehq/zimage/internal/app"
	"github.com/zimagehq/zimage/internal/config"
	"github.com/zimagehq/zimage/internal/usecase"
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

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()
	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("migrations failed", slog.Any("error", err))
		os.Exit(1)
	}

	userRepo := postgres.NewUserRepo(pool)
	taskRepo := postgres.NewTaskRepo(pool)
	inpaintRepo := postgres.NewInpaintRepo(pool)
	imageRepo := postgres.NewImageRepo(pool)
	historyRepo := postgres.NewHistoryRepo(pool)

	cache, err := redisadp.New(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed", slog.Any("error", err))
		os.Exit(1)
	}

	queue, err := asynqadp.New(cfg.QueueRedisURL)
	if err != nil {
		slog.Error("queue connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()

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

	issuer := token.NewIssuer(cfg.JWTSecret, cfg.JWTAlgorithm, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	auth := usecase.NewAuth(userRepo, issuer, cfg.BcryptCost)
	submit := usecase.NewSubmitter(taskRepo, inpaintRepo, imageRepo, queue, store)
	status := usecase.NewReconciler(taskRepo, inpaintRepo, imageRepo, queue)
	gallery := usecase.NewGallery(imageRepo, historyRepo, store)
	replay := usecase.NewReplayer(historyRepo, store, submit)
	stats := usecase.NewStats(imageRepo, taskRepo, cache)

	srv := httpserver.NewServer(cfg, auth, submit, status, gallery, replay, stats,
		func(ctx context.Context) error { return pool.Ping(ctx) },
		cache.Ping,
	)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
