package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/photoid/internal/api"
	"github.com/dunamismax/photoid/internal/app"
	"github.com/dunamismax/photoid/internal/config"
	"github.com/dunamismax/photoid/internal/geometry"
	"github.com/dunamismax/photoid/internal/logging"
	"github.com/dunamismax/photoid/internal/queue"
	"github.com/dunamismax/photoid/internal/ratelimit"
	"github.com/dunamismax/photoid/internal/storage"
	"github.com/dunamismax/photoid/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to read .env")
	}

	cfg := config.Load()
	logger, err := logging.New("api", cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Trace.ServiceName += "-api"
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Trace, logger)
	if err != nil {
		logger.WithError(err).Fatal("init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	engine, cleanup, err := app.NewEngine(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("init render engine")
	}
	defer cleanup()

	jobStore, closeStore, err := app.OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("open job store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("job store close failed")
		}
	}()

	storageClient, err := storage.NewClient(cfg.Storage.Client())
	if err != nil {
		logger.WithError(err).Fatal("init object storage")
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.WithError(err).Warn("object storage unavailable, presigned jobs will fail")
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name, cfg.Worker.MaxRetry)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.WithError(err).Warn("queue client close failed")
		}
	}()

	opts := api.Options{
		Queue:          queueClient,
		JobStore:       jobStore,
		Storage:        storageClient,
		Renderer:       engine,
		Geometry:       geometry.New(cfg.Geometry.InterocularRatio),
		PresignTTL:     cfg.API.PresignTTL,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
	}
	if cfg.RateLimit.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer redisClient.Close()

		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.WithError(err).Fatal("init rate limiter")
		}
		opts.RateLimiter = limiter
	}

	server, err := api.NewServer(logger, opts)
	if err != nil {
		logger.WithError(err).Fatal("init api server")
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.API.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
}
