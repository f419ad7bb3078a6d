package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/photoid/internal/app"
	"github.com/dunamismax/photoid/internal/config"
	"github.com/dunamismax/photoid/internal/logging"
	"github.com/dunamismax/photoid/internal/storage"
	"github.com/dunamismax/photoid/internal/telemetry"
	"github.com/dunamismax/photoid/internal/webhook"
	"github.com/dunamismax/photoid/internal/worker"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to read .env")
	}

	cfg := config.Load()
	logger, err := logging.New("worker", cfg.Log)
	if err != nil {
		logrus.WithError(err).Fatal("init logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Trace.ServiceName += "-worker"
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Trace, logger)
	if err != nil {
		logger.WithError(err).Fatal("init tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
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
	defer func() { _ = closeStore() }()

	storageClient, err := storage.NewClient(cfg.Storage.Client())
	if err != nil {
		logger.WithError(err).Fatal("init object storage")
	}

	logger.WithFields(logrus.Fields{
		"concurrency":     cfg.Worker.Concurrency,
		"max_active_jobs": cfg.Worker.MaxActiveJobs,
		"queue":           cfg.Queue.Name,
		"redis":           cfg.Queue.RedisAddr,
	}).Info("starting worker")

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		engine,
		storageClient,
		webhook.NewClient(cfg.Webhook),
		jobStore,
		jobStore,
	)
	if err != nil {
		logger.WithError(err).Fatal("init worker")
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("worker failed")
	}
}
