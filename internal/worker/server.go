// Package worker consumes queued photo jobs and renders them.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/photoid/internal/config"
	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/imageio"
	"github.com/dunamismax/photoid/internal/pipeline"
	"github.com/dunamismax/photoid/internal/queue"
	"github.com/dunamismax/photoid/internal/store"
	"github.com/dunamismax/photoid/internal/telemetry"
	"github.com/dunamismax/photoid/internal/webhook"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger          *logrus.Entry
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// NewServer wires the asynq consumer. objects may be nil, in which case
// s3_presigned jobs fail without retry.
func NewServer(
	logger *logrus.Entry,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	engine *pipeline.Engine,
	objects pipeline.ObjectStore,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	s, err := newServer(logger, workerCfg, engine, objects, webhookClient, jobStore, usageStore)
	if err != nil {
		return nil, err
	}

	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			IsFailure: func(err error) bool {
				return !domain.IsUserError(err)
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				s.logger.WithFields(logrus.Fields{
					"task":  task.Type(),
					"retry": fmt.Sprintf("%d/%d", retried, maxRetry),
				}).WithError(err).Warn("task failed")
			}),
		},
	)
	return s, nil
}

func newServer(
	logger *logrus.Entry,
	workerCfg config.WorkerConfig,
	engine *pipeline.Engine,
	objects pipeline.ObjectStore,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if engine == nil {
		return nil, errors.New("pipeline engine is required")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	localProcessor, err := pipeline.NewLocalProcessor(engine, workerCfg.LocalOutputDir)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	var objectProcessor *pipeline.Processor
	if objects != nil {
		objectProcessor, err = pipeline.NewProcessor(
			pipeline.ObjectStoreFetcher{Storage: objects},
			engine,
			pipeline.ObjectStoreEmitter{Storage: objects, OutputPrefix: workerCfg.OutputPrefix},
		)
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	return &Server{
		logger:          logger,
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("photoid/worker"),
	}, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessPhoto, s.handleProcessPhoto)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleProcessPhoto(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseProcessPhotoPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %w: %w", err, asynq.SkipRetry)
	}

	log := s.logger.WithFields(logrus.Fields{
		"job_id":      payload.JobID,
		"source_type": payload.SourceType,
		"preset":      payload.Options.Preset,
	})

	ctx, span := s.tracer.Start(ctx, "worker.process_photo", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("photo.preset", payload.Options.Preset),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	if s.alreadySucceeded(ctx, payload.JobID) {
		log.Info("job already succeeded, skipping redelivery")
		outcome = domain.JobStatusSucceeded
		return nil
	}

	log.WithField("object_key", payload.ObjectKey).Info("Working...")
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	result, err := s.process(ctx, payload)
	if err != nil {
		telemetry.Fail(span, err)
		s.failJob(ctx, payload, err)
		s.metrics.failuresTotal.WithLabelValues(failureReason(err)).Inc()
		log.WithError(err).Warn("job failed")
		if isPermanent(err) {
			return fmt.Errorf("render photo: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("render photo: %w", err)
	}

	log.WithFields(logrus.Fields{
		"outputs":  len(result.Outputs),
		"crop":     result.Rendered.Crop.String(),
		"fallback": result.Rendered.Fallback,
	}).Info("job processed")

	if s.jobStore != nil {
		if _, err := s.jobStore.Complete(ctx, payload.JobID, result.Outputs); err != nil {
			log.WithError(err).Error("job completion update failed")
		}
	}
	s.metrics.outputsTotal.Add(float64(len(result.Outputs)))
	if result.Rendered.Fallback != "" {
		s.metrics.fallbacksTotal.WithLabelValues(result.Rendered.Fallback).Inc()
	}
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, webhook.JobEvent{
		JobID:   payload.JobID,
		Status:  domain.JobStatusSucceeded,
		Preset:  result.Rendered.Preset,
		Crop:    result.Rendered.Crop.String(),
		Outputs: result.Outputs,
		SentAt:  time.Now().UTC(),
	}); err != nil {
		// Outputs are committed; rerunning the task would render and bill twice.
		span.AddEvent("webhook delivery failed")
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "processed")
	return nil
}

func (s *Server) process(ctx context.Context, payload queue.ProcessPhotoPayload) (pipeline.Result, error) {
	opts, err := payload.Options.Resolve()
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("resolve options: %w", err)
	}

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		Options:    opts,
	}

	switch strings.ToLower(payload.SourceType) {
	case domain.SourceTypeLocalFile:
		return s.localProcessor.Process(ctx, request)
	case domain.SourceTypeS3Presigned:
		if s.objectProcessor == nil {
			return pipeline.Result{}, fmt.Errorf("%w: object storage not configured", pipeline.ErrUnsupportedSourceType)
		}
		return s.objectProcessor.Process(ctx, request)
	default:
		return pipeline.Result{}, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, payload.SourceType)
	}
}

func (s *Server) alreadySucceeded(ctx context.Context, jobID string) bool {
	if s.jobStore == nil {
		return false
	}
	job, ok, err := s.jobStore.Get(ctx, jobID)
	if err != nil || !ok {
		return false
	}
	return job.Status == domain.JobStatusSucceeded
}

func (s *Server) failJob(ctx context.Context, payload queue.ProcessPhotoPayload, cause error) {
	if s.jobStore != nil {
		if _, err := s.jobStore.Fail(ctx, payload.JobID, cause.Error()); err != nil {
			s.logger.WithField("job_id", payload.JobID).WithError(err).Error("job failure update failed")
		}
	}
	_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, webhook.JobEvent{
		JobID:  payload.JobID,
		Status: domain.JobStatusFailed,
		Preset: payload.Options.Preset,
		Error:  cause.Error(),
		SentAt: time.Now().UTC(),
	})
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.WithFields(logrus.Fields{"job_id": jobID, "status": status}).WithError(err).Warn("job status update failed")
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ProcessPhotoPayload, event string, body webhook.JobEvent) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.WithFields(logrus.Fields{"job_id": payload.JobID, "event": event}).WithError(err).Warn("webhook delivery failed")
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ProcessPhotoPayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	userID := strings.TrimSpace(payload.UserID)
	if userID == "" {
		userID = "anonymous"
	}

	var outputBytes int64
	for _, output := range result.Outputs {
		outputBytes += int64(output.Bytes)
	}
	pixelsProcessed := int64(result.Rendered.Source.X) * int64(result.Rendered.Source.Y)

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          userID,
		JobID:           payload.JobID,
		Preset:          result.Rendered.Preset,
		PixelsProcessed: pixelsProcessed,
		OutputBytes:     outputBytes,
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.RecordUsage(ctx, usage); err != nil {
		s.logger.WithField("job_id", payload.JobID).WithError(err).Warn("usage log write failed")
		return
	}

	s.metrics.pixelsProcessedTotal.Add(float64(pixelsProcessed))
	s.metrics.outputBytesTotal.Add(float64(outputBytes))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))
}

// isPermanent reports whether err will recur on every attempt: bad input,
// bad options, or a source type this worker cannot read.
func isPermanent(err error) bool {
	return domain.IsUserError(err) ||
		errors.Is(err, imageio.ErrInvalidImage) ||
		errors.Is(err, imageio.ErrImageTooLarge) ||
		errors.Is(err, pipeline.ErrUnsupportedSourceType)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoFaceDetected):
		return "no_face"
	case errors.Is(err, domain.ErrImageTooSmall):
		return "too_small"
	case errors.Is(err, domain.ErrTooManyCopies):
		return "too_many_copies"
	case errors.Is(err, imageio.ErrInvalidImage), errors.Is(err, imageio.ErrImageTooLarge):
		return "invalid_image"
	case domain.IsUserError(err):
		return "invalid_options"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "internal"
	}
}
