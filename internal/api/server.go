// Package api serves passport photos over HTTP: synchronous renders for
// small uploads and queued jobs for everything else.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/dunamismax/photoid/internal/geometry"
	"github.com/dunamismax/photoid/internal/id"
	"github.com/dunamismax/photoid/internal/pipeline"
	"github.com/dunamismax/photoid/internal/queue"
	"github.com/dunamismax/photoid/internal/ratelimit"
	"github.com/dunamismax/photoid/internal/storage"
	"github.com/dunamismax/photoid/internal/store"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// UserIDHeader identifies the caller for usage accounting and rate limiting.
const UserIDHeader = "X-Photoid-User"

type Server struct {
	logger      *logrus.Entry
	queueClient queueEnqueuer
	jobStore    store.JobStore
	storage     objectStorage
	renderer    renderer
	geometry    geometry.Engine
	validate    *validator.Validate
	rateLimiter ratelimit.Limiter
	presignTTL  time.Duration
	maxUpload   int64
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueProcessPhoto(ctx context.Context, payload queue.ProcessPhotoPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type renderer interface {
	Render(ctx context.Context, data []byte, opts domain.ResolvedOptions) (pipeline.Rendered, error)
}

// Options wires the server. Only Renderer and JobStore are required;
// without Queue the job routes answer 503.
type Options struct {
	Queue          queueEnqueuer
	JobStore       store.JobStore
	Storage        objectStorage
	Renderer       renderer
	Geometry       geometry.Engine
	RateLimiter    ratelimit.Limiter
	PresignTTL     time.Duration
	MaxUploadBytes int64
}

func NewServer(logger *logrus.Entry, opts Options) (*Server, error) {
	if opts.Renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if opts.JobStore == nil {
		return nil, errors.New("job store is required")
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Geometry.InterocularRatio == 0 {
		opts.Geometry = geometry.New(geometry.DefaultInterocularRatio)
	}

	s := &Server{
		logger:      logger,
		queueClient: opts.Queue,
		jobStore:    opts.JobStore,
		storage:     opts.Storage,
		renderer:    opts.Renderer,
		geometry:    opts.Geometry,
		validate:    validator.New(),
		rateLimiter: opts.RateLimiter,
		presignTTL:  opts.PresignTTL,
		maxUpload:   opts.MaxUploadBytes,
		metrics:     newMetrics(),
		tracer:      otel.Tracer("photoid/api"),
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.withTracing(s.metrics.withHTTPMetrics(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("GET /v1/presets", s.handlePresets)
	s.mux.HandleFunc("POST /v1/crops", s.handleCrop)
	s.mux.HandleFunc("POST /v1/photos", s.renderHandler(domain.OutputPhoto))
	s.mux.HandleFunc("POST /v1/sheets", s.renderHandler(domain.OutputSheet))
	s.mux.HandleFunc("POST /v1/previews", s.renderHandler(domain.OutputPreview))
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /v1/jobs/{id}/start", s.handleStartJob)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationError(err))
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	now := time.Now().UTC()
	jobID := id.New()
	sourceType := strings.ToLower(strings.TrimSpace(req.SourceType))
	objectKey := strings.TrimSpace(req.ObjectKey)
	uploadState := "not_required"
	presignedPutURL := ""

	if sourceType == domain.SourceTypeS3Presigned {
		objectKey = storage.SourceKey(jobID)
		url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
		if err != nil {
			s.logger.WithField("job_id", jobID).WithError(err).Error("generate presigned url failed")
			writeError(w, http.StatusInternalServerError, errors.New("failed to generate upload URL"))
			return
		}
		presignedPutURL = url
		uploadState = "ready"
	}

	job := domain.Job{
		ID:         jobID,
		UserID:     userID(r),
		Status:     domain.JobStatusCreated,
		SourceType: sourceType,
		WebhookURL: req.WebhookURL,
		Options:    req.Options,
		ObjectKey:  objectKey,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.WithField("job_id", job.ID).WithError(err).Error("create job failed")
		writeError(w, http.StatusInternalServerError, errors.New("failed to create job"))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":          job.ObjectKey,
			"presigned_put_url":   presignedPutURL,
			"presigned_url_state": uploadState,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%s/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("job queue is unavailable"))
		return
	}
	if job.Status != domain.JobStatusCreated && job.Status != domain.JobStatusFailed {
		writeError(w, http.StatusConflict, fmt.Errorf("job is already %s", job.Status))
		return
	}

	if err := s.verifySourceExists(r.Context(), job); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	taskInfo, err := s.queueClient.EnqueueProcessPhoto(r.Context(), queue.PayloadForJob(job))
	if err != nil {
		s.logger.WithField("job_id", job.ID).WithError(err).Error("enqueue failed")
		writeError(w, http.StatusInternalServerError, errors.New("failed to enqueue job"))
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusQueued); err != nil {
		s.logger.WithField("job_id", job.ID).WithError(err).Warn("update status failed")
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      domain.JobStatusQueued,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

type jobResponse struct {
	JobID      string              `json:"job_id"`
	Status     string              `json:"status"`
	SourceType string              `json:"source_type"`
	Options    domain.PhotoOptions `json:"options"`
	Outputs    []outputResponse    `json:"outputs"`
	Error      string              `json:"error,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type outputResponse struct {
	domain.Output
	DownloadURL string `json:"download_url,omitempty"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}

	resp := jobResponse{
		JobID:      job.ID,
		Status:     job.Status,
		SourceType: job.SourceType,
		Options:    job.Options,
		Outputs:    make([]outputResponse, 0, len(job.Outputs)),
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
	for _, out := range job.Outputs {
		item := outputResponse{Output: out}
		if job.SourceType == domain.SourceTypeS3Presigned {
			url, err := s.storage.PresignedGetURL(r.Context(), out.Path, s.presignTTL)
			if err != nil {
				s.logger.WithField("job_id", job.ID).WithError(err).Warn("presign download failed")
			} else {
				item.DownloadURL = url
			}
		}
		resp.Outputs = append(resp.Outputs, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (domain.Job, bool) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, errors.New("invalid job id"))
		return domain.Job{}, false
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String(attrJobID, jobID))

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.WithField("job_id", jobID).WithError(err).Error("fetch job failed")
		writeError(w, http.StatusInternalServerError, errors.New("failed to load job"))
		return domain.Job{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, store.ErrJobNotFound)
		return domain.Job{}, false
	}
	return job, true
}

func (s *Server) verifySourceExists(ctx context.Context, job domain.Job) error {
	switch job.SourceType {
	case domain.SourceTypeLocalFile:
		if _, err := os.Stat(job.ObjectKey); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("source object is missing: %s", job.ObjectKey)
			}
			return fmt.Errorf("source object check failed: %w", err)
		}
		return nil
	default:
		exists, err := s.storage.ObjectExists(ctx, job.ObjectKey)
		if err != nil {
			return fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return fmt.Errorf("source object is missing: %s", job.ObjectKey)
		}
		return nil
	}
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserIDHeader))
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
