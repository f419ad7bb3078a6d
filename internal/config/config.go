package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/photoid/internal/face"
	"github.com/dunamismax/photoid/internal/logging"
	"github.com/dunamismax/photoid/internal/matting"
	"github.com/dunamismax/photoid/internal/storage"
	"github.com/dunamismax/photoid/internal/telemetry"
	"github.com/dunamismax/photoid/internal/webhook"
	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Face      face.Config
	Matting   matting.Config
	Geometry  GeometryConfig
	Log       logging.Config
	Trace     telemetry.TraceConfig
	RateLimit RateLimitConfig
	Webhook   webhook.Config
}

type APIConfig struct {
	Addr           string
	PresignTTL     time.Duration
	MaxUploadBytes int64
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	OutputPrefix   string
	MaxRetry       int
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (s StorageConfig) Client() storage.Config {
	return storage.Config{
		Endpoint: s.Endpoint,
		Access:   s.AccessKey,
		Secret:   s.SecretKey,
		Bucket:   s.Bucket,
		UseSSL:   s.UseSSL,
	}
}

type DatabaseConfig struct {
	// DSN selects Postgres. Empty keeps jobs in memory.
	DSN string
}

type GeometryConfig struct {
	InterocularRatio float64
}

type RateLimitConfig struct {
	Enabled  bool
	Capacity int
	Window   time.Duration
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)
	faceDefaults := face.DefaultConfig()

	return Config{
		API: APIConfig{
			Addr:           env("PHOTOID_API_ADDR", ":8080"),
			PresignTTL:     envDuration("PHOTOID_PRESIGN_TTL", 15*time.Minute),
			MaxUploadBytes: int64(envInt("PHOTOID_MAX_UPLOAD_BYTES", 32<<20)),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.photoid-output"),
			OutputPrefix:   env("WORKER_OUTPUT_PREFIX", "outputs"),
			MaxRetry:       envInt("WORKER_MAX_RETRY", 3),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "photoid-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Face: face.Config{
			CascadeDir:   env("FACE_CASCADE_DIR", faceDefaults.CascadeDir),
			MinQuality:   envFloat("FACE_MIN_QUALITY", faceDefaults.MinQuality),
			MaxDimension: envInt("FACE_MAX_DIMENSION", faceDefaults.MaxDimension),
			MinSizeRatio: envFloat("FACE_MIN_SIZE_RATIO", faceDefaults.MinSizeRatio),
			MaxSizeRatio: envFloat("FACE_MAX_SIZE_RATIO", faceDefaults.MaxSizeRatio),
			ShiftFactor:  envFloat("FACE_SHIFT_FACTOR", faceDefaults.ShiftFactor),
			ScaleFactor:  envFloat("FACE_SCALE_FACTOR", faceDefaults.ScaleFactor),
		},
		Matting: matting.Config{
			Backend:      env("MATTING_BACKEND", matting.BackendNone),
			RembgURL:     env("MATTING_REMBG_URL", "http://localhost:7000"),
			RembgTimeout: envDuration("MATTING_REMBG_TIMEOUT", 60*time.Second),
			ModelPath:    env("MATTING_ONNX_MODEL", "./models/u2net.onnx"),
			LibraryPath:  env("MATTING_ONNX_LIBRARY", ""),
			Threshold:    envFloat("MATTING_THRESHOLD", 0),
		},
		Geometry: GeometryConfig{
			InterocularRatio: envFloat("GEOMETRY_INTEROCULAR_RATIO", 0.3),
		},
		Log: logging.Config{
			Level:   env("LOG_LEVEL", "info"),
			NoColor: envBool("LOG_NO_COLOR", false),
			File:    env("LOG_FILE", ""),
			Caller:  envBool("LOG_CALLER", false),
		},
		Trace: telemetry.TraceConfig{
			ServiceName:  env("OTEL_SERVICE_NAME", "photoid"),
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		},
		RateLimit: RateLimitConfig{
			Enabled:  envBool("RATE_LIMIT_ENABLED", false),
			Capacity: envInt("RATE_LIMIT_CAPACITY", 30),
			Window:   envDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Webhook: webhook.Config{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
