package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MATTING_BACKEND", "")
	t.Setenv("GEOMETRY_INTEROCULAR_RATIO", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, "none", cfg.Matting.Backend)
	assert.Equal(t, 0.3, cfg.Geometry.InterocularRatio)
	assert.Equal(t, 15*time.Minute, cfg.API.PresignTTL)
	assert.GreaterOrEqual(t, cfg.Worker.MaxActiveJobs, 1)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PHOTOID_API_ADDR", ":9090")
	t.Setenv("GEOMETRY_INTEROCULAR_RATIO", "0.28")
	t.Setenv("MATTING_BACKEND", "rembg")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("RATE_LIMIT_ENABLED", "true")
	t.Setenv("FACE_MAX_DIMENSION", "not-a-number")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.API.Addr)
	assert.Equal(t, 0.28, cfg.Geometry.InterocularRatio)
	assert.Equal(t, "rembg", cfg.Matting.Backend)
	assert.Equal(t, 30*time.Second, cfg.RateLimit.Window)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 1200, cfg.Face.MaxDimension, "bad values fall back")
}

func TestStorageClientConfig(t *testing.T) {
	s := StorageConfig{Endpoint: "minio:9000", AccessKey: "a", SecretKey: "b", Bucket: "c", UseSSL: true}
	got := s.Client()
	assert.Equal(t, "minio:9000", got.Endpoint)
	assert.Equal(t, "a", got.Access)
	assert.Equal(t, "b", got.Secret)
	assert.Equal(t, "c", got.Bucket)
	assert.True(t, got.UseSSL)
}
