package store

import (
	"context"
	"testing"
	"time"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ JobStore   = (*MemoryJobStore)(nil)
	_ UsageStore = (*MemoryJobStore)(nil)
	_ JobStore   = (*PostgresJobStore)(nil)
	_ UsageStore = (*PostgresJobStore)(nil)
)

func TestMemoryJobStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.Create(ctx, domain.Job{
		ID:         "job-1",
		Status:     domain.JobStatusCreated,
		SourceType: domain.SourceTypeLocalFile,
		Options:    domain.PhotoOptions{Preset: domain.PresetEU35x45},
		CreatedAt:  created,
		UpdatedAt:  created,
	}))

	job, err := s.UpdateStatus(ctx, "job-1", domain.JobStatusQueued)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.True(t, job.UpdatedAt.After(created))

	outputs := []domain.Output{{Kind: domain.OutputPhoto, Format: "png", Path: "a.png", Success: true}}
	job, err = s.Complete(ctx, "job-1", outputs)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSucceeded, job.Status)
	assert.Equal(t, outputs, job.Outputs)

	outputs[0].Path = "mutated"
	stored, ok, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a.png", stored.Outputs[0].Path, "store keeps its own copy")
	assert.Equal(t, domain.PresetEU35x45, stored.Options.Preset)
}

func TestMemoryJobStoreFailAndMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryJobStore()
	require.NoError(t, s.Create(ctx, domain.Job{ID: "job-2", Status: domain.JobStatusProcessing}))

	job, err := s.Fail(ctx, "job-2", "no face detected")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "no face detected", job.Error)

	_, err = s.UpdateStatus(ctx, "missing", domain.JobStatusQueued)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryJobStoreUsage(t *testing.T) {
	s := NewMemoryJobStore()
	require.NoError(t, s.RecordUsage(context.Background(), domain.UsageLog{JobID: "job-3", Preset: "2x2in", OutputBytes: 10}))

	usage := s.Usage()
	require.Len(t, usage, 1)
	assert.Equal(t, "job-3", usage[0].JobID)
	assert.False(t, usage[0].CreatedAt.IsZero())
}

func TestMemoryJobStoreHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewMemoryJobStore().Create(ctx, domain.Job{ID: "x"}), context.Canceled)
}
