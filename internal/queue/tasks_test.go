package queue

import (
	"testing"
	"time"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessPhotoTaskCarriesOptions(t *testing.T) {
	job := domain.Job{
		ID:         "job-123",
		SourceType: domain.SourceTypeS3Presigned,
		ObjectKey:  "uploads/job-123/source",
		Options: domain.PhotoOptions{
			Preset:      domain.PresetEU35x45,
			Background:  "blue",
			Sheet:       domain.Sheet4x6,
			Copies:      4,
			Adjustments: domain.Adjustments{HeadScalePercent: -5, EyeNudge: 3},
		},
	}

	task, err := NewProcessPhotoTask(PayloadForJob(job))
	require.NoError(t, err)
	assert.Equal(t, TypeProcessPhoto, task.Type())

	parsed, err := ParseProcessPhotoPayload(task)
	require.NoError(t, err)
	assert.Equal(t, job.ID, parsed.JobID)
	assert.Equal(t, job.Options, parsed.Options)
	assert.WithinDuration(t, time.Now(), parsed.RequestedAt, time.Minute)
}

func TestNewProcessPhotoTaskRequiresJobID(t *testing.T) {
	_, err := NewProcessPhotoTask(ProcessPhotoPayload{})
	assert.Error(t, err)
}
