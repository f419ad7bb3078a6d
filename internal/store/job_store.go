// Package store persists photo jobs and their usage records.
package store

import (
	"context"
	"errors"

	"github.com/dunamismax/photoid/internal/domain"
)

var ErrJobNotFound = errors.New("job not found")

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	// Complete marks the job succeeded and records its outputs.
	Complete(ctx context.Context, id string, outputs []domain.Output) (domain.Job, error)
	// Fail marks the job failed with a user-facing message.
	Fail(ctx context.Context, id, message string) (domain.Job, error)
}

type UsageStore interface {
	RecordUsage(ctx context.Context, usage domain.UsageLog) error
}
