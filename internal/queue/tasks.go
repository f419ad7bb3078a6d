// Package queue carries photo jobs from the API to the worker over asynq.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/photoid/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeProcessPhoto = "photo:process"

type ProcessPhotoPayload struct {
	JobID       string              `json:"job_id"`
	UserID      string              `json:"user_id,omitempty"`
	SourceType  string              `json:"source_type"`
	WebhookURL  string              `json:"webhook_url,omitempty"`
	ObjectKey   string              `json:"object_key"`
	Options     domain.PhotoOptions `json:"options"`
	RequestedAt time.Time           `json:"requested_at"`
}

func PayloadForJob(job domain.Job) ProcessPhotoPayload {
	return ProcessPhotoPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		SourceType:  job.SourceType,
		WebhookURL:  job.WebhookURL,
		ObjectKey:   job.ObjectKey,
		Options:     job.Options,
		RequestedAt: time.Now().UTC(),
	}
}

func NewProcessPhotoTask(payload ProcessPhotoPayload) (*asynq.Task, error) {
	if strings.TrimSpace(payload.JobID) == "" {
		return nil, errors.New("process payload requires job_id")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal process payload: %w", err)
	}
	return asynq.NewTask(TypeProcessPhoto, body), nil
}

func ParseProcessPhotoPayload(task *asynq.Task) (ProcessPhotoPayload, error) {
	var payload ProcessPhotoPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessPhotoPayload{}, fmt.Errorf("unmarshal process payload: %w", err)
	}
	return payload, nil
}
