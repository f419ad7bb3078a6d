package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	JobStatusCreated    = "created"
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusSucceeded  = "succeeded"
	JobStatusFailed     = "failed"

	SourceTypeLocalFile   = "local_file"
	SourceTypeS3Presigned = "s3_presigned"

	OutputPhoto   = "photo"
	OutputSheet   = "sheet"
	OutputPreview = "preview"
)

type CreateJobRequest struct {
	SourceType string       `json:"source_type" validate:"required,oneof=local_file s3_presigned"`
	WebhookURL string       `json:"webhook_url,omitempty" validate:"omitempty,url"`
	ObjectKey  string       `json:"object_key,omitempty"`
	Options    PhotoOptions `json:"options"`
}

// PhotoOptions is the wire form of a processing request. Resolve turns it
// into concrete presets.
type PhotoOptions struct {
	Preset     string `json:"preset,omitempty" validate:"omitempty,oneof=2x2in 35x45mm"`
	Background string `json:"background,omitempty" validate:"omitempty,oneof=white blue transparent"`
	Format     string `json:"format,omitempty" validate:"omitempty,oneof=png jpg jpeg"`
	NoFace     string `json:"no_face,omitempty" validate:"omitempty,oneof=reject center smart"`
	Sheet      string `json:"sheet,omitempty" validate:"omitempty,oneof=4x6in 5x7in 10x15cm"`
	Copies     int    `json:"copies,omitempty" validate:"gte=0,lte=64"`
	Preview    bool   `json:"preview,omitempty"`
	Adjustments
}

type ResolvedOptions struct {
	Preset     PhotoPreset
	Background Background
	Format     string
	NoFace     string
	Adjust     Adjustments
	Sheet      *SheetPreset
	Copies     int
	Preview    bool
}

func (o PhotoOptions) Resolve() (ResolvedOptions, error) {
	preset, err := LookupPreset(o.Preset)
	if err != nil {
		return ResolvedOptions{}, err
	}
	bg, err := ParseBackground(o.Background)
	if err != nil {
		return ResolvedOptions{}, err
	}
	format, err := NormalizeFormat(o.Format)
	if err != nil {
		return ResolvedOptions{}, err
	}
	if err := CheckBackgroundFormat(bg, format); err != nil {
		return ResolvedOptions{}, err
	}
	noFace, err := ParseNoFacePolicy(o.NoFace)
	if err != nil {
		return ResolvedOptions{}, err
	}
	if o.Copies < 0 {
		return ResolvedOptions{}, fmt.Errorf("%w: copies must not be negative, got %d", ErrInvalidOptions, o.Copies)
	}

	resolved := ResolvedOptions{
		Preset:     preset,
		Background: bg,
		Format:     format,
		NoFace:     noFace,
		Adjust:     o.Adjustments,
		Copies:     o.Copies,
		Preview:    o.Preview,
	}
	if strings.TrimSpace(o.Sheet) != "" || o.Copies > 0 {
		sheet, err := LookupSheet(o.Sheet)
		if err != nil {
			return ResolvedOptions{}, err
		}
		resolved.Sheet = &sheet
	}
	return resolved, nil
}

type Output struct {
	Kind    string `json:"kind"`
	Format  string `json:"format"`
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Success bool   `json:"success"`
}

type Job struct {
	ID         string
	UserID     string
	Status     string
	SourceType string
	WebhookURL string
	Options    PhotoOptions
	ObjectKey  string
	Outputs    []Output
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (r CreateJobRequest) Validate() error {
	sourceType := strings.ToLower(strings.TrimSpace(r.SourceType))
	if sourceType == "" {
		return errors.New("source_type is required")
	}
	if sourceType != SourceTypeLocalFile && sourceType != SourceTypeS3Presigned {
		return fmt.Errorf("unsupported source_type: %s", r.SourceType)
	}
	if sourceType == SourceTypeLocalFile && strings.TrimSpace(r.ObjectKey) == "" {
		return errors.New("object_key is required for source_type=local_file")
	}
	if _, err := r.Options.Resolve(); err != nil {
		return fmt.Errorf("options: %w", err)
	}
	return nil
}
