// Package matting separates the subject from its background. Every backend
// returns a matte: an alpha mask the size of the input where 255 keeps the
// pixel and 0 drops it.
package matting

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

const (
	BackendNone  = "none"
	BackendRembg = "rembg"
	BackendONNX  = "onnx"
)

var ErrBackendUnavailable = errors.New("matting backend unavailable in this build")

type Remover interface {
	RemoveBackground(ctx context.Context, img image.Image) (*image.Alpha, error)
}

type RemoverFunc func(ctx context.Context, img image.Image) (*image.Alpha, error)

func (f RemoverFunc) RemoveBackground(ctx context.Context, img image.Image) (*image.Alpha, error) {
	return f(ctx, img)
}

// Opaque keeps every pixel. Callers treat its nil matte as fully opaque.
type Opaque struct{}

func (Opaque) RemoveBackground(ctx context.Context, _ image.Image) (*image.Alpha, error) {
	return nil, ctx.Err()
}

type Config struct {
	Backend string

	RembgURL     string
	RembgTimeout time.Duration

	ModelPath   string
	LibraryPath string
	// Threshold hardens the ONNX probability map: values below it become 0.
	// 0 keeps the soft matte.
	Threshold float64
}

// New builds the configured backend. The ONNX backend is a process-wide
// singleton; the others are cheap values.
func New(cfg Config) (Remover, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return Opaque{}, nil
	case BackendRembg:
		return NewRembgClient(cfg.RembgURL, cfg.RembgTimeout)
	case BackendONNX:
		return DefaultU2Net(cfg)
	default:
		return nil, fmt.Errorf("unknown matting backend %q", cfg.Backend)
	}
}
