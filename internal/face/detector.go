// Package face locates a single face and its eye centers in a photo.
package face

import (
	"context"
	"image"

	"github.com/dunamismax/photoid/internal/domain"
)

// Detector reports the most prominent face in img. It returns
// domain.ErrNoFaceDetected when there is none.
type Detector interface {
	DetectFace(ctx context.Context, img image.Image) (*domain.FaceLandmarks, error)
}

// DetectorFunc adapts a plain function to Detector.
type DetectorFunc func(ctx context.Context, img image.Image) (*domain.FaceLandmarks, error)

func (f DetectorFunc) DetectFace(ctx context.Context, img image.Image) (*domain.FaceLandmarks, error) {
	return f(ctx, img)
}
