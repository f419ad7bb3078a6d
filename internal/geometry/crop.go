// Package geometry turns a detected face into a passport-compliant crop
// rectangle.
package geometry

import (
	"fmt"
	"image"
	"math"

	"github.com/dunamismax/photoid/internal/domain"
)

const (
	// DefaultInterocularRatio is interocular distance divided by chin-to-crown
	// face height. It is a calibration value, not an anthropometric law.
	DefaultInterocularRatio = 0.3

	crownAboveEyes = 0.45
	chinBelowEyes  = 0.55
	faceWidthRatio = 0.7

	// Portrait bias for the no-face fallback: share of free vertical space
	// left above the crop.
	centeredTopBias = 0.2
)

type Engine struct {
	InterocularRatio float64
}

func New(interocularRatio float64) Engine {
	if interocularRatio <= 0 || interocularRatio >= 1 {
		interocularRatio = DefaultInterocularRatio
	}
	return Engine{InterocularRatio: interocularRatio}
}

// ComputeCrop uses the default calibration.
func ComputeCrop(size image.Point, landmarks *domain.FaceLandmarks, preset domain.PhotoPreset) (domain.CropRect, error) {
	return New(DefaultInterocularRatio).ComputeCrop(size, landmarks, preset)
}

// ComputeCrop sizes and places a crop so the estimated head fills
// preset.HeadHeightRatio of the output and the eye line sits at
// preset.EyeLineRatio from the top. The result always lies inside size.
func (e Engine) ComputeCrop(size image.Point, landmarks *domain.FaceLandmarks, preset domain.PhotoPreset) (domain.CropRect, error) {
	if size.X <= 0 || size.Y <= 0 {
		return domain.CropRect{}, fmt.Errorf("invalid image size %dx%d", size.X, size.Y)
	}
	if err := preset.Validate(); err != nil {
		return domain.CropRect{}, err
	}
	if landmarks == nil {
		return domain.CropRect{}, domain.ErrNoFaceDetected
	}

	ratio := e.InterocularRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = DefaultInterocularRatio
	}

	iod := landmarks.InterocularDistance()
	if iod < 1 {
		return domain.CropRect{}, fmt.Errorf("%w: eyes %.2fpx apart", domain.ErrNoFaceDetected, iod)
	}
	eyes := landmarks.EyeMidpoint()
	faceHeight := iod / ratio

	imgW, imgH := float64(size.X), float64(size.Y)
	aspect := preset.AspectRatio()
	scale := preset.HeadHeightRatio * float64(preset.Height) / faceHeight
	cropH := float64(preset.Height) / scale
	cropW := cropH * aspect

	if cropW > imgW || cropH > imgH {
		fit := math.Min(imgW/cropW, imgH/cropH)
		effectiveHead := preset.HeadHeightRatio / fit
		if effectiveHead > preset.HeadCeiling()+1e-9 {
			return domain.CropRect{}, fmt.Errorf(
				"%w: need %.0fx%.0f crop from %dx%d image (head ratio %.3f > %.3f)",
				domain.ErrImageTooSmall, cropW, cropH, size.X, size.Y, effectiveHead, preset.HeadCeiling(),
			)
		}
		cropW *= fit
		cropH *= fit
	}

	x := clampFloat(eyes.X-cropW/2, 0, imgW-cropW)
	y := clampFloat(eyes.Y-preset.EyeLineRatio*cropH, 0, imgH-cropH)

	rect, err := snap(x, y, cropH, aspect, size)
	if err != nil {
		return domain.CropRect{}, err
	}
	rect.Scale = float64(preset.Height) / float64(rect.Height)

	face := faceRegion(eyes, faceHeight).Intersect(image.Rect(0, 0, size.X, size.Y))
	if !face.In(rect.Rect().Inset(-2)) {
		return domain.CropRect{}, fmt.Errorf(
			"%w: crop %s would clip face region %v", domain.ErrImageTooSmall, rect, face,
		)
	}
	return rect, nil
}

// CenteredCrop is the largest preset-shaped rectangle in size, centered
// horizontally and biased towards the top.
func CenteredCrop(size image.Point, preset domain.PhotoPreset) (domain.CropRect, error) {
	if size.X <= 0 || size.Y <= 0 {
		return domain.CropRect{}, fmt.Errorf("invalid image size %dx%d", size.X, size.Y)
	}
	if err := preset.Validate(); err != nil {
		return domain.CropRect{}, err
	}

	aspect := preset.AspectRatio()
	cropH := float64(size.Y)
	if cropH*aspect > float64(size.X) {
		cropH = float64(size.X) / aspect
	}
	cropW := cropH * aspect
	x := (float64(size.X) - cropW) / 2
	y := (float64(size.Y) - cropH) * centeredTopBias

	rect, err := snap(x, y, cropH, aspect, size)
	if err != nil {
		return domain.CropRect{}, err
	}
	rect.Scale = float64(preset.Height) / float64(rect.Height)
	return rect, nil
}

// snap rounds a float rectangle to whole pixels, keeping the aspect within
// one pixel and the rectangle inside size.
func snap(x, y, cropH, aspect float64, size image.Point) (domain.CropRect, error) {
	h := int(math.Round(cropH))
	if h > size.Y {
		h = size.Y
	}
	w := int(math.Round(float64(h) * aspect))
	if w > size.X {
		w = size.X
		h = min(size.Y, int(math.Round(float64(w)/aspect)))
	}
	if w < 1 || h < 1 {
		return domain.CropRect{}, fmt.Errorf("%w: crop collapses to %dx%d", domain.ErrImageTooSmall, w, h)
	}

	return domain.CropRect{
		X:      clampInt(int(math.Round(x)), 0, size.X-w),
		Y:      clampInt(int(math.Round(y)), 0, size.Y-h),
		Width:  w,
		Height: h,
	}, nil
}

func faceRegion(eyes domain.Point, faceHeight float64) image.Rectangle {
	halfW := faceHeight * faceWidthRatio / 2
	return image.Rect(
		int(math.Floor(eyes.X-halfW)),
		int(math.Floor(eyes.Y-crownAboveEyes*faceHeight)),
		int(math.Ceil(eyes.X+halfW)),
		int(math.Ceil(eyes.Y+chinBelowEyes*faceHeight)),
	)
}

func clampFloat(v, lo, hi float64) float64 {
	if hi < lo {
		return lo
	}
	return math.Max(lo, math.Min(v, hi))
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
