package geometry

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/photoid/internal/domain"
	"github.com/muesli/smartcrop"
)

// Fallback picks a crop for an image in which no face was found. The
// reject policy surfaces domain.ErrNoFaceDetected to the caller unchanged.
func Fallback(policy string, img image.Image, preset domain.PhotoPreset) (domain.CropRect, error) {
	switch policy {
	case domain.NoFaceCenter:
		size := img.Bounds().Size()
		return CenteredCrop(size, preset)
	case domain.NoFaceSmart:
		return SmartCrop(img, preset)
	default:
		return domain.CropRect{}, domain.ErrNoFaceDetected
	}
}

// SmartCrop lets smartcrop choose the most interesting preset-shaped region.
func SmartCrop(img image.Image, preset domain.PhotoPreset) (domain.CropRect, error) {
	if err := preset.Validate(); err != nil {
		return domain.CropRect{}, err
	}

	analyzer := smartcrop.NewAnalyzer(resizer{filter: imaging.Linear})
	best, err := analyzer.FindBestCrop(img, preset.Width, preset.Height)
	if err != nil {
		return domain.CropRect{}, fmt.Errorf("find best crop: %w", err)
	}

	bounds := img.Bounds()
	best = best.Sub(bounds.Min).Intersect(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	if best.Empty() {
		return CenteredCrop(bounds.Size(), preset)
	}

	rect, err := snap(float64(best.Min.X), float64(best.Min.Y), float64(best.Dy()), preset.AspectRatio(), bounds.Size())
	if err != nil {
		return domain.CropRect{}, err
	}
	rect.Scale = float64(preset.Height) / float64(rect.Height)
	return rect, nil
}

type resizer struct {
	filter imaging.ResampleFilter
}

func (r resizer) Resize(img image.Image, width, height uint) image.Image {
	return imaging.Resize(img, int(width), int(height), r.filter)
}
