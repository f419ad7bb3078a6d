// Package compose renders the finished passport photo: crop, resample and
// paste the matted subject onto the chosen background.
package compose

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/dunamismax/photoid/internal/domain"
)

// Resampler scales an image to exactly width x height.
type Resampler interface {
	Resize(img *image.NRGBA, width, height int) (*image.NRGBA, error)
}

type Compositor struct {
	resampler Resampler
}

// New returns a compositor backed by the build's default resampler
// (libvips with the govips tag, imaging otherwise).
func New() *Compositor {
	return &Compositor{resampler: newResampler()}
}

func NewWithResampler(r Resampler) *Compositor {
	if r == nil {
		r = ImagingResampler{Filter: imaging.Lanczos}
	}
	return &Compositor{resampler: r}
}

// Compose crops src and matte to crop, scales the cutout to the preset's
// exact pixel size and composites it over bg. A nil matte is treated as fully
// opaque.
func (c *Compositor) Compose(src image.Image, matte *image.Alpha, crop domain.CropRect, preset domain.PhotoPreset, bg domain.Background) (*image.NRGBA, error) {
	if err := preset.Validate(); err != nil {
		return nil, err
	}
	fill, solid := bg.Color()
	if !solid && bg != domain.BackgroundTransparent {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedBackground, bg)
	}

	bounds := src.Bounds()
	region := crop.Rect().Add(bounds.Min)
	if region.Empty() || !region.In(bounds) {
		return nil, fmt.Errorf("crop %s outside image bounds %v", crop, bounds)
	}
	if matte != nil && matte.Bounds().Size() != bounds.Size() {
		return nil, fmt.Errorf("matte %v does not match image %v", matte.Bounds().Size(), bounds.Size())
	}

	cutout := Cutout(src, matte, region)
	scaled, err := c.resampler.Resize(cutout, preset.Width, preset.Height)
	if err != nil {
		return nil, fmt.Errorf("resample cutout: %w", err)
	}
	if scaled.Bounds().Dx() != preset.Width || scaled.Bounds().Dy() != preset.Height {
		return nil, fmt.Errorf("resampler returned %v, want %dx%d", scaled.Bounds().Size(), preset.Width, preset.Height)
	}
	if !solid {
		return scaled, nil
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, preset.Width, preset.Height))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), scaled, scaled.Bounds().Min, draw.Over)
	return canvas, nil
}

// Cutout copies region of src into a new NRGBA anchored at the origin with
// the matte folded into its alpha channel.
func Cutout(src image.Image, matte *image.Alpha, region image.Rectangle) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(out, out.Bounds(), src, region.Min, draw.Src)
	if matte == nil {
		return out
	}

	offset := matte.Bounds().Min.Sub(src.Bounds().Min)
	for y := 0; y < out.Rect.Dy(); y++ {
		row := out.Pix[y*out.Stride : y*out.Stride+out.Rect.Dx()*4]
		my := region.Min.Y + offset.Y + y
		for x := 0; x < out.Rect.Dx(); x++ {
			m := matte.AlphaAt(region.Min.X+offset.X+x, my).A
			a := &row[x*4+3]
			*a = uint8(uint16(*a) * uint16(m) / 255)
		}
	}
	return out
}

type ImagingResampler struct {
	Filter imaging.ResampleFilter
}

func (r ImagingResampler) Resize(img *image.NRGBA, width, height int) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.New("resize requires positive dimensions")
	}
	if img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return imaging.Clone(img), nil
	}
	return imaging.Resize(img, width, height, r.Filter), nil
}
