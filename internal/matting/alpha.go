package matting

import (
	"image"
	"image/draw"

	"github.com/disintegration/imaging"
)

// AlphaOf extracts the alpha channel of img into an origin-anchored mask.
func AlphaOf(img image.Image) *image.Alpha {
	b := img.Bounds()
	out := image.NewAlpha(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}

// FitAlpha rescales a matte to size. Backends that work at a fixed
// resolution use it to map their mask back onto the source.
func FitAlpha(a *image.Alpha, size image.Point) *image.Alpha {
	if a.Bounds().Size() == size {
		return a
	}
	scaled := imaging.Resize(a, size.X, size.Y, imaging.Lanczos)
	return AlphaOf(scaled)
}
