package compose

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/dunamismax/photoid/internal/domain"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const guideStroke = 3

var (
	CropGuideColor = color.RGBA{R: 0, G: 200, B: 255, A: 255}
	EyeGuideColor  = color.RGBA{R: 255, G: 80, B: 80, A: 255}
)

// DrawGuides returns a copy of src with the crop outline, the target eye line
// and a preset label drawn on top. It is a review aid; the crop itself is not
// applied.
func DrawGuides(src image.Image, crop domain.CropRect, preset domain.PhotoPreset) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	box := crop.Rect().Intersect(dst.Bounds())
	if box.Empty() {
		return dst
	}
	strokeRect(dst, box, CropGuideColor)

	eyeY := crop.Y + int(math.Round(preset.EyeLineRatio*float64(crop.Height)))
	fillRect(dst, image.Rect(box.Min.X, eyeY-guideStroke/2, box.Max.X, eyeY-guideStroke/2+guideStroke), EyeGuideColor)

	drawLabel(dst, box, preset.Name+" "+crop.String())
	return dst
}

func strokeRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	s := min(guideStroke, r.Dx()/2, r.Dy()/2)
	if s < 1 {
		s = 1
	}
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+s), c)
	fillRect(dst, image.Rect(r.Min.X, r.Max.Y-s, r.Max.X, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Min.X, r.Min.Y, r.Min.X+s, r.Max.Y), c)
	fillRect(dst, image.Rect(r.Max.X-s, r.Min.Y, r.Max.X, r.Max.Y), c)
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	r = r.Intersect(dst.Bounds())
	if r.Empty() {
		return
	}
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func drawLabel(dst *image.RGBA, box image.Rectangle, text string) {
	const pad = 6

	face := basicfont.Face7x13
	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	height := metrics.Height.Ceil()

	drawer := &font.Drawer{
		Dst:  dst,
		Face: face,
		Src:  image.NewUniform(CropGuideColor),
	}
	width := drawer.MeasureString(text).Ceil()
	if width+2*pad > box.Dx() || height+2*pad > box.Dy() {
		return
	}

	x := box.Min.X + guideStroke + pad
	baseline := box.Min.Y + guideStroke + pad + ascent
	drawer.Dot = fixed.P(x, baseline)
	drawer.DrawString(text)
}
